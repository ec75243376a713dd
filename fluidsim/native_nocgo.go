// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !((linux && cgo) || (darwin && cgo) || (freebsd && cgo))

package fluidsim

import (
	"errors"
	"unsafe"
)

func bindNative(symbols map[string]unsafe.Pointer) (any, error) {
	return nil, errors.New("fluidsim: native plugins are not supported in this build")
}
