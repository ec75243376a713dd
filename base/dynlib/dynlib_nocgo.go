// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !((linux && cgo) || (darwin && cgo) || (freebsd && cgo))

package dynlib

import "unsafe"

// Open returns [ErrUnsupported] in builds without cgo.
func Open(path string) (*Library, error) {
	return nil, ErrUnsupported
}

// Symbol returns [ErrUnsupported] in builds without cgo.
func (lb *Library) Symbol(name string) (unsafe.Pointer, error) {
	return nil, ErrUnsupported
}

// Close is a no-op in builds without cgo.
func (lb *Library) Close() error {
	return nil
}
