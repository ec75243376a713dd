// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !((linux && cgo) || (darwin && cgo) || (freebsd && cgo))

package shaderc

// Compiler is a shaderc compiler instance.
// Dynamic loading is not available in this build.
type Compiler struct{}

// Open always returns [ErrUnavailable] in this build.
func Open(library string) (*Compiler, error) {
	return nil, ErrUnavailable
}

func (c *Compiler) Compile(src []byte, stage Stage, name string) ([]byte, error) {
	return nil, ErrUnavailable
}

func (c *Compiler) Close() error {
	return nil
}
