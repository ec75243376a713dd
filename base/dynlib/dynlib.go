// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dynlib opens shared libraries at runtime and resolves
// symbols from them, using the platform dynamic linker.
package dynlib

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrUnsupported is returned by [Open] when the binary was built
// without cgo or for a platform without a dynamic linker.
var ErrUnsupported = errors.New("dynlib: dynamic loading is not supported in this build")

// OpenError is returned when the dynamic linker cannot open a library.
type OpenError struct {
	Path string

	// Msg is the message reported by the dynamic linker.
	Msg string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("dynlib: open %s: %s", e.Path, e.Msg)
}

// SymbolError is returned when a symbol cannot be resolved.
type SymbolError struct {
	Path string
	Name string

	// Msg is the message reported by the dynamic linker.
	Msg string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("dynlib: symbol %s in %s: %s", e.Name, e.Path, e.Msg)
}

// Library is an open shared library.
type Library struct {
	path   string
	handle unsafe.Pointer
}

// Path returns the path the library was opened from.
func (lb *Library) Path() string {
	return lb.path
}

// MustSymbol returns the named symbol, panicking if it is missing.
func (lb *Library) MustSymbol(name string) unsafe.Pointer {
	p, err := lb.Symbol(name)
	if err != nil {
		panic(err)
	}
	return p
}

// noMessage is used when the linker does not describe its failure.
const noMessage = "(no error description provided)"
