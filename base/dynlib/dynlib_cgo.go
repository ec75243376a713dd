// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package dynlib

/*
#cgo linux LDFLAGS: -ldl
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>

// dlerror is per thread, so each call reads it on the thread that
// failed and hands back a copy the caller frees.
static char* dynlib_error(void) {
	const char* msg = dlerror();
	return msg == NULL ? NULL : strdup(msg);
}

static void* dynlib_open(const char* path, char** err) {
	void* h = dlopen(path, RTLD_NOW | RTLD_LOCAL);
	if (h == NULL) *err = dynlib_error();
	return h;
}

static void* dynlib_sym(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	if (p == NULL) *err = dynlib_error();
	return p;
}

static int dynlib_close(void* h, char** err) {
	int r = dlclose(h);
	if (r != 0) *err = dynlib_error();
	return r;
}
*/
import "C"
import "unsafe"

// takeError converts and frees a message returned by the C helpers.
func takeError(msg *C.char) string {
	if msg == nil {
		return noMessage
	}
	defer C.free(unsafe.Pointer(msg))
	return C.GoString(msg)
}

// Open opens the shared library at the given path, resolving all
// symbols immediately and keeping them local to the library.
func Open(path string) (*Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var msg *C.char
	handle := C.dynlib_open(cpath, &msg)
	if handle == nil {
		return nil, &OpenError{Path: path, Msg: takeError(msg)}
	}
	return &Library{path: path, handle: handle}, nil
}

// Symbol returns the address of the named symbol.
func (lb *Library) Symbol(name string) (unsafe.Pointer, error) {
	if lb.handle == nil {
		return nil, &SymbolError{Path: lb.path, Name: name, Msg: "library is closed"}
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var msg *C.char
	p := C.dynlib_sym(lb.handle, cname, &msg)
	if p == nil {
		return nil, &SymbolError{Path: lb.path, Name: name, Msg: takeError(msg)}
	}
	return p, nil
}

// Close closes the library. Symbols resolved from it must not be
// used afterwards.
func (lb *Library) Close() error {
	if lb.handle == nil {
		return nil
	}
	var msg *C.char
	if C.dynlib_close(lb.handle, &msg) != 0 {
		return &OpenError{Path: lb.path, Msg: "dlclose: " + takeError(msg)}
	}
	lb.handle = nil
	return nil
}
