// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package shaderc

/*
#include <stdlib.h>
#include <stddef.h>

typedef void* (*compiler_initialize_fn)(void);
typedef void (*compiler_release_fn)(void*);
typedef void* (*compile_into_spv_fn)(void*, const char*, size_t, int, const char*, const char*, void*);
typedef const char* (*result_get_bytes_fn)(void*);
typedef size_t (*result_get_length_fn)(void*);
typedef int (*result_get_compilation_status_fn)(void*);
typedef const char* (*result_get_error_message_fn)(void*);
typedef size_t (*result_get_num_errors_fn)(void*);
typedef void (*result_release_fn)(void*);

static void* call_compiler_initialize(void* f) {
	return ((compiler_initialize_fn)f)();
}
static void call_compiler_release(void* f, void* c) {
	((compiler_release_fn)f)(c);
}
static void* call_compile_into_spv(void* f, void* c, const char* src, size_t len, int kind, const char* name, const char* entry) {
	return ((compile_into_spv_fn)f)(c, src, len, kind, name, entry, NULL);
}
static const char* call_result_get_bytes(void* f, void* r) {
	return ((result_get_bytes_fn)f)(r);
}
static size_t call_result_get_length(void* f, void* r) {
	return ((result_get_length_fn)f)(r);
}
static int call_result_get_compilation_status(void* f, void* r) {
	return ((result_get_compilation_status_fn)f)(r);
}
static const char* call_result_get_error_message(void* f, void* r) {
	return ((result_get_error_message_fn)f)(r);
}
static size_t call_result_get_num_errors(void* f, void* r) {
	return ((result_get_num_errors_fn)f)(r);
}
static void call_result_release(void* f, void* r) {
	((result_release_fn)f)(r);
}
*/
import "C"
import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/base/dynlib"
)

type procs struct {
	compilerInitialize         unsafe.Pointer
	compilerRelease            unsafe.Pointer
	compileIntoSPV             unsafe.Pointer
	resultGetBytes             unsafe.Pointer
	resultGetLength            unsafe.Pointer
	resultGetCompilationStatus unsafe.Pointer
	resultGetErrorMessage      unsafe.Pointer
	resultGetNumErrors         unsafe.Pointer
	resultRelease              unsafe.Pointer
}

// Compiler is a shaderc compiler instance.
type Compiler struct {
	// mu serializes calls into the library.
	mu       sync.Mutex
	lib      *dynlib.Library
	procs    procs
	compiler unsafe.Pointer
}

// Open loads the shaderc library and initializes a compiler.
// Every entry point must resolve; a missing one is an error.
func Open(library string) (*Compiler, error) {
	if library == "" {
		library = DefaultLibrary
	}
	lib, err := dynlib.Open(library)
	if err != nil {
		return nil, fmt.Errorf("shaderc: %w", err)
	}
	ptrs := make([]unsafe.Pointer, len(procNames))
	for i, name := range procNames {
		p, err := lib.Symbol(name)
		if err != nil {
			errors.Log(lib.Close())
			return nil, fmt.Errorf("shaderc: %w", err)
		}
		ptrs[i] = p
	}
	c := &Compiler{lib: lib}
	c.procs = procs{
		compilerInitialize:         ptrs[0],
		compilerRelease:            ptrs[1],
		compileIntoSPV:             ptrs[2],
		resultGetBytes:             ptrs[3],
		resultGetLength:            ptrs[4],
		resultGetCompilationStatus: ptrs[5],
		resultGetErrorMessage:      ptrs[6],
		resultGetNumErrors:         ptrs[7],
		resultRelease:              ptrs[8],
	}
	c.compiler = C.call_compiler_initialize(c.procs.compilerInitialize)
	if c.compiler == nil {
		errors.Log(lib.Close())
		return nil, fmt.Errorf("shaderc: compiler initialization failed")
	}
	slog.Debug("shaderc: compiler initialized", "library", library)
	return c, nil
}

// Compile compiles GLSL source for the given stage to SPIR-V. The name
// is used in diagnostics. Failures are returned as a [*CompileError].
func (c *Compiler) Compile(src []byte, stage Stage, name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compiler == nil {
		return nil, ErrUnavailable
	}

	csrc := C.CBytes(src)
	defer C.free(csrc)
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	centry := C.CString("main")
	defer C.free(unsafe.Pointer(centry))

	res := C.call_compile_into_spv(c.procs.compileIntoSPV, c.compiler,
		(*C.char)(csrc), C.size_t(len(src)), C.int(stage), cname, centry)
	if res == nil {
		return nil, &CompileError{Name: name, Stage: stage, Status: NullResultObject}
	}
	defer C.call_result_release(c.procs.resultRelease, res)

	status := Status(C.call_result_get_compilation_status(c.procs.resultGetCompilationStatus, res))
	if status != Success {
		return nil, &CompileError{
			Name:        name,
			Stage:       stage,
			Status:      status,
			Errors:      int(C.call_result_get_num_errors(c.procs.resultGetNumErrors, res)),
			Diagnostics: C.GoString(C.call_result_get_error_message(c.procs.resultGetErrorMessage, res)),
		}
	}
	n := C.call_result_get_length(c.procs.resultGetLength, res)
	bytes := C.call_result_get_bytes(c.procs.resultGetBytes, res)
	return C.GoBytes(unsafe.Pointer(bytes), C.int(n)), nil
}

// Close releases the compiler and closes the library.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compiler == nil {
		return nil
	}
	C.call_compiler_release(c.procs.compilerRelease, c.compiler)
	c.compiler = nil
	return c.lib.Close()
}
