// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shaderc compiles GLSL shader sources to SPIR-V at runtime
// using the shaderc shared library, which is loaded dynamically
// by [Open]. A [Compiler] may be used from any goroutine.
package shaderc

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultLibrary is the shaderc library file name opened by default.
const DefaultLibrary = "libshaderc_shared.so"

// ErrUnavailable is returned when the binary was built without
// dynamic loading support or the compiler has been closed.
var ErrUnavailable = errors.New("shaderc: compiler unavailable")

// Stage is a shader pipeline stage.
type Stage int32

// These values match shaderc_shader_kind.
const (
	Vertex   Stage = 0
	Fragment Stage = 1
	Compute  Stage = 2
)

func (s Stage) String() string {
	switch s {
	case Vertex:
		return "vertex"
	case Fragment:
		return "fragment"
	case Compute:
		return "compute"
	}
	return fmt.Sprintf("Stage(%d)", int32(s))
}

// StageFromPath returns the stage for a source file based on its
// extension: .vert, .frag or .comp.
func StageFromPath(path string) (Stage, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vert":
		return Vertex, nil
	case ".frag":
		return Fragment, nil
	case ".comp":
		return Compute, nil
	}
	return 0, fmt.Errorf("shaderc: cannot determine shader stage of %q", path)
}

// Status is a compilation status.
type Status int32

// These values match shaderc_compilation_status.
const (
	Success Status = iota
	InvalidStage
	CompilationError
	InternalError
	NullResultObject
	InvalidAssembly
	ValidationError
	TransformationError
	ConfigurationError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case InvalidStage:
		return "invalid stage"
	case CompilationError:
		return "compilation error"
	case InternalError:
		return "internal error"
	case NullResultObject:
		return "null result object"
	case InvalidAssembly:
		return "invalid assembly"
	case ValidationError:
		return "validation error"
	case TransformationError:
		return "transformation error"
	case ConfigurationError:
		return "configuration error"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// CompileError is returned when a shader fails to compile.
type CompileError struct {
	Name   string
	Stage  Stage
	Status Status

	// Errors is the number of errors reported by the compiler.
	Errors int

	// Diagnostics is the compiler's human-readable message.
	Diagnostics string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("shaderc: %s shader %s: %s", e.Stage, e.Name, e.Status)
	if e.Diagnostics != "" {
		msg += ":\n" + strings.TrimRight(e.Diagnostics, "\n")
	}
	return msg
}

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic = 0x07230203

// procNames are the library entry points resolved by [Open].
var procNames = []string{
	"shaderc_compiler_initialize",
	"shaderc_compiler_release",
	"shaderc_compile_into_spv",
	"shaderc_result_get_bytes",
	"shaderc_result_get_length",
	"shaderc_result_get_compilation_status",
	"shaderc_result_get_error_message",
	"shaderc_result_get_num_errors",
	"shaderc_result_release",
}
