// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline manages graphics pipelines built from shader sources,
// rebuilding them when their sources change and publishing the new
// pipeline without destroying objects that in-flight frames still use.
//
// Every pipeline is a [Slot] of an [Engine]. A slot is first built from
// prebuilt SPIR-V with [Engine.InitFromPrebuilt]; after
// [Engine.EnableHotReload] its GLSL sources are watched, and
// [Engine.OnFrame] recompiles and rebuilds it when they change. Replaced
// objects are retired at the current frame and destroyed once
// MaxFramesInFlight further frames have begun.
package pipeline

import (
	"fmt"

	"github.com/lefp/particle-sim-sub000/filewatch"
	"github.com/lefp/particle-sim-sub000/shaderc"
)

// Handle is an opaque GPU object handle. The zero Handle is null.
type Handle uintptr

// Device creates and destroys the GPU objects owned by the engine.
type Device interface {
	CreateShaderModule(spirv []byte) (Handle, error)
	DestroyShaderModule(h Handle)
	DestroyPipeline(h Handle)
	DestroyPipelineLayout(h Handle)
}

// BuildInfo is passed to a [CreateFunc].
type BuildInfo struct {

	// Name is the slot name.
	Name string

	VertexModule   Handle
	FragmentModule Handle

	RenderPass          Handle
	Subpass             uint32
	DescriptorSetLayout Handle
}

// CreateFunc builds a pipeline and its layout from shader modules.
type CreateFunc func(dev Device, info *BuildInfo) (pipeline, layout Handle, err error)

// Compiler compiles shader source to SPIR-V; [*shaderc.Compiler]
// is the standard implementation.
type Compiler interface {
	Compile(src []byte, stage shaderc.Stage, name string) ([]byte, error)
}

// Watcher is the subset of [filewatch.Watchlist] used for hot reload.
type Watcher interface {
	Add(path string) (filewatch.ID, error)
	Remove(id filewatch.ID) error
	Poll(out []filewatch.ID) (int, error)
}

// Shader stages of a slot.
const (
	VertexStage = iota
	FragmentStage
	numStages
)

var stages = [numStages]shaderc.Stage{shaderc.Vertex, shaderc.Fragment}

// Desc describes one pipeline.
type Desc struct {
	Name string

	// Sources are the GLSL source paths, by stage.
	Sources [numStages]string

	// SPIRV are the prebuilt SPIR-V paths, by stage.
	SPIRV [numStages]string

	Create CreateFunc

	RenderPass          Handle
	Subpass             uint32
	DescriptorSetLayout Handle
}

// CreationError is returned when the device or the [CreateFunc] fails
// to create an object of a pipeline.
type CreationError struct {
	Pipeline string
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pipeline: creating %s: %v", e.Pipeline, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Slot is one named pipeline managed by an [Engine].
type Slot struct {
	Desc Desc

	// Pipeline and Layout are the live objects; both are null
	// before the first build.
	Pipeline Handle
	Layout   Handle

	// Modules are the shader modules of the live pipeline, by stage.
	Modules [numStages]Handle

	// PublishedFrame is the frame at which the live pipeline was published.
	PublishedFrame uint64

	// Rebuilds counts successful rebuilds after the initial build.
	Rebuilds int

	// LastReloadFailed is set when a rebuild fails and cleared by the
	// next successful one.
	LastReloadFailed bool

	// Diagnostic is the message of the last failed rebuild.
	Diagnostic string

	index   int
	watches [numStages]filewatch.ID
	watched bool
	pending bool
}

// Built reports whether the slot has a live pipeline.
func (s *Slot) Built() bool {
	return s.Pipeline != 0
}

func (s *Slot) buildInfo(vs, fs Handle) *BuildInfo {
	return &BuildInfo{
		Name:                s.Desc.Name,
		VertexModule:        vs,
		FragmentModule:      fs,
		RenderPass:          s.Desc.RenderPass,
		Subpass:             s.Desc.Subpass,
		DescriptorSetLayout: s.Desc.DescriptorSetLayout,
	}
}
