// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !((linux && cgo) || (darwin && cgo) || (freebsd && cgo))

package vgpu

import "github.com/lefp/particle-sim-sub000/pipeline"

// Device is not available in this build.
type Device struct{}

// Open returns [ErrUnsupported].
func Open(opts Options) (*Device, error) {
	return nil, ErrUnsupported
}

func (dv *Device) CreateShaderModule(spirv []byte) (pipeline.Handle, error) {
	return 0, ErrUnsupported
}

func (dv *Device) DestroyShaderModule(h pipeline.Handle)   {}
func (dv *Device) DestroyPipeline(h pipeline.Handle)       {}
func (dv *Device) DestroyPipelineLayout(h pipeline.Handle) {}
func (dv *Device) RenderPass() pipeline.Handle             { return 0 }
func (dv *Device) WaitIdle()                               {}
func (dv *Device) Close()                                  {}

func (dv *Device) Create(_ pipeline.Device, info *pipeline.BuildInfo) (pipeline.Handle, pipeline.Handle, error) {
	return 0, 0, ErrUnsupported
}
