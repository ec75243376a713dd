// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vgpu implements the pipeline device on Vulkan, using a
// headless instance and an offscreen render pass.
package vgpu

import "errors"

// ErrUnsupported is returned when the binary was built without cgo.
var ErrUnsupported = errors.New("vgpu: Vulkan is not supported in this build")

// Options configure [Open].
type Options struct {

	// Library is the Vulkan loader library; empty uses the default loader.
	Library string

	// AppName is the application name reported to the driver.
	AppName string

	// Validation enables the Khronos validation layer.
	Validation bool
}
