// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package vgpu

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/lefp/particle-sim-sub000/base/dynlib"
)

var (
	loadOnce sync.Once
	loadErr  error
	loader   *dynlib.Library
)

// load initializes the Vulkan function pointers once per process.
func load(library string) error {
	loadOnce.Do(func() {
		loadErr = loadLibrary(library)
	})
	return loadErr
}

func loadLibrary(library string) error {
	if library == "" {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return fmt.Errorf("vgpu: loading Vulkan: %w", err)
		}
		return vk.Init()
	}
	lib, err := dynlib.Open(library)
	if err != nil {
		return fmt.Errorf("vgpu: loading Vulkan: %w", err)
	}
	addr, err := lib.Symbol("vkGetInstanceProcAddr")
	if err != nil {
		lib.Close()
		return fmt.Errorf("vgpu: loading Vulkan: %w", err)
	}
	loader = lib
	vk.SetGetInstanceProcAddr(addr)
	return vk.Init()
}
