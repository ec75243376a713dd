// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package vgpu

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Error is a failed Vulkan call.
type Error struct {
	Call   string
	Result vk.Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("vgpu: %s: %v (%d)", e.Call, vk.Error(e.Result), int32(e.Result))
}

// NewError returns an [*Error] for a failed result, or nil.
func NewError(call string, ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return &Error{Call: call, Result: ret}
}
