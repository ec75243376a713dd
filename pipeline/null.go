// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lefp/particle-sim-sub000/shaderc"
)

// ErrInvalidSPIRV is returned by [NullDevice.CreateShaderModule]
// for code that is not a SPIR-V module.
var ErrInvalidSPIRV = errors.New("pipeline: invalid SPIR-V")

// NullDevice is a [Device] that allocates handles without a GPU.
// It validates SPIR-V headers and panics when an object is destroyed
// that is not live.
type NullDevice struct {

	// FailCreate, if set, is returned by [NullDevice.CreatePipeline].
	FailCreate error

	last Handle
	live map[Handle]objectKind
}

// NewNullDevice returns a new null device.
func NewNullDevice() *NullDevice {
	return &NullDevice{live: map[Handle]objectKind{}}
}

func (d *NullDevice) alloc(kind objectKind) Handle {
	d.last++
	d.live[d.last] = kind
	return d.last
}

func (d *NullDevice) free(kind objectKind, h Handle) {
	if k, ok := d.live[h]; !ok || k != kind {
		panic(fmt.Errorf("pipeline: destroying %s %#x that is not live", kind, h))
	}
	delete(d.live, h)
}

func (d *NullDevice) CreateShaderModule(spirv []byte) (Handle, error) {
	if len(spirv) < 20 || len(spirv)%4 != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidSPIRV, len(spirv))
	}
	if m := binary.LittleEndian.Uint32(spirv); m != shaderc.SPIRVMagic {
		return 0, fmt.Errorf("%w: magic %#08x", ErrInvalidSPIRV, m)
	}
	return d.alloc(shaderModule), nil
}

func (d *NullDevice) DestroyShaderModule(h Handle) { d.free(shaderModule, h) }

func (d *NullDevice) DestroyPipeline(h Handle) { d.free(pipelineObject, h) }

func (d *NullDevice) DestroyPipelineLayout(h Handle) { d.free(pipelineLayout, h) }

// CreatePipeline creates a pipeline and layout from live shader modules.
func (d *NullDevice) CreatePipeline(info *BuildInfo) (pipeline, layout Handle, err error) {
	if d.FailCreate != nil {
		return 0, 0, d.FailCreate
	}
	for _, m := range []Handle{info.VertexModule, info.FragmentModule} {
		if k, ok := d.live[m]; !ok || k != shaderModule {
			return 0, 0, fmt.Errorf("pipeline: %s: shader module %#x is not live", info.Name, m)
		}
	}
	return d.alloc(pipelineObject), d.alloc(pipelineLayout), nil
}

// Live reports whether h is a live object.
func (d *NullDevice) Live(h Handle) bool {
	_, ok := d.live[h]
	return ok
}

// Len returns the number of live objects.
func (d *NullDevice) Len() int {
	return len(d.live)
}

// NullCreate is a [CreateFunc] for a [*NullDevice].
func NullCreate(dev Device, info *BuildInfo) (pipeline, layout Handle, err error) {
	nd, ok := dev.(*NullDevice)
	if !ok {
		return 0, 0, fmt.Errorf("pipeline: NullCreate needs a *NullDevice, not %T", dev)
	}
	return nd.CreatePipeline(info)
}

// NullSPIRV returns a minimal SPIR-V header for tests and headless use.
// The bound word is n, so different values give distinct code.
func NullSPIRV(n uint32) []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:], shaderc.SPIRVMagic)
	binary.LittleEndian.PutUint32(b[4:], 0x00010000)
	binary.LittleEndian.PutUint32(b[12:], n)
	return b
}
