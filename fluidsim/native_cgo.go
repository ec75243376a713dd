// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package fluidsim

/*
#include <stdint.h>
#include <stddef.h>

typedef struct {
	float position[3];
	float velocity[3];
} fs_particle;

typedef struct {
	float rest_particle_density;
	float rest_particle_interaction_count_approx;
	float spring_stiffness;
} fs_params;

typedef void* (*create_fn)(void*, void*);
typedef void (*destroy_fn)(void*);
typedef void (*set_params_fn)(void*, const fs_params*);
typedef int (*upload_fn)(void*, const fs_particle*, uint32_t);
typedef uint32_t (*download_fn)(void*, fs_particle*, uint32_t);
typedef int (*advance_fn)(void*, void*, float, void*, void*);

static void* call_create(void* f, uintptr_t device, uintptr_t allocator) {
	return ((create_fn)f)((void*)device, (void*)allocator);
}
static void call_destroy(void* f, void* s) {
	((destroy_fn)f)(s);
}
static void call_set_params(void* f, void* s, float density, float count, float stiffness) {
	fs_params p = {density, count, stiffness};
	((set_params_fn)f)(s, &p);
}
static int call_upload(void* f, void* s, const void* particles, uint32_t n) {
	return ((upload_fn)f)(s, (const fs_particle*)particles, n);
}
static uint32_t call_download(void* f, void* s, void* out, uint32_t capacity) {
	return ((download_fn)f)(s, (fs_particle*)out, capacity);
}
static int call_advance(void* f, void* s, uintptr_t cmd, float dt, uintptr_t wait, uintptr_t signal) {
	return ((advance_fn)f)(s, (void*)cmd, dt, (void*)wait, (void*)signal);
}
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// nativeTable is the entry-point table of a native plugin.
type nativeTable struct {
	create, destroy, setParams, upload, download, advance unsafe.Pointer
}

func bindNative(symbols map[string]unsafe.Pointer) (any, error) {
	if C.sizeof_fs_particle != ParticleSize {
		panic(fmt.Errorf("fluidsim: native particle size %d, want %d", C.sizeof_fs_particle, ParticleSize))
	}
	return &nativeTable{
		create:    symbols[ProcCreate],
		destroy:   symbols[ProcDestroy],
		setParams: symbols[ProcSetParams],
		upload:    symbols[ProcUploadParticles],
		download:  symbols[ProcDownloadParticles],
		advance:   symbols[ProcAdvance],
	}, nil
}

func (t *nativeTable) New(k *Kind) (Backend, error) {
	s := C.call_create(t.create, C.uintptr_t(k.Device), C.uintptr_t(k.Allocator))
	if s == nil {
		return nil, fmt.Errorf("fluidsim: native create returned null")
	}
	return &native{t: t, state: s}, nil
}

// native is a simulation state owned by a native plugin.
type native struct {
	t     *nativeTable
	state unsafe.Pointer
}

func (n *native) SetParams(p Params) {
	C.call_set_params(n.t.setParams, n.state,
		C.float(p.RestParticleDensity), C.float(p.RestParticleInteractionCountApprox), C.float(p.SpringStiffness))
}

func (n *native) Upload(particles []Particle) error {
	var ptr unsafe.Pointer
	if len(particles) > 0 {
		ptr = unsafe.Pointer(&particles[0])
	}
	if rc := C.call_upload(n.t.upload, n.state, ptr, C.uint32_t(len(particles))); rc != 0 {
		return fmt.Errorf("fluidsim: native upload of %d particles failed with code %d", len(particles), int(rc))
	}
	return nil
}

func (n *native) Len() int {
	return int(C.call_download(n.t.download, n.state, nil, 0))
}

func (n *native) Download(out []Particle) ([]Particle, error) {
	count := n.Len()
	start := len(out)
	out = append(out, make([]Particle, count)...)
	if count == 0 {
		return out, nil
	}
	got := int(C.call_download(n.t.download, n.state, unsafe.Pointer(&out[start]), C.uint32_t(count)))
	if got != count {
		return out[:start], fmt.Errorf("fluidsim: native download returned %d particles, want %d", got, count)
	}
	return out, nil
}

func (n *native) Advance(dt float32, sync Sync) error {
	rc := C.call_advance(n.t.advance, n.state, C.uintptr_t(sync.CommandBuffer), C.float(dt), C.uintptr_t(sync.Wait), C.uintptr_t(sync.Signal))
	if rc != 0 {
		return fmt.Errorf("fluidsim: native advance failed with code %d", int(rc))
	}
	return nil
}

func (n *native) Destroy() {
	if n.state == nil {
		return
	}
	C.call_destroy(n.t.destroy, n.state)
	n.state = nil
}
