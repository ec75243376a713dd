// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fluidsim is the fluid simulation plugin kind: its entry-point
// table, the transfer of particles between plugin versions, and a CPU
// reference back-end used when no native plugin is loaded.
package fluidsim

import (
	"math"

	"github.com/lefp/particle-sim-sub000/plugin"
)

// KindName is the kind name of fluid simulation plugins in descriptors.
const KindName = "fluid_sim"

// Schema is the state schema version of the particle layout below.
const Schema = "1.0.0"

// Particle is the per-particle payload moved across plugin versions.
// Its layout matches the C struct of the native ABI: six floats.
type Particle struct {
	Position [3]float32
	Velocity [3]float32
}

// Params are the simulation parameters passed to set_params.
type Params struct {

	// RestParticleDensity is in particles per cubic meter.
	RestParticleDensity float32

	// RestParticleInteractionCountApprox is the number of particles
	// within the interaction radius at rest.
	RestParticleInteractionCountApprox float32

	SpringStiffness float32
}

// DefaultParams returns parameters with an interaction radius of 0.25.
func DefaultParams() Params {
	return Params{
		RestParticleDensity:                1000,
		RestParticleInteractionCountApprox: 4.0 / 3.0 * math.Pi * 0.25 * 0.25 * 0.25 * 1000,
		SpringStiffness:                    1,
	}
}

// InteractionRadius returns the radius of the sphere that contains
// RestParticleInteractionCountApprox particles at rest density.
func (p Params) InteractionRadius() float32 {
	// N = 4/3 pi r^3 rho
	return float32(math.Cbrt(float64(p.RestParticleInteractionCountApprox) * 3 / (4 * math.Pi * float64(p.RestParticleDensity))))
}

// Sync carries the GPU command buffer and semaphores of an advance.
// All handles are zero for CPU back-ends.
type Sync struct {
	CommandBuffer uintptr
	Wait          uintptr
	Signal        uintptr
}

// Backend is one simulation state of a loaded plugin version.
type Backend interface {
	SetParams(p Params)

	// Upload replaces the particles of the simulation.
	Upload(particles []Particle) error

	// Download appends the particles of the simulation to out.
	Download(out []Particle) ([]Particle, error)

	// Len returns the number of particles.
	Len() int

	// Advance steps the simulation by dt seconds.
	Advance(dt float32, sync Sync) error

	Destroy()
}

// Entry point names of the native ABI.
const (
	ProcCreate            = "create"
	ProcDestroy           = "destroy"
	ProcSetParams         = "set_params"
	ProcUploadParticles   = "upload_particles"
	ProcDownloadParticles = "download_particles"
	ProcAdvance           = "advance"
)

// Procedures returns the entry points of the native ABI,
// in the form used by plugin descriptors.
func Procedures() []plugin.Procedure {
	ptr := func(t, n string) plugin.Arg { return plugin.Arg{Type: t, Name: n} }
	return []plugin.Procedure{
		{Name: ProcCreate, Return: "void*", Args: []plugin.Arg{ptr("void*", "device"), ptr("void*", "allocator")}},
		{Name: ProcDestroy, Return: "void", Args: []plugin.Arg{ptr("void*", "state")}},
		{Name: ProcSetParams, Return: "void", Args: []plugin.Arg{ptr("void*", "state"), ptr("const SimParameters*", "params")}},
		{Name: ProcUploadParticles, Return: "int", Args: []plugin.Arg{ptr("void*", "state"), ptr("const Particle*", "particles"), ptr("uint32_t", "count")}},
		{Name: ProcDownloadParticles, Return: "uint32_t", Args: []plugin.Arg{ptr("void*", "state"), ptr("Particle*", "out_particles"), ptr("uint32_t", "capacity")}},
		{Name: ProcAdvance, Return: "int", Args: []plugin.Arg{ptr("void*", "state"), ptr("void*", "cmd_buffer"), ptr("float", "dt"), ptr("void*", "wait_sem"), ptr("void*", "signal_sem")}},
	}
}

// ParticleSize is the size in bytes of the native particle struct.
const ParticleSize = 24
