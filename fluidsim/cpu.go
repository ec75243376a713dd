// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fluidsim

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"github.com/lefp/particle-sim-sub000/base/sortx"
	"github.com/lefp/particle-sim-sub000/threadpool"
)

// Relaxation constants of the CPU back-end.
const (
	restDensity  = 1.0
	gravity      = 0.0
	minDistance  = 1e-7
	maxGridCells = 1 << 10
)

// CPU is the reference back-end: a particle-based fluid using
// double-density relaxation, with neighbors found through a uniform
// grid keyed by Morton code. Work is split across the thread pool.
type CPU struct {
	pool *threadpool.Pool

	radius        float32
	stiffness     float32
	nearStiffness float32

	pos  [][3]float32
	vel  [][3]float32
	prev [][3]float32
	disp [][3]float32

	// keys are (cell code, particle) sorted by cell code.
	keys    []sortx.KeyVal
	scratch []sortx.KeyVal

	// cells are the distinct codes in keys, with their first index.
	cells      []uint32
	cellStarts []int

	min [3]float32
}

// NewCPU returns an empty CPU back-end using the default parameters.
// The pool may be nil, in which case all work runs on the caller.
func NewCPU(pool *threadpool.Pool) *CPU {
	c := &CPU{pool: pool}
	c.SetParams(DefaultParams())
	return c
}

func (c *CPU) SetParams(p Params) {
	c.radius = p.InteractionRadius()
	c.stiffness = p.SpringStiffness
	c.nearStiffness = p.SpringStiffness
}

// Radius returns the interaction radius.
func (c *CPU) Radius() float32 { return c.radius }

func (c *CPU) Upload(particles []Particle) error {
	n := len(particles)
	c.pos = slices.Grow(c.pos[:0], n)[:n]
	c.vel = slices.Grow(c.vel[:0], n)[:n]
	for i, p := range particles {
		c.pos[i] = p.Position
		c.vel[i] = p.Velocity
	}
	c.prev = make([][3]float32, n)
	c.disp = make([][3]float32, n)
	c.keys = make([]sortx.KeyVal, n)
	c.scratch = make([]sortx.KeyVal, n)
	return nil
}

func (c *CPU) Download(out []Particle) ([]Particle, error) {
	for i := range c.pos {
		out = append(out, Particle{Position: c.pos[i], Velocity: c.vel[i]})
	}
	return out, nil
}

func (c *CPU) Len() int { return len(c.pos) }

func (c *CPU) Destroy() {
	c.pos, c.vel, c.prev, c.disp = nil, nil, nil, nil
	c.keys, c.scratch, c.cells, c.cellStarts = nil, nil, nil, nil
}

// Advance steps the simulation. The sync handles are ignored.
func (c *CPU) Advance(dt float32, sync Sync) error {
	if dt <= 1e-5 {
		return fmt.Errorf("fluidsim: time step %g is too small", dt)
	}
	n := len(c.pos)
	if n == 0 {
		return nil
	}
	c.parallel(n, func(i int) {
		c.vel[i][1] -= dt * gravity
		c.prev[i] = c.pos[i]
		c.pos[i] = add(c.pos[i], scale(c.vel[i], dt))
	})
	c.buildGrid()
	c.parallel(n, func(i int) { c.disp[i] = c.relax(i, dt) })
	c.parallel(n, func(i int) {
		c.pos[i] = add(c.pos[i], c.disp[i])
		c.vel[i] = scale(sub(c.pos[i], c.prev[i]), 1/dt)
	})
	return nil
}

// parallel runs fn for every index in [0, n), in chunks on the pool.
func (c *CPU) parallel(n int, fn func(i int)) {
	if c.pool == nil || n < 256 {
		for i := range n {
			fn(i)
		}
		return
	}
	chunks := 4 * c.pool.Workers()
	size := (n + chunks - 1) / chunks
	c.pool.Run(chunks, func(k int) {
		for i := k * size; i < min((k+1)*size, n); i++ {
			fn(i)
		}
	})
}

func (c *CPU) cell(p [3]float32) [3]int {
	var ci [3]int
	for d := range 3 {
		v := int((p[d] - c.min[d]) / c.radius)
		ci[d] = max(0, min(v, maxGridCells-1))
	}
	return ci
}

func (c *CPU) buildGrid() {
	c.min = [3]float32{math32.Inf(1), math32.Inf(1), math32.Inf(1)}
	for _, p := range c.pos {
		for d := range 3 {
			c.min[d] = min(c.min[d], p[d])
		}
	}
	for i, p := range c.pos {
		c.keys[i] = sortx.KeyVal{Key: mortonCode(c.cell(p)), Val: uint32(i)}
	}
	if c.pool != nil {
		sortx.ParallelSort(c.pool, c.keys, c.scratch)
	} else {
		sortx.RadixSort(c.keys, c.scratch)
	}
	c.cells = c.cells[:0]
	c.cellStarts = c.cellStarts[:0]
	for i, kv := range c.keys {
		if i == 0 || kv.Key != c.keys[i-1].Key {
			c.cells = append(c.cells, kv.Key)
			c.cellStarts = append(c.cellStarts, i)
		}
	}
	c.cellStarts = append(c.cellStarts, len(c.keys))
}

// neighbors calls fn with every particle in the 27 cells around ci.
func (c *CPU) neighbors(ci [3]int, fn func(j int)) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nc := [3]int{ci[0] + dx, ci[1] + dy, ci[2] + dz}
				if nc[0] < 0 || nc[1] < 0 || nc[2] < 0 || nc[0] >= maxGridCells || nc[1] >= maxGridCells || nc[2] >= maxGridCells {
					continue
				}
				k, ok := slices.BinarySearch(c.cells, mortonCode(nc))
				if !ok {
					continue
				}
				for _, kv := range c.keys[c.cellStarts[k]:c.cellStarts[k+1]] {
					fn(int(kv.Val))
				}
			}
		}
	}
}

// relax returns the double-density relaxation displacement of particle i.
func (c *CPU) relax(i int, dt float32) [3]float32 {
	pi := c.pos[i]
	ci := c.cell(pi)
	var density, near float32
	c.neighbors(ci, func(j int) {
		if j == i {
			return
		}
		d := length(sub(c.pos[j], pi))
		if d >= c.radius {
			return
		}
		q := 1 - d/c.radius
		density += q * q
		near += q * q * q
	})
	pressure := c.stiffness * (density - restDensity)
	nearPressure := c.nearStiffness * near

	var disp [3]float32
	c.neighbors(ci, func(j int) {
		if j == i {
			return
		}
		diff := sub(c.pos[j], pi)
		d := length(diff)
		if d >= c.radius || d < minDistance {
			return
		}
		q := 1 - d/c.radius
		mag := dt * dt * (pressure*q + nearPressure*q*q)
		disp = sub(disp, scale(diff, mag/d))
	})
	return disp
}

// mortonCode interleaves the low 10 bits of each cell coordinate.
func mortonCode(ci [3]int) uint32 {
	return spread(uint32(ci[0])) | spread(uint32(ci[1]))<<1 | spread(uint32(ci[2]))<<2
}

func spread(v uint32) uint32 {
	v &= 0x3ff
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

func add(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale(a [3]float32, s float32) [3]float32 {
	return [3]float32{a[0] * s, a[1] * s, a[2] * s}
}

func length(a [3]float32) float32 {
	return math32.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
}
