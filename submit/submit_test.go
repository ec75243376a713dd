// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package submit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimBeforeRender(t *testing.T) {
	g := NewGraph()
	sim, err := g.Add(1, "fluid_sim", 10)
	require.NoError(t, err)
	render, err := g.Add(1, "render", 11, sim)
	require.NoError(t, err)

	assert.Equal(t, []Semaphore{10}, g.Wait(sim))
	s, ok := g.Get(render)
	require.True(t, ok)
	assert.Equal(t, []ID{sim}, s.Waits)
	assert.Equal(t, []ID{sim, render}, g.Frame(1))

	_, err = g.Add(1, "overlay", 0, sim)
	assert.ErrorIs(t, err, ErrAlreadyWaited)
}

func TestWaitDedupes(t *testing.T) {
	g := NewGraph()
	a, _ := g.Add(1, "a", 5)
	b, _ := g.Add(1, "b", 0)
	assert.Equal(t, []Semaphore{5}, g.Wait(a, b, a))
	assert.Empty(t, g.Wait(b))
}

func TestRetire(t *testing.T) {
	g := NewGraph()
	for frame := uint64(1); frame <= 4; frame++ {
		_, err := g.Add(frame, "sim", Semaphore(frame))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, g.Retire(2))
	assert.Equal(t, 2, g.Len())
	_, ok := g.Get(1)
	assert.False(t, ok)
	assert.Empty(t, g.Wait(1))

	id, err := g.Add(5, "render", 0, 1, 3)
	require.NoError(t, err)
	s, _ := g.Get(id)
	assert.Equal(t, []ID{3}, s.Waits, "retired waits are satisfied")
}

func TestAddUnknown(t *testing.T) {
	g := NewGraph()
	_, err := g.Add(1, "render", 0, 7)
	assert.ErrorIs(t, err, ErrUnknown)
	_, err = g.Add(1, "render", 0, 0)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Equal(t, 0, g.Len())
}
