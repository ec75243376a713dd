// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, b Builder, k Kind) *Registry {
	t.Helper()
	r := NewRegistry(b, k)
	require.NoError(t, r.RegisterPlugin(&Descriptor{ID: "fs", Kind: k.Name(), BuildCommand: "true"}))
	t.Cleanup(func() { assert.NoError(t, r.Close()) })
	return r
}

func ordinals(r *Registry, id string) []int {
	var ords []int
	for i, v := range r.Versions(id) {
		if i != v.Ordinal {
			panic("ordinal mismatch")
		}
		ords = append(ords, i)
	}
	return ords
}

func TestVersionList(t *testing.T) {
	r := newRegistry(t, &fakeBuilder{}, &counterKind{})

	for range 3 {
		_, err := r.RequestReload("fs")
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2}, ordinals(r, "fs"))
	assert.Nil(t, r.Selected("fs"))

	prev, err := r.Select("fs", 2)
	require.NoError(t, err)
	assert.Nil(t, prev)
	require.NotNil(t, r.Selected("fs"))
	assert.Equal(t, 2, r.Selected("fs").Ordinal)
	assert.Equal(t, 2, r.Selected("fs").Table)
}

func TestOrdinalsDense(t *testing.T) {
	b := &fakeBuilder{}
	r := newRegistry(t, b, &counterKind{})
	rng := rand.New(rand.NewSource(3))

	want := 0
	for range 50 {
		if rng.Intn(3) == 0 {
			b.fail = errors.New("build broke")
		} else {
			b.fail = nil
		}
		v, err := r.RequestReload("fs")
		if b.fail != nil {
			require.Error(t, err)
			assert.True(t, r.Plugin("fs").LastReloadFailed)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, want, v.Ordinal)
		assert.False(t, r.Plugin("fs").LastReloadFailed)
		want++
	}
	ords := ordinals(r, "fs")
	require.Len(t, ords, want)
	for i, o := range ords {
		assert.Equal(t, i, o)
	}
}

func TestSelectTransfersState(t *testing.T) {
	k := &counterKind{}
	r := newRegistry(t, &fakeBuilder{schemas: []string{"1.0.0", "1.2.0"}}, k)
	_, err := r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.RequestReload("fs")
	require.NoError(t, err)

	_, err = r.Select("fs", 0)
	require.NoError(t, err)
	old := r.State("fs").(*particleState)
	rng := rand.New(rand.NewSource(1))
	for range 1000 {
		old.particles = append(old.particles, rng.Float32())
	}

	prev, err := r.Select("fs", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, prev.Ordinal)
	s := r.State("fs").(*particleState)
	assert.Equal(t, 1, s.version)
	assert.Equal(t, old.particles, s.particles)
	assert.True(t, old.destroyed)

	// selecting the selected version is a no-op
	prev, err = r.Select("fs", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, prev.Ordinal)
	assert.Same(t, s, r.State("fs"))
}

func TestSelectIncompatibleSchema(t *testing.T) {
	k := &counterKind{}
	r := newRegistry(t, &fakeBuilder{schemas: []string{"1.0.0", "2.0.0"}}, k)
	_, err := r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.Select("fs", 0)
	require.NoError(t, err)
	st := r.State("fs").(*particleState)
	st.particles = make([]float32, 1000)
	_, err = r.RequestReload("fs")
	require.NoError(t, err)

	_, err = r.Select("fs", 1)
	assert.ErrorIs(t, err, ErrIncompatibleStateTransfer)
	assert.Equal(t, 0, r.Selected("fs").Ordinal)
	assert.Same(t, st, r.State("fs"))
	assert.Len(t, st.particles, 1000)
	assert.False(t, st.destroyed)
	assert.Len(t, k.created, 1)
}

func TestSelectStateSizeMismatch(t *testing.T) {
	r := newRegistry(t, &fakeBuilder{sizes: []int{64, 72}}, &counterKind{})
	_, err := r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.Select("fs", 0)
	require.NoError(t, err)

	_, err = r.Select("fs", 1)
	assert.ErrorIs(t, err, ErrIncompatibleStateTransfer)
	assert.Equal(t, 0, r.Selected("fs").Ordinal)
}

func TestSelectUploadFailureRollsBack(t *testing.T) {
	k := &counterKind{}
	r := newRegistry(t, &fakeBuilder{}, k)
	_, err := r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.RequestReload("fs")
	require.NoError(t, err)
	_, err = r.Select("fs", 0)
	require.NoError(t, err)

	k.failUpload = true
	_, err = r.Select("fs", 1)
	assert.ErrorIs(t, err, ErrIncompatibleStateTransfer)
	assert.Equal(t, 0, r.Selected("fs").Ordinal)
	require.Len(t, k.created, 2)
	assert.False(t, k.created[0].destroyed)
	assert.True(t, k.created[1].destroyed)
}

func TestSelectErrors(t *testing.T) {
	r := newRegistry(t, &fakeBuilder{}, &counterKind{})
	_, err := r.Select("fs", 0)
	assert.ErrorIs(t, err, ErrUnknownVersion)
	_, err = r.Select("nope", 0)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	_, err = r.RequestReload("nope")
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	assert.Nil(t, r.Selected("nope"))
	assert.Empty(t, ordinals(r, "nope"))

	err = r.RegisterPlugin(&Descriptor{ID: "fs", Kind: "counter"})
	assert.Error(t, err)
	err = r.RegisterPlugin(&Descriptor{ID: "other", Kind: "gravity"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAnnotateHide(t *testing.T) {
	r := newRegistry(t, &fakeBuilder{}, &counterKind{})
	_, err := r.RequestReload("fs")
	require.NoError(t, err)

	require.NoError(t, r.Annotate("fs", 0, "stable"))
	require.NoError(t, r.Hide("fs", 0))
	v := r.Plugin("fs").versions[0]
	assert.Equal(t, "stable", v.Annotation)
	assert.True(t, v.Hidden)
	require.NoError(t, r.Unhide("fs", 0))
	assert.False(t, v.Hidden)
	assert.ErrorIs(t, r.Hide("fs", 1), ErrUnknownVersion)
	assert.ErrorIs(t, r.Annotate("x", 0, ""), ErrUnknownPlugin)
}

func TestVersionsRestartable(t *testing.T) {
	r := newRegistry(t, &fakeBuilder{}, &counterKind{})
	for range 4 {
		_, err := r.RequestReload("fs")
		require.NoError(t, err)
	}
	seq := r.Versions("fs")
	var first []int
	for i := range seq {
		first = append(first, i)
		if i == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, first)
	var all []int
	for i := range seq {
		all = append(all, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, all)
	assert.Equal(t, 4, r.Len("fs"))
}

func TestCloseUnloads(t *testing.T) {
	b := &fakeBuilder{}
	k := &counterKind{}
	r := NewRegistry(b, k)
	require.NoError(t, r.RegisterPlugin(&Descriptor{ID: "fs", Kind: "counter", BuildCommand: "true"}))
	for range 2 {
		_, err := r.RequestReload("fs")
		require.NoError(t, err)
	}
	_, err := r.Select("fs", 1)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	for _, lib := range b.libs {
		assert.True(t, lib.closed)
	}
	assert.True(t, k.created[0].destroyed)
	assert.Nil(t, r.Selected("fs"))
}

func TestAutoreload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sim.c")
	require.NoError(t, os.WriteFile(src, []byte("int x;"), 0o644))

	b := &fakeBuilder{}
	r := NewRegistry(b, &counterKind{})
	t.Cleanup(func() { assert.NoError(t, r.Close()) })
	w := newFakeWatcher()
	r.SetWatcher(w)
	require.NoError(t, r.RegisterPlugin(&Descriptor{ID: "fs", Kind: "counter", BuildCommand: "true", Dir: dir}))
	require.NoError(t, r.SetAutoreload("fs", true))
	assert.True(t, r.Autoreload("fs"))
	require.NoError(t, r.WatchSources("fs"))
	require.Len(t, r.Watched("fs"), 1)

	ids, err := r.HandleChanges()
	require.NoError(t, err)
	assert.Empty(t, ids)

	// two changes in one poll reload once
	w.touch(src)
	w.touch(src)
	ids, err = r.HandleChanges()
	require.NoError(t, err)
	assert.Equal(t, []string{"fs"}, ids)
	require.NotNil(t, r.Selected("fs"))
	assert.Equal(t, 0, r.Selected("fs").Ordinal)
	assert.Equal(t, 1, r.Len("fs"))

	b.fail = &BuildError{Command: "cc", ExitCode: 1, Stderr: "sim.c:1: error: expected ';'"}
	w.touch(src)
	_, err = r.HandleChanges()
	require.NoError(t, err)
	p := r.Plugin("fs")
	assert.True(t, p.LastReloadFailed)
	assert.Equal(t, "sim.c:1: error: expected ';'", p.Diagnostic)
	assert.Equal(t, 0, r.Selected("fs").Ordinal)

	b.fail = nil
	w.touch(src)
	_, err = r.HandleChanges()
	require.NoError(t, err)
	assert.False(t, p.LastReloadFailed)
	assert.Empty(t, p.Diagnostic)
	assert.Equal(t, 1, r.Selected("fs").Ordinal)
}

func TestAutoreloadDisabled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sim.c")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	b := &fakeBuilder{}
	r := NewRegistry(b, &counterKind{})
	t.Cleanup(func() { assert.NoError(t, r.Close()) })
	w := newFakeWatcher()
	r.SetWatcher(w)
	require.NoError(t, r.RegisterPlugin(&Descriptor{ID: "fs", Kind: "counter", BuildCommand: "true", Dir: dir}))
	require.NoError(t, r.WatchSources("fs"))

	w.touch(src)
	ids, err := r.HandleChanges()
	require.NoError(t, err)
	assert.Equal(t, []string{"fs"}, ids)
	assert.Zero(t, b.loads)
}
