// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"slices"
	"unsafe"

	"github.com/Masterminds/semver/v3"

	"github.com/lefp/particle-sim-sub000/filewatch"
)

type fakeLib struct {
	path    string
	symbols map[string]bool
	closed  bool
}

func (l *fakeLib) Path() string { return l.path }

func (l *fakeLib) Symbol(name string) (unsafe.Pointer, error) {
	if !l.symbols[name] {
		return nil, errors.New("undefined symbol: " + name)
	}
	return unsafe.Pointer(l), nil
}

func (l *fakeLib) Close() error {
	if l.closed {
		return errors.New("closed twice")
	}
	l.closed = true
	return nil
}

// particleState is the state of the counter kind.
type particleState struct {
	version   int
	particles []float32
	destroyed bool
}

// counterKind stores a slice of particles per state.
type counterKind struct {
	failUpload bool
	created    []*particleState
}

func (k *counterKind) Name() string { return "counter" }

func (k *counterKind) Bind(v *Version) (any, error) {
	return v.Ordinal, nil
}

func (k *counterKind) Create(v *Version) (State, error) {
	s := &particleState{version: v.Ordinal}
	k.created = append(k.created, s)
	return s, nil
}

func (k *counterKind) Destroy(v *Version, s State) {
	ps := s.(*particleState)
	if ps.destroyed {
		panic("state destroyed twice")
	}
	ps.destroyed = true
}

func (k *counterKind) Download(v *Version, s State) (Snapshot, error) {
	return slices.Clone(s.(*particleState).particles), nil
}

func (k *counterKind) Upload(v *Version, s State, snap Snapshot) error {
	if k.failUpload {
		return errors.New("upload rejected")
	}
	s.(*particleState).particles = slices.Clone(snap.([]float32))
	return nil
}

// fakeBuilder loads versions with the schemas in order, failing
// whenever fail is set.
type fakeBuilder struct {
	schemas []string
	sizes   []int
	fail    error
	loads   int
	libs    []*fakeLib
}

func (b *fakeBuilder) Load(d *Descriptor) (*Version, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	i := b.loads
	b.loads++
	lib := &fakeLib{path: d.ID + ".so"}
	b.libs = append(b.libs, lib)
	v := &Version{Lib: lib, Descriptor: d}
	if i < len(b.schemas) {
		v.Schema = semver.MustParse(b.schemas[i])
	}
	if i < len(b.sizes) {
		v.StateSize = b.sizes[i]
	}
	return v, nil
}

type fakeWatcher struct {
	paths   map[filewatch.ID]string
	lastID  filewatch.ID
	pending []filewatch.ID
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{paths: map[filewatch.ID]string{}}
}

func (w *fakeWatcher) Add(path string) (filewatch.ID, error) {
	w.lastID++
	w.paths[w.lastID] = path
	return w.lastID, nil
}

func (w *fakeWatcher) Remove(id filewatch.ID) error {
	if _, ok := w.paths[id]; !ok {
		return filewatch.ErrUnknownID
	}
	delete(w.paths, id)
	return nil
}

func (w *fakeWatcher) Poll(out []filewatch.ID) (int, error) {
	n := copy(out, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// touch queues a change of every watched path equal to path.
func (w *fakeWatcher) touch(path string) {
	for id, p := range w.paths {
		if p == path {
			w.pending = append(w.pending, id)
		}
	}
}
