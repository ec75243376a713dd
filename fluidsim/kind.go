// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fluidsim

import (
	"fmt"
	"unsafe"

	"github.com/lefp/particle-sim-sub000/plugin"
	"github.com/lefp/particle-sim-sub000/threadpool"
)

// table creates back-ends of one plugin version.
type table interface {
	New(k *Kind) (Backend, error)
}

// Kind implements [plugin.Kind] for fluid simulation plugins.
type Kind struct {
	Params Params

	// Device and Allocator are passed to the create entry point.
	Device    uintptr
	Allocator uintptr

	// Pool runs the CPU back-end; it may be nil.
	Pool *threadpool.Pool
}

// NewKind returns a kind using the default parameters.
func NewKind(pool *threadpool.Pool) *Kind {
	return &Kind{Params: DefaultParams(), Pool: pool}
}

func (k *Kind) Name() string { return KindName }

// Bind builds the entry-point table from the resolved symbols, or
// selects the CPU back-end for the [Builtin] library.
func (k *Kind) Bind(v *plugin.Version) (any, error) {
	if _, ok := v.Lib.(*Builtin); ok {
		return cpuTable{}, nil
	}
	for _, name := range []string{ProcCreate, ProcDestroy, ProcSetParams, ProcUploadParticles, ProcDownloadParticles, ProcAdvance} {
		if v.Symbols[name] == nil {
			return nil, &plugin.MissingSymbolError{Path: libPath(v), Name: name, Msg: "not listed in the descriptor procedures"}
		}
	}
	return bindNative(v.Symbols)
}

func libPath(v *plugin.Version) string {
	if v.Lib == nil {
		return ""
	}
	return v.Lib.Path()
}

func (k *Kind) Create(v *plugin.Version) (plugin.State, error) {
	t, ok := v.Table.(table)
	if !ok {
		return nil, fmt.Errorf("fluidsim: %s has no entry-point table", v)
	}
	b, err := t.New(k)
	if err != nil {
		return nil, err
	}
	b.SetParams(k.Params)
	return b, nil
}

func (k *Kind) Destroy(v *plugin.Version, s plugin.State) {
	s.(Backend).Destroy()
}

func (k *Kind) Download(v *plugin.Version, s plugin.State) (plugin.Snapshot, error) {
	return s.(Backend).Download(nil)
}

func (k *Kind) Upload(v *plugin.Version, s plugin.State, snap plugin.Snapshot) error {
	ps, ok := snap.([]Particle)
	if !ok {
		return fmt.Errorf("fluidsim: cannot upload snapshot of type %T", snap)
	}
	return s.(Backend).Upload(ps)
}

// BuiltinLibrary is the library name that opens the CPU back-end.
const BuiltinLibrary = "builtin:fluid_sim_cpu"

// Builtin is a [plugin.Library] standing in for the CPU back-end,
// so that it is versioned by the registry like a native plugin.
type Builtin struct{}

func (b *Builtin) Path() string { return BuiltinLibrary }

func (b *Builtin) Symbol(name string) (unsafe.Pointer, error) {
	for _, p := range Procedures() {
		if p.Name == name {
			return unsafe.Pointer(b), nil
		}
	}
	return nil, fmt.Errorf("fluidsim: builtin back-end has no procedure %q", name)
}

func (b *Builtin) Close() error { return nil }

// Opener returns a [plugin.Loader] Open func that opens [BuiltinLibrary]
// as a [Builtin] and every other path with next.
func Opener(next func(path string) (plugin.Library, error)) func(path string) (plugin.Library, error) {
	return func(path string) (plugin.Library, error) {
		if path == BuiltinLibrary {
			return &Builtin{}, nil
		}
		return next(path)
	}
}

// BuiltinDescriptor returns the descriptor of the CPU back-end plugin.
func BuiltinDescriptor() *plugin.Descriptor {
	return &plugin.Descriptor{
		ID:         "fluid_sim_cpu",
		Kind:       KindName,
		Library:    BuiltinLibrary,
		Schema:     Schema,
		Procedures: Procedures(),
	}
}

type cpuTable struct{}

func (cpuTable) New(k *Kind) (Backend, error) {
	return NewCPU(k.Pool), nil
}
