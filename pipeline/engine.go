// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cerrors "cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/filewatch"
)

// ErrNoCompiler is the rebuild failure of an engine created without
// a shader compiler.
var ErrNoCompiler = errors.New("pipeline: no shader compiler")

// DefaultMaxRetired bounds the number of retired objects pending destruction.
const DefaultMaxRetired = 256

// Engine owns the pipelines, shader modules and watch ids of its slots.
// It is not safe for concurrent use; all calls are made from the thread
// that submits frames.
type Engine struct {

	// OnReload, if set, is called after every rebuild attempt.
	OnReload func(name string, d time.Duration, err error)

	// OnRetire, if set, is called with the number of retired objects
	// pending destruction whenever it changes.
	OnRetire func(pending int)

	dev      Device
	compiler Compiler
	watcher  Watcher

	slots   []*Slot
	byName  map[string]*Slot
	byWatch map[filewatch.ID]*Slot
	retired retireQueue
	polled  []filewatch.ID
}

// NewEngine returns an engine creating objects on dev and compiling
// shaders with c. The watcher may be nil if hot reload is never enabled.
// The compiler may be nil, in which case every rebuild fails with
// [ErrNoCompiler] and the prebuilt pipelines stay live.
func NewEngine(dev Device, c Compiler, w Watcher) *Engine {
	return &Engine{
		dev:      dev,
		compiler: c,
		watcher:  w,
		byName:   map[string]*Slot{},
		byWatch:  map[filewatch.ID]*Slot{},
		retired:  retireQueue{limit: DefaultMaxRetired},
		polled:   make([]filewatch.ID, 32),
	}
}

// SetMaxRetired sets the bound of retired objects pending destruction.
func (e *Engine) SetMaxRetired(n int) {
	e.retired.limit = n
}

// AddSlot adds a pipeline slot. Names must be unique.
func (e *Engine) AddSlot(d Desc) (*Slot, error) {
	if d.Name == "" {
		return nil, errors.New("pipeline: slot name is required")
	}
	if _, ok := e.byName[d.Name]; ok {
		return nil, fmt.Errorf("pipeline: slot %q already exists", d.Name)
	}
	if d.Create == nil {
		return nil, fmt.Errorf("pipeline: slot %q has no create function", d.Name)
	}
	s := &Slot{Desc: d, index: len(e.slots)}
	e.slots = append(e.slots, s)
	e.byName[d.Name] = s
	return s, nil
}

// Slot returns the named slot, or nil.
func (e *Engine) Slot(name string) *Slot {
	return e.byName[name]
}

// Slots returns the slots in the order they were added.
func (e *Engine) Slots() []*Slot {
	return e.slots
}

// Retired returns the number of retired objects pending destruction.
func (e *Engine) Retired() int {
	return len(e.retired.objects)
}

// InitFromPrebuilt builds the slot from its prebuilt SPIR-V files.
// It must be called once, before the slot is used.
func (e *Engine) InitFromPrebuilt(s *Slot) error {
	if s.Built() {
		return fmt.Errorf("pipeline: %s is already built", s.Desc.Name)
	}
	var spirv [numStages][]byte
	for st := range numStages {
		b, err := os.ReadFile(s.Desc.SPIRV[st])
		if err != nil {
			return fmt.Errorf("pipeline: %s: %w", s.Desc.Name, err)
		}
		spirv[st] = b
	}
	b, err := e.build(s, spirv)
	if err != nil {
		return err
	}
	e.publish(s, b, 0)
	slog.Info("pipeline: built from prebuilt SPIR-V", "pipeline", s.Desc.Name)
	return nil
}

// EnableHotReload watches the GLSL sources of the slot.
func (e *Engine) EnableHotReload(s *Slot) error {
	if e.watcher == nil {
		return errors.New("pipeline: engine has no watcher")
	}
	if s.watched {
		return nil
	}
	var ids [numStages]filewatch.ID
	for st := range numStages {
		id, err := e.watcher.Add(s.Desc.Sources[st])
		if err != nil {
			for _, prev := range ids[:st] {
				cerrors.Log(e.watcher.Remove(prev))
			}
			return fmt.Errorf("pipeline: watching %s: %w", s.Desc.Name, err)
		}
		ids[st] = id
	}
	s.watches = ids
	s.watched = true
	for _, id := range ids {
		e.byWatch[id] = s
	}
	slog.Debug("pipeline: hot reload enabled", "pipeline", s.Desc.Name)
	return nil
}

// DisableHotReload stops watching the sources of the slot.
func (e *Engine) DisableHotReload(s *Slot) {
	if !s.watched {
		return
	}
	for _, id := range s.watches {
		cerrors.Log(e.watcher.Remove(id))
		delete(e.byWatch, id)
	}
	s.watches = [numStages]filewatch.ID{}
	s.watched = false
	s.pending = false
}

// Reload marks the slot for rebuilding on the next [Engine.OnFrame].
func (e *Engine) Reload(s *Slot) {
	s.pending = true
}

// OnFrame is called once at the start of every frame. It polls the
// watcher, rebuilds each slot whose sources changed at most once, and
// destroys retired objects that no in-flight frame can still use.
// Rebuild failures are recorded in the slot and do not return an error;
// only watcher failures do.
func (e *Engine) OnFrame(frame uint64, maxInFlight int) error {
	var err error
	if e.watcher != nil && len(e.byWatch) > 0 {
		err = e.poll()
	}
	for _, s := range e.slots {
		if s.pending {
			s.pending = false
			e.rebuild(s, frame)
		}
	}
	if n := e.retired.collect(e.dev, frame, maxInFlight); n > 0 {
		slog.Debug("pipeline: destroyed retired objects", "count", n, "frame", frame)
		e.retiredChanged()
	}
	return err
}

func (e *Engine) poll() error {
	for {
		n, err := e.watcher.Poll(e.polled)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		for _, id := range e.polled[:n] {
			if s, ok := e.byWatch[id]; ok {
				s.pending = true
			}
		}
		if n < len(e.polled) {
			return nil
		}
	}
}

// built holds the objects of one successful build.
type built struct {
	modules  [numStages]Handle
	pipeline Handle
	layout   Handle
}

// build creates shader modules from SPIR-V and the pipeline from them.
// On failure every object it created is destroyed.
func (e *Engine) build(s *Slot, spirv [numStages][]byte) (b built, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, m := range b.modules {
			if m != 0 {
				e.dev.DestroyShaderModule(m)
			}
		}
	}()
	for st := range numStages {
		m, err := e.dev.CreateShaderModule(spirv[st])
		if err != nil {
			return b, &CreationError{Pipeline: s.Desc.Name, Err: err}
		}
		b.modules[st] = m
	}
	p, l, err := s.Desc.Create(e.dev, s.buildInfo(b.modules[VertexStage], b.modules[FragmentStage]))
	if err != nil {
		return b, &CreationError{Pipeline: s.Desc.Name, Err: err}
	}
	b.pipeline, b.layout = p, l
	return b, nil
}

// rebuild compiles the sources of the slot and replaces its live
// objects. A failure leaves the slot as it was.
func (e *Engine) rebuild(s *Slot, frame uint64) {
	start := time.Now()
	err := e.tryRebuild(s, frame)
	if e.OnReload != nil {
		e.OnReload(s.Desc.Name, time.Since(start), err)
	}
	if err != nil {
		s.LastReloadFailed = true
		s.Diagnostic = err.Error()
		slog.Error("pipeline: rebuild failed", "pipeline", s.Desc.Name, "frame", frame, "err", err)
		return
	}
	s.LastReloadFailed = false
	s.Diagnostic = ""
	s.Rebuilds++
	slog.Info("pipeline: rebuilt", "pipeline", s.Desc.Name, "frame", frame, "duration", time.Since(start))
}

func (e *Engine) tryRebuild(s *Slot, frame uint64) error {
	if e.compiler == nil {
		return fmt.Errorf("%w for %s", ErrNoCompiler, s.Desc.Name)
	}
	var spirv [numStages][]byte
	for st := range numStages {
		path := s.Desc.Sources[st]
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("pipeline: %s: %w", s.Desc.Name, err)
		}
		spirv[st], err = e.compiler.Compile(src, stages[st], filepath.Base(path))
		if err != nil {
			return err
		}
	}
	b, err := e.build(s, spirv)
	if err != nil {
		return err
	}
	e.retire(s, frame)
	e.publish(s, b, frame)
	return nil
}

func (e *Engine) retire(s *Slot, frame uint64) {
	e.retired.push(pipelineObject, s.Pipeline, frame)
	e.retired.push(pipelineLayout, s.Layout, frame)
	for _, m := range s.Modules {
		e.retired.push(shaderModule, m, frame)
	}
	e.retiredChanged()
}

func (e *Engine) publish(s *Slot, b built, frame uint64) {
	s.Pipeline = b.pipeline
	s.Layout = b.layout
	s.Modules = b.modules
	s.PublishedFrame = frame
}

func (e *Engine) retiredChanged() {
	if e.OnRetire != nil {
		e.OnRetire(len(e.retired.objects))
	}
}

// Close destroys every retired and live object and removes all watches.
// The device must be idle.
func (e *Engine) Close() {
	e.retired.drain(e.dev)
	for _, s := range e.slots {
		if e.watcher != nil {
			e.DisableHotReload(s)
		}
		if s.Pipeline != 0 {
			e.dev.DestroyPipeline(s.Pipeline)
		}
		if s.Layout != 0 {
			e.dev.DestroyPipelineLayout(s.Layout)
		}
		for _, m := range s.Modules {
			if m != 0 {
				e.dev.DestroyShaderModule(m)
			}
		}
		s.Pipeline, s.Layout, s.Modules = 0, 0, [numStages]Handle{}
	}
	e.retiredChanged()
}
