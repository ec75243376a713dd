// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	cerrors "cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/filewatch"
)

// Builder loads a new version of a plugin. [*Loader] is the standard
// implementation.
type Builder interface {
	Load(d *Descriptor) (*Version, error)
}

// Watcher is the subset of [filewatch.Watchlist] used for autoreload.
type Watcher interface {
	Add(path string) (filewatch.ID, error)
	Remove(id filewatch.ID) error
	Poll(out []filewatch.ID) (int, error)
}

// Plugin is the registry entry of one plugin.
type Plugin struct {
	Descriptor *Descriptor

	// LastReloadFailed is set when a reload fails and cleared by the
	// next successful one.
	LastReloadFailed bool

	// Diagnostic is the message of the last failed reload.
	Diagnostic string

	kind       Kind
	versions   []*Version
	selected   int
	state      State
	autoreload bool
	watches    []filewatch.ID
}

// Registry is the append-only list of loaded versions of each plugin,
// with one selected version per plugin. It owns the loaded libraries
// and the simulation state of the selected versions. It is not safe
// for concurrent use.
type Registry struct {

	// OnReload, if set, is called after every reload attempt.
	OnReload func(id string, d time.Duration, err error)

	builder Builder
	kinds   map[string]Kind
	plugins map[string]*Plugin
	order   []string

	watcher Watcher
	byWatch map[filewatch.ID]string
	polled  []filewatch.ID
}

// NewRegistry returns an empty registry that loads versions with the
// given builder and supports the given kinds.
func NewRegistry(b Builder, kinds ...Kind) *Registry {
	r := &Registry{
		builder: b,
		kinds:   map[string]Kind{},
		plugins: map[string]*Plugin{},
		byWatch: map[filewatch.ID]string{},
		polled:  make([]filewatch.ID, 64),
	}
	for _, k := range kinds {
		r.kinds[k.Name()] = k
	}
	return r
}

// RegisterPlugin introduces a plugin with an empty version list.
func (r *Registry) RegisterPlugin(d *Descriptor) error {
	if _, ok := r.plugins[d.ID]; ok {
		return fmt.Errorf("plugin: %q is already registered", d.ID)
	}
	k, ok := r.kinds[d.Kind]
	if !ok {
		return fmt.Errorf("%w %q for plugin %q", ErrUnknownKind, d.Kind, d.ID)
	}
	r.plugins[d.ID] = &Plugin{Descriptor: d, kind: k, selected: -1}
	r.order = append(r.order, d.ID)
	return nil
}

// Plugin returns the entry of the given plugin, or nil.
func (r *Registry) Plugin(id string) *Plugin {
	return r.plugins[id]
}

// IDs returns the registered plugin ids in registration order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

func (r *Registry) plugin(id string) (*Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPlugin, id)
	}
	return p, nil
}

func (p *Plugin) version(ordinal int) (*Version, error) {
	if ordinal < 0 || ordinal >= len(p.versions) {
		return nil, fmt.Errorf("%w %d of plugin %q", ErrUnknownVersion, ordinal, p.Descriptor.ID)
	}
	return p.versions[ordinal], nil
}

// RequestReload loads a new version of the plugin and appends it with
// the next ordinal. The selection is not changed. A failure sets
// [Plugin.LastReloadFailed] and keeps the diagnostic.
func (r *Registry) RequestReload(id string) (*Version, error) {
	p, err := r.plugin(id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	v, err := r.load(p)
	if r.OnReload != nil {
		r.OnReload(id, time.Since(start), err)
	}
	if err != nil {
		p.LastReloadFailed = true
		p.Diagnostic = Diagnostic(err)
		slog.Error("plugin: reload failed", "plugin", id, "err", err)
		return nil, err
	}
	p.LastReloadFailed = false
	p.Diagnostic = ""
	slog.Info("plugin: reloaded", "plugin", id, "version", v.Ordinal)
	return v, nil
}

func (r *Registry) load(p *Plugin) (*Version, error) {
	v, err := r.builder.Load(p.Descriptor)
	if err != nil {
		return nil, err
	}
	if v.Descriptor != nil {
		p.Descriptor = v.Descriptor
	}
	v.PluginID = p.Descriptor.ID
	v.Ordinal = len(p.versions)
	t, err := p.kind.Bind(v)
	if err != nil {
		cerrors.Log(Unload(v))
		return nil, err
	}
	v.Table = t
	p.versions = append(p.versions, v)
	return v, nil
}

// Select makes the given version the selected version of the plugin
// and returns the previously selected version, which is nil if there
// was none. The simulation state is moved to the new version by
// downloading it from the old version and uploading it to a fresh state
// of the new one. If the transfer fails, the previous selection and its
// state are kept and the error wraps [ErrIncompatibleStateTransfer].
func (r *Registry) Select(id string, ordinal int) (*Version, error) {
	p, err := r.plugin(id)
	if err != nil {
		return nil, err
	}
	nv, err := p.version(ordinal)
	if err != nil {
		return nil, err
	}
	var prev *Version
	if p.selected >= 0 {
		prev = p.versions[p.selected]
	}
	if prev == nv {
		return prev, nil
	}
	if prev == nil {
		s, err := p.kind.Create(nv)
		if err != nil {
			return nil, fmt.Errorf("plugin: creating state of %s: %w", nv, err)
		}
		p.state = s
		p.selected = ordinal
		slog.Info("plugin: selected", "plugin", id, "version", ordinal)
		return nil, nil
	}

	if err := compatible(prev, nv); err != nil {
		return prev, err
	}
	snap, err := p.kind.Download(prev, p.state)
	if err != nil {
		return prev, fmt.Errorf("plugin: downloading state of %s: %w", prev, err)
	}
	s, err := p.kind.Create(nv)
	if err != nil {
		return prev, fmt.Errorf("plugin: creating state of %s: %w", nv, err)
	}
	if err := p.kind.Upload(nv, s, snap); err != nil {
		p.kind.Destroy(nv, s)
		slog.Warn("plugin: state transfer rolled back", "plugin", id, "from", prev.Ordinal, "to", ordinal, "err", err)
		return prev, fmt.Errorf("%w from %s to %s: %w", ErrIncompatibleStateTransfer, prev, nv, err)
	}
	p.kind.Destroy(prev, p.state)
	p.state = s
	p.selected = ordinal
	slog.Info("plugin: selected", "plugin", id, "version", ordinal, "previous", prev.Ordinal)
	return prev, nil
}

// Selected returns the selected version of the plugin, or nil.
func (r *Registry) Selected(id string) *Version {
	p, ok := r.plugins[id]
	if !ok || p.selected < 0 {
		return nil
	}
	return p.versions[p.selected]
}

// State returns the simulation state of the selected version, or nil.
func (r *Registry) State(id string) State {
	p, ok := r.plugins[id]
	if !ok {
		return nil
	}
	return p.state
}

// Versions returns a sequence of the ordinals and versions of the plugin,
// in ordinal order. It is empty for unknown plugins.
func (r *Registry) Versions(id string) iter.Seq2[int, *Version] {
	return func(yield func(int, *Version) bool) {
		p, ok := r.plugins[id]
		if !ok {
			return
		}
		n := len(p.versions)
		for i := range n {
			if !yield(i, p.versions[i]) {
				return
			}
		}
	}
}

// Len returns the number of versions of the plugin.
func (r *Registry) Len(id string) int {
	p, ok := r.plugins[id]
	if !ok {
		return 0
	}
	return len(p.versions)
}

// Annotate sets the user annotation of a version.
func (r *Registry) Annotate(id string, ordinal int, note string) error {
	v, err := r.lookup(id, ordinal)
	if err != nil {
		return err
	}
	v.Annotation = note
	return nil
}

// Hide marks a version hidden.
func (r *Registry) Hide(id string, ordinal int) error {
	v, err := r.lookup(id, ordinal)
	if err != nil {
		return err
	}
	v.Hidden = true
	return nil
}

// Unhide clears the hidden flag of a version.
func (r *Registry) Unhide(id string, ordinal int) error {
	v, err := r.lookup(id, ordinal)
	if err != nil {
		return err
	}
	v.Hidden = false
	return nil
}

func (r *Registry) lookup(id string, ordinal int) (*Version, error) {
	p, err := r.plugin(id)
	if err != nil {
		return nil, err
	}
	return p.version(ordinal)
}

// Close destroys the states of the selected versions and unloads every
// version, in reverse registration order.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.plugins[r.order[i]]
		if p.selected >= 0 {
			p.kind.Destroy(p.versions[p.selected], p.state)
			p.state = nil
			p.selected = -1
		}
		for _, v := range p.versions {
			if err := Unload(v); err != nil {
				errs = append(errs, err)
			}
		}
		if r.watcher != nil {
			for _, w := range p.watches {
				cerrors.Log(r.watcher.Remove(w))
			}
		}
		p.watches = nil
	}
	clear(r.byWatch)
	return errors.Join(errs...)
}

// Diagnostic returns the text shown to the user for a failed reload.
// For build failures it is the captured stderr.
func Diagnostic(err error) string {
	var be *BuildError
	if errors.As(err, &be) && be.Stderr != "" {
		return be.Stderr
	}
	return err.Error()
}
