// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"fmt"
	"log/slog"
	"slices"

	cerrors "cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/filewatch"
)

// SetWatcher sets the watcher used by [Registry.WatchSources]. The
// registry must be the only consumer of the watcher's events.
func (r *Registry) SetWatcher(w Watcher) {
	r.watcher = w
}

// SetAutoreload enables or disables autoreload of the plugin.
func (r *Registry) SetAutoreload(id string, on bool) error {
	p, err := r.plugin(id)
	if err != nil {
		return err
	}
	p.autoreload = on
	return nil
}

// Autoreload reports whether autoreload is enabled for the plugin.
func (r *Registry) Autoreload(id string) bool {
	p, ok := r.plugins[id]
	return ok && p.autoreload
}

// WatchSources registers the source files of the plugin with the
// watcher, replacing any previous registrations.
func (r *Registry) WatchSources(id string) error {
	p, err := r.plugin(id)
	if err != nil {
		return err
	}
	if r.watcher == nil {
		return fmt.Errorf("plugin: no watcher set")
	}
	files, err := p.Descriptor.SourceFiles()
	if err != nil {
		return err
	}
	r.unwatch(p)
	for _, f := range files {
		w, err := r.watcher.Add(f)
		if err != nil {
			r.unwatch(p)
			return fmt.Errorf("plugin: watching sources of %q: %w", id, err)
		}
		p.watches = append(p.watches, w)
		r.byWatch[w] = id
	}
	slog.Debug("plugin: watching sources", "plugin", id, "files", len(files))
	return nil
}

func (r *Registry) unwatch(p *Plugin) {
	for _, w := range p.watches {
		cerrors.Log(r.watcher.Remove(w))
		delete(r.byWatch, w)
	}
	p.watches = nil
}

// Watched returns the watch ids of the plugin's source files.
func (r *Registry) Watched(id string) []filewatch.ID {
	p, ok := r.plugins[id]
	if !ok {
		return nil
	}
	return slices.Clone(p.watches)
}

// HandleChanges polls the watcher and reloads every plugin with
// autoreload enabled whose sources changed, at most once per plugin.
// A successful reload selects the new version. Failures are recorded
// in [Plugin.LastReloadFailed] and [Plugin.Diagnostic] and the
// selection is kept. It returns the ids of the plugins whose sources
// changed, in registration order.
func (r *Registry) HandleChanges() ([]string, error) {
	if r.watcher == nil {
		return nil, nil
	}
	changed := map[string]bool{}
	for {
		n, err := r.watcher.Poll(r.polled)
		if err != nil {
			return nil, err
		}
		for _, w := range r.polled[:n] {
			if id, ok := r.byWatch[w]; ok {
				changed[id] = true
			}
		}
		if n < len(r.polled) {
			break
		}
	}

	var ids []string
	for _, id := range r.order {
		if !changed[id] {
			continue
		}
		ids = append(ids, id)
		p := r.plugins[id]
		if !p.autoreload {
			slog.Debug("plugin: sources changed", "plugin", id)
			continue
		}
		r.autoreload(p)
	}
	return ids, nil
}

func (r *Registry) autoreload(p *Plugin) {
	id := p.Descriptor.ID
	before := p.Descriptor
	v, err := r.RequestReload(id)
	if err != nil {
		return
	}
	if _, err := r.Select(id, v.Ordinal); err != nil {
		p.LastReloadFailed = true
		p.Diagnostic = err.Error()
		slog.Error("plugin: selecting reloaded version failed", "plugin", id, "version", v.Ordinal, "err", err)
	}
	if p.Descriptor != before && !slices.Equal(p.Descriptor.Sources, before.Sources) {
		cerrors.Log(r.WatchSources(id))
	}
}
