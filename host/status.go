// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

// PluginStatus is the banner data of one plugin.
type PluginStatus struct {
	ID               string
	Versions         int
	Selected         int
	LastReloadFailed bool
	Diagnostic       string
}

// PipelineStatus is the banner data of one pipeline.
type PipelineStatus struct {
	Name             string
	Rebuilds         int
	LastReloadFailed bool
	Diagnostic       string
}

// Status is the state of the host shown to the user.
type Status struct {
	Frame     uint64
	Particles int
	Retired   int
	Plugins   []PluginStatus
	Pipelines []PipelineStatus
}

// Failed reports whether the last reload of any plugin or pipeline failed.
func (s *Status) Failed() bool {
	for _, p := range s.Plugins {
		if p.LastReloadFailed {
			return true
		}
	}
	for _, p := range s.Pipelines {
		if p.LastReloadFailed {
			return true
		}
	}
	return false
}

// Status returns the current status.
func (h *Host) Status() *Status {
	st := &Status{Frame: h.frame, Retired: h.Engine.Retired()}
	if b := h.Simulator(); b != nil {
		st.Particles = b.Len()
	}
	for _, id := range h.Registry.IDs() {
		p := h.Registry.Plugin(id)
		ps := PluginStatus{
			ID:               id,
			Versions:         h.Registry.Len(id),
			Selected:         -1,
			LastReloadFailed: p.LastReloadFailed,
			Diagnostic:       p.Diagnostic,
		}
		if v := h.Registry.Selected(id); v != nil {
			ps.Selected = v.Ordinal
		}
		st.Plugins = append(st.Plugins, ps)
	}
	for _, s := range h.Engine.Slots() {
		st.Pipelines = append(st.Pipelines, PipelineStatus{
			Name:             s.Desc.Name,
			Rebuilds:         s.Rebuilds,
			LastReloadFailed: s.LastReloadFailed,
			Diagnostic:       s.Diagnostic,
		})
	}
	return st
}
