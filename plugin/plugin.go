// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plugin builds, loads and versions native simulation back-ends.
//
// A plugin is described by a [Descriptor] read from the info.toml file in
// its source directory. The [Loader] runs the plugin's build command, opens
// the shared library it produces and resolves every entry point the
// descriptor names. The [Registry] keeps every successfully loaded
// [Version] of each plugin in an append-only list with one selected
// version, and moves the simulation state across versions when the
// selection changes.
package plugin

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrIncompatibleStateTransfer is returned by [Registry.Select] when the
	// state of the selected version cannot be moved to the new version.
	// The previous selection is kept.
	ErrIncompatibleStateTransfer = errors.New("plugin: incompatible state transfer")

	// ErrUnknownPlugin is returned for plugin ids that were never registered.
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")

	// ErrUnknownVersion is returned for version ordinals that do not exist.
	ErrUnknownVersion = errors.New("plugin: unknown version")

	// ErrUnknownKind is returned when a descriptor names a kind with no
	// registered [Kind].
	ErrUnknownKind = errors.New("plugin: unknown kind")
)

// BuildError is returned when the build command of a plugin fails.
type BuildError struct {
	Command  string
	ExitCode int

	// Stderr is the captured standard error of the build.
	Stderr string

	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("plugin: build %q failed with exit code %d", e.Command, e.ExitCode)
}

func (e *BuildError) Unwrap() error { return e.Err }

// OpenError is returned when the built library cannot be opened.
type OpenError struct {
	Path string

	// Msg is the dynamic linker message.
	Msg string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("plugin: open %s: %s", e.Path, e.Msg)
}

// MissingSymbolError is returned when a required entry point
// cannot be resolved from the built library.
type MissingSymbolError struct {
	Path string
	Name string
	Msg  string
}

func (e *MissingSymbolError) Error() string {
	return fmt.Sprintf("plugin: missing symbol %q in %s: %s", e.Name, e.Path, e.Msg)
}

// Library is an open plugin library.
type Library interface {
	Path() string
	Symbol(name string) (unsafe.Pointer, error)
	Close() error
}

// State is the opaque simulation state owned by a plugin version.
type State any

// Snapshot is a version-independent copy of a [State], produced by
// [Kind.Download] and consumed by [Kind.Upload].
type Snapshot any

// Kind implements the entry-point table of one kind of plugin,
// such as the fluid simulation. The registry calls it to bind the
// resolved symbols of a version and to move state between versions.
type Kind interface {

	// Name is the kind name used in descriptors.
	Name() string

	// Bind builds the entry-point table of the version from its
	// resolved symbols.
	Bind(v *Version) (any, error)

	// Create creates a fresh state using the version.
	Create(v *Version) (State, error)

	// Destroy releases a state created by the same version.
	Destroy(v *Version, s State)

	// Download copies the state into a snapshot.
	Download(v *Version, s State) (Snapshot, error)

	// Upload loads a snapshot into a state of the version.
	Upload(v *Version, s State, snap Snapshot) error
}

// Version is one successful load of a plugin.
type Version struct {

	// Ordinal is the position of the version in the plugin's version
	// list, starting at 0.
	Ordinal int

	// PluginID is the id of the plugin the version belongs to.
	PluginID string

	// Descriptor is the descriptor the version was built from.
	Descriptor *Descriptor

	// Lib is the open library.
	Lib Library

	// Symbols are the resolved entry points by name.
	Symbols map[string]unsafe.Pointer

	// Table is the entry-point table built by [Kind.Bind].
	Table any

	// Schema is the state schema version the plugin was built with.
	Schema *semver.Version

	// StateSize and StateAlign describe the plugin's state blob.
	StateSize  int
	StateAlign int

	// BuildOutput is the combined captured output of the build.
	BuildOutput string

	// LoadedAt is when the library was opened.
	LoadedAt time.Time

	// Annotation is a user note shown next to the version.
	Annotation string

	// Hidden versions are omitted from version lists in the UI.
	Hidden bool
}

func (v *Version) String() string {
	return fmt.Sprintf("%s v%d", v.PluginID, v.Ordinal)
}

// Unload closes the library of the version. All states created by the
// version must be destroyed first.
func Unload(v *Version) error {
	if v.Lib == nil {
		return nil
	}
	err := v.Lib.Close()
	v.Lib = nil
	v.Symbols = nil
	v.Table = nil
	return err
}

// compatible returns an error wrapping [ErrIncompatibleStateTransfer]
// if state cannot move from the old version to the new one.
func compatible(old, new *Version) error {
	if old.StateSize != new.StateSize {
		return fmt.Errorf("%w: state size %d of %s does not match %d of %s",
			ErrIncompatibleStateTransfer, old.StateSize, old, new.StateSize, new)
	}
	if old.Schema != nil && new.Schema != nil && old.Schema.Major() != new.Schema.Major() {
		return fmt.Errorf("%w: schema %s of %s is incompatible with %s of %s",
			ErrIncompatibleStateTransfer, old.Schema, old, new.Schema, new)
	}
	return nil
}
