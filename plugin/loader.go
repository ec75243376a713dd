// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unsafe"

	cerrors "cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/base/dynlib"
	"github.com/lefp/particle-sim-sub000/base/exec"
)

// Loader builds plugins and opens the libraries they produce.
type Loader struct {

	// BuildDir receives build artifacts, one subdirectory per plugin.
	BuildDir string

	// Exec is the base configuration of build commands. Its Env is
	// extended with OUTPUT, SOURCE_ROOT, ID and BUILD_DIR.
	Exec exec.Config

	// Open opens a library; it defaults to the platform dynamic linker.
	Open func(path string) (Library, error)

	// Now returns the current time, used for artifact names.
	Now func() time.Time
}

// NewLoader returns a loader writing artifacts to buildDir.
func NewLoader(buildDir string) *Loader {
	return &Loader{BuildDir: buildDir, Open: OpenLibrary, Now: time.Now}
}

// OpenLibrary opens a shared library with the dynamic linker.
func OpenLibrary(path string) (Library, error) {
	lib, err := dynlib.Open(path)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// OutputPath returns a fresh artifact path for the next build of d.
// Existing artifacts are never reused, since replacing the file
// backing an open library is undefined for most dynamic linkers.
func (l *Loader) OutputPath(d *Descriptor) string {
	dir := filepath.Join(l.BuildDir, d.ID)
	stamp := l.now().UnixNano()
	for {
		path := filepath.Join(dir, d.ID+"-"+strconv.FormatInt(stamp, 10)+".so")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
		stamp++
	}
}

func (l *Loader) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// Load builds the plugin, opens the produced library and resolves
// every procedure named in the descriptor. The descriptor file is
// re-read first. The returned version has no ordinal or table yet;
// those are assigned by the [Registry].
//
// Failures are a [*BuildError], [*OpenError] or [*MissingSymbolError].
func (l *Loader) Load(d *Descriptor) (*Version, error) {
	d, err := d.reload()
	if err != nil {
		return nil, err
	}
	schema, err := d.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: schema: %w", d.ID, err)
	}

	path, output, err := l.build(d)
	if err != nil {
		return nil, err
	}

	open := l.Open
	if open == nil {
		open = OpenLibrary
	}
	lib, err := open(path)
	if err != nil {
		oe := &OpenError{Path: path, Msg: err.Error()}
		var de *dynlib.OpenError
		if errors.As(err, &de) {
			oe.Msg = de.Msg
		}
		return nil, oe
	}

	symbols := make(map[string]unsafe.Pointer, len(d.Procedures))
	for _, name := range d.SymbolNames() {
		p, err := lib.Symbol(name)
		if err != nil {
			cerrors.Log(lib.Close())
			me := &MissingSymbolError{Path: path, Name: name, Msg: err.Error()}
			var se *dynlib.SymbolError
			if errors.As(err, &se) {
				me.Msg = se.Msg
			}
			return nil, me
		}
		symbols[name] = p
	}

	v := &Version{
		PluginID:    d.ID,
		Descriptor:  d,
		Lib:         lib,
		Symbols:     symbols,
		Schema:      schema,
		StateSize:   d.StateSize,
		StateAlign:  d.StateAlign,
		BuildOutput: output,
		LoadedAt:    l.now(),
	}
	slog.Info("plugin: loaded", "plugin", d.ID, "library", path)
	return v, nil
}

// build runs the build command of d and returns the artifact path.
func (l *Loader) build(d *Descriptor) (path, output string, err error) {
	if d.BuildCommand == "" {
		path = d.Library
		if !filepath.IsAbs(path) && d.Dir != "" && filepath.Dir(path) != "." {
			path = filepath.Join(d.Dir, path)
		}
		return path, "", nil
	}

	path = l.OutputPath(d)
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("plugin: %w", err)
	}
	path = filepath.Join(dir, filepath.Base(path))
	buildDir, err := filepath.Abs(l.BuildDir)
	if err != nil {
		return "", "", err
	}

	cfg := l.Exec
	cfg.Env = map[string]string{}
	for k, v := range l.Exec.Env {
		cfg.Env[k] = v
	}
	cfg.Env["OUTPUT"] = path
	cfg.Env["SOURCE_ROOT"] = d.Dir
	cfg.Env["ID"] = d.ID
	cfg.Env["BUILD_DIR"] = buildDir
	if cfg.Dir == "" {
		cfg.Dir = d.Dir
	}

	slog.Info("plugin: building", "plugin", d.ID, "output", path)
	res, err := cfg.Capture(d.BuildCommand)
	if res != nil {
		output = res.Stdout + res.Stderr
	}
	if err != nil {
		be := &BuildError{Command: d.BuildCommand, ExitCode: exec.ExitStatus(err), Err: err}
		if res != nil {
			be.Stderr = res.Stderr
			be.ExitCode = res.ExitCode
		}
		var xe *exec.Error
		if errors.As(err, &xe) && !xe.Ran && be.Stderr == "" {
			be.Stderr = xe.Err.Error()
		}
		return "", output, be
	}
	if _, err := os.Stat(path); err != nil {
		return "", output, &BuildError{Command: d.BuildCommand, Stderr: "build did not produce " + path, Err: err}
	}
	slog.Debug("plugin: built", "plugin", d.ID, "duration", res.Duration)
	return path, output, nil
}
