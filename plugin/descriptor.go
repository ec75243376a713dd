// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// DescriptorFile is the name of the descriptor file in a plugin directory.
const DescriptorFile = "info.toml"

// Arg is an argument of a plugin procedure.
type Arg struct {
	Type string `toml:"type"`
	Name string `toml:"name,omitempty"`
}

// Procedure is an entry point the plugin library must export.
type Procedure struct {
	Name   string `toml:"name"`
	Return string `toml:"return"`
	Args   []Arg  `toml:"args"`
}

// Descriptor is the static description of a plugin, read from
// the info.toml in its source directory.
type Descriptor struct {

	// ID is the plugin id; it defaults to the directory name.
	ID string `toml:"id"`

	// Kind names the [Kind] implementing the entry-point table.
	Kind string `toml:"kind"`

	// BuildCommand is the shell-style command that builds the library.
	// It may reference $OUTPUT, $SOURCE_ROOT, $ID and $BUILD_DIR.
	// If it is empty, Library is opened without building.
	BuildCommand string `toml:"build_command"`

	// Library is a prebuilt library path, used when BuildCommand is empty.
	Library string `toml:"library"`

	// Schema is the semantic version of the state schema.
	Schema string `toml:"schema"`

	// StateSize and StateAlign describe the plugin's state blob.
	StateSize  int `toml:"state_size"`
	StateAlign int `toml:"state_align"`

	// Sources are the files watched for autoreload, relative to Dir.
	// If empty, every regular file under Dir is watched.
	Sources []string `toml:"sources"`

	// Procedures are the required entry points.
	Procedures []Procedure `toml:"procedures"`

	// Dir is the plugin source root.
	Dir string `toml:"-"`

	// Path is the descriptor file path; it is empty for descriptors
	// constructed in code.
	Path string `toml:"-"`
}

// LoadDescriptor reads the descriptor in the given plugin directory.
func LoadDescriptor(dir string) (*Descriptor, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, DescriptorFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: %w", err)
	}
	d := &Descriptor{}
	if err := toml.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	d.Dir = dir
	d.Path = path
	if d.ID == "" {
		d.ID = filepath.Base(dir)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return d, nil
}

// DiscoverDescriptors reads the descriptor of every directory directly
// under root that contains one, in directory name order.
func DiscoverDescriptors(root string) ([]*Descriptor, error) {
	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("plugin: %w", err)
	}
	var ds []*Descriptor
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		d, err := LoadDescriptor(dir)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

// Validate checks the descriptor for missing or malformed fields.
func (d *Descriptor) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if d.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if d.BuildCommand == "" && d.Library == "" {
		errs = append(errs, errors.New("one of build_command and library is required"))
	}
	if d.Schema != "" {
		if _, err := semver.NewVersion(d.Schema); err != nil {
			errs = append(errs, fmt.Errorf("schema %q: %w", d.Schema, err))
		}
	}
	if d.StateSize < 0 {
		errs = append(errs, errors.New("state_size must not be negative"))
	}
	if d.StateAlign != 0 && d.StateAlign&(d.StateAlign-1) != 0 {
		errs = append(errs, fmt.Errorf("state_align %d is not a power of two", d.StateAlign))
	}
	seen := map[string]bool{}
	for i, p := range d.Procedures {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("procedures[%d]: name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("procedures[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// SchemaVersion returns the parsed schema version, or nil if none is set.
func (d *Descriptor) SchemaVersion() (*semver.Version, error) {
	if d.Schema == "" {
		return nil, nil
	}
	return semver.NewVersion(d.Schema)
}

// SymbolNames returns the names of the required entry points.
func (d *Descriptor) SymbolNames() []string {
	names := make([]string, len(d.Procedures))
	for i, p := range d.Procedures {
		names[i] = p.Name
	}
	return names
}

// SourceFiles returns the absolute paths of the files to watch.
func (d *Descriptor) SourceFiles() ([]string, error) {
	if len(d.Sources) > 0 {
		files := make([]string, len(d.Sources))
		for i, s := range d.Sources {
			if filepath.IsAbs(s) {
				files[i] = s
			} else {
				files[i] = filepath.Join(d.Dir, s)
			}
		}
		return files, nil
	}
	if d.Dir == "" {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(d.Dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("plugin: listing sources of %s: %w", d.ID, err)
	}
	slices.Sort(files)
	return files, nil
}

// reload re-reads the descriptor file, if any, so that a load sees
// the current build command, schema and state size.
func (d *Descriptor) reload() (*Descriptor, error) {
	if d.Path == "" {
		return d, nil
	}
	nd, err := LoadDescriptor(d.Dir)
	if err != nil {
		return nil, err
	}
	if nd.ID != d.ID {
		return nil, fmt.Errorf("plugin: %s: id changed from %q to %q", d.Path, d.ID, nd.ID)
	}
	return nd, nil
}
