// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config contains the configuration structs for the
// particle simulation host, loaded from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is the configuration file read when none is given.
const DefaultFile = "particlesim.toml"

// Config is the main config struct that contains all of the
// configuration options for the host.
type Config struct {

	// LogLevel is the verbosity: debug, info, warn or error.
	LogLevel string `toml:"log_level"`

	// Watch enables watching shader and plugin sources for changes.
	Watch bool `toml:"watch"`

	// Autoreload rebuilds plugins when their sources change and selects
	// the new version when the build succeeds.
	Autoreload bool `toml:"autoreload"`

	// Workers is the number of thread pool workers.
	Workers int `toml:"workers"`

	// MaxFramesInFlight bounds the number of submitted but unretired frames.
	MaxFramesInFlight int `toml:"max_frames_in_flight"`

	// FrameInterval is the tick of the headless frame loop.
	FrameInterval Duration `toml:"frame_interval"`

	// PluginsDir contains one directory per plugin, each with an info.toml.
	PluginsDir string `toml:"plugins_dir"`

	// BuildDir receives plugin build artifacts.
	BuildDir string `toml:"build_dir"`

	// ShadercLibrary is the file name or path of the shaderc shared library.
	ShadercLibrary string `toml:"shaderc_library"`

	// MetricsAddr is the address to serve prometheus metrics on; empty disables it.
	MetricsAddr string `toml:"metrics_addr"`

	// Particles is the number of particles the simulation starts with.
	Particles int `toml:"particles"`

	// Shaders are the graphics pipelines managed by the reload engine.
	Shaders []ShaderConfig `toml:"shaders"`
}

// ShaderConfig describes the sources of one graphics pipeline.
type ShaderConfig struct {

	// Name is the unique pipeline name.
	Name string `toml:"name"`

	// Vertex and Fragment are the GLSL source paths.
	Vertex   string `toml:"vertex"`
	Fragment string `toml:"fragment"`

	// VertexSPV and FragmentSPV are the prebuilt SPIR-V paths used for the
	// initial build; they are also where `shaders` writes its output.
	VertexSPV   string `toml:"vertex_spv"`
	FragmentSPV string `toml:"fragment_spv"`
}

// Duration is a [time.Duration] that is written as a string such as "16ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:          "info",
		Watch:             true,
		Autoreload:        true,
		Workers:           runtime.NumCPU(),
		MaxFramesInFlight: 2,
		FrameInterval:     Duration{16 * time.Millisecond},
		PluginsDir:        "plugins_src",
		BuildDir:          "build/plugins",
		ShadercLibrary:    "libshaderc_shared.so",
		Particles:         1000,
	}
}

// Load reads the configuration file at the given path on top of
// [Defaults]. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// ExpandPaths replaces a leading ~ in every path field with the
// home directory of the current user.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.PluginsDir, &c.BuildDir, &c.ShadercLibrary}
	for i := range c.Shaders {
		sh := &c.Shaders[i]
		paths = append(paths, &sh.Vertex, &sh.Fragment, &sh.VertexSPV, &sh.FragmentSPV)
	}
	for _, p := range paths {
		e, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = e
	}
	return nil
}

// Save writes the configuration as TOML to the given path.
func (c *Config) Save(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate returns an error describing every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxFramesInFlight < 1 {
		errs = append(errs, fmt.Errorf("max_frames_in_flight must be at least 1, got %d", c.MaxFramesInFlight))
	}
	if c.FrameInterval.Duration <= 0 {
		errs = append(errs, errors.New("frame_interval must be positive"))
	}
	if c.Particles < 0 {
		errs = append(errs, errors.New("particles must not be negative"))
	}
	names := map[string]bool{}
	for i, sh := range c.Shaders {
		switch {
		case sh.Name == "":
			errs = append(errs, fmt.Errorf("shaders[%d]: name is required", i))
		case names[sh.Name]:
			errs = append(errs, fmt.Errorf("shaders[%d]: duplicate name %q", i, sh.Name))
		}
		names[sh.Name] = true
		if sh.Vertex == "" || sh.Fragment == "" {
			errs = append(errs, fmt.Errorf("shaders[%d] %q: vertex and fragment sources are required", i, sh.Name))
		}
	}
	return errors.Join(errs...)
}
