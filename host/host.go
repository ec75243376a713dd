// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host ties the subsystems together: it owns the thread
// pool, the file watchers, the shader compiler, the plugin registry
// and the pipeline reload engine, initializes them once and tears
// them down once, and ticks them every frame.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cerrors "cogentcore.org/core/base/errors"

	"github.com/lefp/particle-sim-sub000/config"
	"github.com/lefp/particle-sim-sub000/filewatch"
	"github.com/lefp/particle-sim-sub000/fluidsim"
	"github.com/lefp/particle-sim-sub000/metrics"
	"github.com/lefp/particle-sim-sub000/pipeline"
	"github.com/lefp/particle-sim-sub000/plugin"
	"github.com/lefp/particle-sim-sub000/shaderc"
	"github.com/lefp/particle-sim-sub000/submit"
	"github.com/lefp/particle-sim-sub000/threadpool"
	"github.com/lefp/particle-sim-sub000/vgpu"
)

// Options override the subsystems [New] creates from the config.
type Options struct {

	// GPU opens a Vulkan device instead of the null device.
	GPU bool

	// Device, if set, is used instead of opening one. Create must
	// then be set as well.
	Device pipeline.Device
	Create pipeline.CreateFunc

	// Compiler, if set, is used instead of opening shaderc.
	Compiler pipeline.Compiler

	// Builder, if set, loads plugin versions instead of a [plugin.Loader].
	Builder plugin.Builder

	// Simulation is the id of the plugin that runs the simulation;
	// it defaults to the CPU back-end.
	Simulation string
}

// Host is the single owner of all subsystems.
type Host struct {
	Config   *config.Config
	Pool     *threadpool.Pool
	Kind     *fluidsim.Kind
	Registry *plugin.Registry
	Engine   *pipeline.Engine
	Graph    *submit.Graph
	Metrics  *metrics.Metrics

	// Simulation is the id of the plugin that runs the simulation.
	Simulation string

	shaderWatch *filewatch.Watchlist
	pluginWatch *filewatch.Watchlist
	shaderc     *shaderc.Compiler
	vulkan      *vgpu.Device
	device      pipeline.Device
	create      pipeline.CreateFunc
	renderPass  pipeline.Handle
	server      *metrics.Server

	frame uint64
}

// New initializes every subsystem in dependency order. On error the
// subsystems created so far are closed.
func New(cfg *config.Config, opts Options) (h *Host, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	h = &Host{Config: cfg, Metrics: metrics.New(), Graph: submit.NewGraph()}
	defer func() {
		if err != nil {
			h.Close()
			h = nil
		}
	}()

	h.Pool = threadpool.New(cfg.Workers)
	if cfg.Watch {
		if h.shaderWatch, err = filewatch.New(); err != nil {
			return h, err
		}
		if h.pluginWatch, err = filewatch.New(); err != nil {
			return h, err
		}
	}
	if err = h.initDevice(opts); err != nil {
		return h, err
	}
	compiler := h.initCompiler(opts)
	if err = h.initPlugins(opts); err != nil {
		return h, err
	}
	if err = h.initPipelines(compiler); err != nil {
		return h, err
	}
	if cfg.MetricsAddr != "" {
		h.server = &metrics.Server{}
		if err = h.server.Start(cfg.MetricsAddr, h.Metrics); err != nil {
			h.server = nil
			return h, err
		}
	}
	slog.Info("host: initialized", "plugins", len(h.Registry.IDs()), "pipelines", len(h.Engine.Slots()), "simulation", h.Simulation)
	return h, nil
}

func (h *Host) initDevice(opts Options) error {
	switch {
	case opts.Device != nil:
		if opts.Create == nil {
			return errors.New("host: a device was given without a create function")
		}
		h.device, h.create = opts.Device, opts.Create
	case opts.GPU:
		dv, err := vgpu.Open(vgpu.Options{AppName: "particlesim"})
		if err != nil {
			return fmt.Errorf("host: %w", err)
		}
		h.vulkan = dv
		h.device, h.create, h.renderPass = dv, dv.Create, dv.RenderPass()
	default:
		h.device, h.create = pipeline.NewNullDevice(), pipeline.NullCreate
	}
	return nil
}

// initCompiler returns nil when no compiler is available, which
// disables shader hot reload.
func (h *Host) initCompiler(opts Options) pipeline.Compiler {
	if opts.Compiler != nil {
		return opts.Compiler
	}
	c, err := shaderc.Open(h.Config.ShadercLibrary)
	if err != nil {
		slog.Warn("host: shader hot reload is disabled", "err", err)
		return nil
	}
	h.shaderc = c
	return c
}

func (h *Host) initPlugins(opts Options) error {
	h.Kind = fluidsim.NewKind(h.Pool)
	builder := opts.Builder
	if builder == nil {
		l := plugin.NewLoader(h.Config.BuildDir)
		l.Open = fluidsim.Opener(plugin.OpenLibrary)
		builder = l
	}
	h.Registry = plugin.NewRegistry(builder, h.Kind)
	h.Registry.OnReload = func(id string, d time.Duration, err error) {
		h.Metrics.ObserveReload(metrics.Plugin, id, d, err)
	}
	if h.pluginWatch != nil {
		h.Registry.SetWatcher(h.pluginWatch)
	}

	builtin := fluidsim.BuiltinDescriptor()
	if err := h.Registry.RegisterPlugin(builtin); err != nil {
		return err
	}
	ds, err := plugin.DiscoverDescriptors(h.Config.PluginsDir)
	if err != nil {
		slog.Warn("host: no plugins discovered", "dir", h.Config.PluginsDir, "err", err)
	}
	for _, d := range ds {
		if err := h.Registry.RegisterPlugin(d); err != nil {
			return err
		}
		if h.pluginWatch == nil {
			continue
		}
		if err := h.Registry.WatchSources(d.ID); err != nil {
			slog.Warn("host: plugin sources are not watched", "plugin", d.ID, "err", err)
			continue
		}
		cerrors.Log(h.Registry.SetAutoreload(d.ID, h.Config.Autoreload))
	}

	h.Simulation = opts.Simulation
	if h.Simulation == "" {
		h.Simulation = builtin.ID
	}
	v, err := h.Registry.RequestReload(h.Simulation)
	if err != nil {
		return fmt.Errorf("host: loading simulation %q: %w", h.Simulation, err)
	}
	if _, err := h.Registry.Select(h.Simulation, v.Ordinal); err != nil {
		return fmt.Errorf("host: selecting simulation %q: %w", h.Simulation, err)
	}
	return h.Simulator().Upload(Lattice(h.Config.Particles, h.Kind.Params.InteractionRadius()/2))
}

func (h *Host) initPipelines(compiler pipeline.Compiler) error {
	var watcher pipeline.Watcher
	if h.shaderWatch != nil && compiler != nil {
		watcher = h.shaderWatch
	}
	h.Engine = pipeline.NewEngine(h.device, compiler, watcher)
	h.Engine.OnReload = func(name string, d time.Duration, err error) {
		h.Metrics.ObserveReload(metrics.Pipeline, name, d, err)
	}
	h.Engine.OnRetire = h.Metrics.SetRetired
	for _, sc := range h.Config.Shaders {
		s, err := h.Engine.AddSlot(pipeline.Desc{
			Name:       sc.Name,
			Sources:    [2]string{sc.Vertex, sc.Fragment},
			SPIRV:      [2]string{sc.VertexSPV, sc.FragmentSPV},
			Create:     h.create,
			RenderPass: h.renderPass,
		})
		if err != nil {
			return err
		}
		if err := h.Engine.InitFromPrebuilt(s); err != nil {
			return err
		}
		if watcher == nil {
			continue
		}
		if err := h.Engine.EnableHotReload(s); err != nil {
			slog.Warn("host: shader sources are not watched", "pipeline", sc.Name, "err", err)
		}
	}
	return nil
}

// Simulator returns the simulation state of the selected version.
func (h *Host) Simulator() fluidsim.Backend {
	b, _ := h.Registry.State(h.Simulation).(fluidsim.Backend)
	return b
}

// FrameIndex returns the index of the last frame.
func (h *Host) FrameIndex() uint64 {
	return h.frame
}

// Frame ticks one frame: plugin autoreload, pipeline rebuilds and
// retirement, one simulation step ordered before the render
// submission, and retirement of old submissions.
func (h *Host) Frame(dt time.Duration) error {
	h.frame++
	var errs []error
	if _, err := h.Registry.HandleChanges(); err != nil {
		errs = append(errs, err)
	}
	inFlight := h.Config.MaxFramesInFlight
	if err := h.Engine.OnFrame(h.frame, inFlight); err != nil {
		errs = append(errs, err)
	}

	sim, err := h.Graph.Add(h.frame, "fluid_sim", 0)
	if err != nil {
		return err
	}
	if b := h.Simulator(); b != nil {
		if err := b.Advance(float32(dt.Seconds()), fluidsim.Sync{}); err != nil {
			errs = append(errs, fmt.Errorf("host: advancing simulation: %w", err))
		}
	}
	if _, err := h.Graph.Add(h.frame, "render", 0, sim); err != nil {
		errs = append(errs, err)
	}
	if h.frame > uint64(inFlight) {
		h.Graph.Retire(h.frame - uint64(inFlight))
	}
	h.Metrics.Frames.Inc()
	return errors.Join(errs...)
}

// Run ticks frames at the configured interval until ctx is done.
// Frame errors are logged.
func (h *Host) Run(ctx context.Context) error {
	interval := h.Config.FrameInterval.Duration
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := h.Frame(interval); err != nil {
				slog.Error("host: frame", "frame", h.frame, "err", err)
			}
		}
	}
}

// Close tears down every subsystem in reverse order of [New].
func (h *Host) Close() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		cerrors.Log(h.server.Stop(ctx))
		cancel()
		h.server = nil
	}
	if h.Engine != nil {
		if w, ok := h.device.(interface{ WaitIdle() }); ok {
			w.WaitIdle()
		}
		h.Engine.Close()
		h.Engine = nil
	}
	if h.Registry != nil {
		cerrors.Log(h.Registry.Close())
		h.Registry = nil
	}
	if h.shaderc != nil {
		cerrors.Log(h.shaderc.Close())
		h.shaderc = nil
	}
	if h.vulkan != nil {
		h.vulkan.Close()
		h.vulkan = nil
	}
	for _, w := range []**filewatch.Watchlist{&h.pluginWatch, &h.shaderWatch} {
		if *w != nil {
			cerrors.Log((*w).Close())
			*w = nil
		}
	}
	if h.Pool != nil {
		h.Pool.Close()
		h.Pool = nil
	}
}

// Lattice returns n resting particles on a cubic lattice with the
// given spacing, centered on the origin.
func Lattice(n int, spacing float32) []fluidsim.Particle {
	side := 1
	for side*side*side < n {
		side++
	}
	off := float32(side-1) * spacing / 2
	ps := make([]fluidsim.Particle, 0, n)
	for i := 0; len(ps) < n; i++ {
		x, y, z := i%side, i/side%side, i/(side*side)
		ps = append(ps, fluidsim.Particle{Position: [3]float32{
			float32(x)*spacing - off,
			float32(y)*spacing - off,
			float32(z)*spacing - off,
		}})
	}
	return ps
}
