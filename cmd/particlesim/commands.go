// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lefp/particle-sim-sub000/config"
	"github.com/lefp/particle-sim-sub000/fluidsim"
	"github.com/lefp/particle-sim-sub000/host"
	"github.com/lefp/particle-sim-sub000/logx"
	"github.com/lefp/particle-sim-sub000/plugin"
	"github.com/lefp/particle-sim-sub000/shaderc"
)

// Version is set at build time with -ldflags.
var Version = ""

type globalFlags struct {
	config string
	vv     bool
	v      bool
	q      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "particlesim",
		Short:         "Particle simulation host with hot-reloadable shaders and plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", config.DefaultFile, "configuration file")
	root.PersistentFlags().BoolVar(&g.vv, "vv", false, "show debug messages")
	root.PersistentFlags().BoolVarP(&g.v, "verbose", "v", false, "show info messages")
	root.PersistentFlags().BoolVarP(&g.q, "quiet", "q", false, "show only errors")

	root.AddCommand(
		newWatchCmd(g),
		newBuildCmd(g),
		newShadersCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and sets up the default logger.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	level, err := logx.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logx.UserLevel = level
	// flags override the file
	logx.UserLevel = logx.LevelFromFlags(g.vv, g.v, g.q)
	slog.SetDefault(slog.New(logx.NewHandler(cmd.ErrOrStderr(), logx.UserLevel)))
	return cfg, nil
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		gpu        bool
		frames     int
		simulation string
		noWatch    bool
		metrics    string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the frame loop, rebuilding shaders and plugins when their sources change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if noWatch {
				cfg.Watch = false
			}
			if metrics != "" {
				cfg.MetricsAddr = metrics
			}
			h, err := host.New(cfg, host.Options{GPU: gpu, Simulation: simulation})
			if err != nil {
				return err
			}
			defer h.Close()

			if frames > 0 {
				for range frames {
					if err := h.Frame(cfg.FrameInterval.Duration); err != nil {
						slog.Error("frame", "frame", h.FrameIndex(), "err", err)
					}
				}
			} else {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := h.Run(ctx); err != nil {
					return err
				}
			}
			printStatus(cmd, h.Status())
			return nil
		},
	}
	cmd.Flags().BoolVar(&gpu, "gpu", false, "use a Vulkan device instead of the null device")
	cmd.Flags().IntVar(&frames, "frames", 0, "number of frames to run; 0 runs until interrupted")
	cmd.Flags().StringVar(&simulation, "simulation", "", "id of the plugin running the simulation")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch sources for changes")
	cmd.Flags().StringVar(&metrics, "metrics-addr", "", "address to serve prometheus metrics on")
	return cmd
}

func printStatus(cmd *cobra.Command, st *host.Status) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "frame %d, %d particles, %d retired objects\n", st.Frame, st.Particles, st.Retired)
	for _, p := range st.Plugins {
		fmt.Fprintf(w, "plugin %s: %d versions, selected %d", p.ID, p.Versions, p.Selected)
		if p.LastReloadFailed {
			fmt.Fprintf(w, ", reload failed:\n%s", p.Diagnostic)
		}
		fmt.Fprintln(w)
	}
	for _, p := range st.Pipelines {
		fmt.Fprintf(w, "pipeline %s: %d rebuilds", p.Name, p.Rebuilds)
		if p.LastReloadFailed {
			fmt.Fprintf(w, ", rebuild failed:\n%s", p.Diagnostic)
		}
		fmt.Fprintln(w)
	}
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "build [plugin...]",
		Short: "Build and load every plugin, or the given ones, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			ds, err := plugin.DiscoverDescriptors(cfg.PluginsDir)
			if err != nil {
				return err
			}
			l := plugin.NewLoader(cfg.BuildDir)
			l.Open = fluidsim.Opener(plugin.OpenLibrary)
			r := plugin.NewRegistry(l, fluidsim.NewKind(nil))
			defer r.Close()

			var errs []error
			for _, d := range ds {
				if len(args) > 0 && !slices.Contains(args, d.ID) {
					continue
				}
				if err := r.RegisterPlugin(d); err != nil {
					errs = append(errs, err)
					continue
				}
				start := time.Now()
				v, err := r.RequestReload(d.ID)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: failed\n%s\n", d.ID, plugin.Diagnostic(err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %v\n", d.ID, v.Lib.Path(), time.Since(start).Round(time.Millisecond))
			}
			return errors.Join(errs...)
		},
	}
}

func newShadersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shaders",
		Short: "Compile every configured shader to its SPIR-V file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			c, err := shaderc.Open(cfg.ShadercLibrary)
			if err != nil {
				return err
			}
			defer c.Close()
			return compileShaders(cmd.Context(), c, cfg)
		},
	}
}

type compiler interface {
	Compile(src []byte, stage shaderc.Stage, name string) ([]byte, error)
}

// compileShaders compiles all stages of all shaders concurrently.
func compileShaders(ctx context.Context, c compiler, cfg *config.Config) error {
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Workers)
	for _, sh := range cfg.Shaders {
		for _, job := range [][2]string{{sh.Vertex, sh.VertexSPV}, {sh.Fragment, sh.FragmentSPV}} {
			eg.Go(func() error {
				return compileFile(c, job[0], job[1])
			})
		}
	}
	return eg.Wait()
}

func compileFile(c compiler, src, dst string) error {
	stage, err := shaderc.StageFromPath(src)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	spv, err := c.Compile(b, stage, filepath.Base(src))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	slog.Info("compiled shader", "source", src, "output", dst, "bytes", len(spv))
	return os.WriteFile(dst, spv, 0o644)
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(g.config); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite it", g.config)
			}
			return config.Defaults().Save(g.config)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "particlesim", version())
		},
	}
}

func version() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}
