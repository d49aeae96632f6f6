// Package config loads the YAML configuration of the simulation. Unknown keys are rejected so a
// typo never silently falls back to a default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Render clear modes.
const (
	ClearModeClear      = "clear"
	ClearModeAccumulate = "accumulate"
)

// Config is the full configuration file. All top-level sections must be listed to satisfy
// KnownFields(true) strict parsing.
type Config struct {
	Window     WindowConfig     `yaml:"window"`
	Simulation SimulationConfig `yaml:"simulation"`
	Render     RenderConfig     `yaml:"render"`
	Shaders    ShaderConfig     `yaml:"shaders"`
	HotReload  HotReloadConfig  `yaml:"hot_reload"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	VSync  bool   `yaml:"vsync"`
}

type SimulationConfig struct {
	// Grid is the side of the square simulation fields in texels.
	Grid int `yaml:"grid"`

	// LocalSize is the side of a compute workgroup. Grid must be a multiple of it.
	LocalSize int `yaml:"local_size"`

	Particles  int     `yaml:"particles"`
	Iterations int     `yaml:"iterations"`
	TimeStep   float32 `yaml:"time_step"`
	Seed       uint64  `yaml:"seed"`
}

// Workgroups returns the dispatch size covering the grid.
func (s SimulationConfig) Workgroups() [3]uint32 {
	n := uint32(s.Grid / s.LocalSize)
	return [3]uint32{n, n, 1}
}

// ParticleWorkgroups returns the one-dimensional dispatch size covering every particle.
func (s SimulationConfig) ParticleWorkgroups(localSize int) [3]uint32 {
	return [3]uint32{uint32((s.Particles + localSize - 1) / localSize), 1, 1}
}

type RenderConfig struct {
	// ClearMode is "clear" to clear every frame or "accumulate" to draw over previous frames.
	ClearMode string `yaml:"clear_mode"`

	// Fade draws a translucent fullscreen pass before the particles in accumulate mode.
	Fade bool `yaml:"fade"`
}

// Clear reports whether the render target is cleared every frame.
func (r RenderConfig) Clear() bool {
	return r.ClearMode == ClearModeClear
}

// ShaderConfig names the program source files. Relative paths resolve against Dir.
type ShaderConfig struct {
	Dir            string `yaml:"dir"`
	Jacobi         string `yaml:"jacobi"`
	Advect         string `yaml:"advect"`
	Inject         string `yaml:"inject"`
	Particles      string `yaml:"particles"`
	RenderVertex   string `yaml:"render_vertex"`
	RenderFragment string `yaml:"render_fragment"`
	FadeVertex     string `yaml:"fade_vertex"`
	FadeFragment   string `yaml:"fade_fragment"`
}

// Path resolves a configured shader file against Dir.
func (s ShaderConfig) Path(file string) string {
	if filepath.IsAbs(file) || s.Dir == "" {
		return file
	}
	return filepath.Join(s.Dir, file)
}

type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`

	// Queue is the capacity of the change notification queue.
	Queue int `yaml:"queue"`

	// Workers bounds concurrent recompiles.
	Workers int `yaml:"workers"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:  "oxy-fluid",
			Width:  1024,
			Height: 1024,
			VSync:  true,
		},
		Simulation: SimulationConfig{
			Grid:       512,
			LocalSize:  32,
			Particles:  10000,
			Iterations: 30,
			TimeStep:   0.1,
			Seed:       1,
		},
		Render: RenderConfig{
			ClearMode: ClearModeClear,
			Fade:      true,
		},
		Shaders: ShaderConfig{
			Dir:            "assets/shaders",
			Jacobi:         "jacobi.wgsl",
			Advect:         "advect.wgsl",
			Inject:         "inject.wgsl",
			Particles:      "particles.wgsl",
			RenderVertex:   "render.vert.wgsl",
			RenderFragment: "render.frag.wgsl",
			FadeVertex:     "fade.vert.wgsl",
			FadeFragment:   "fade.frag.wgsl",
		},
		HotReload: HotReloadConfig{
			Enabled: true,
			Queue:   64,
			Workers: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep their default value.
//
// Parameters:
//   - path: the config file
//
// Returns:
//   - Config: the merged configuration, not yet validated
//   - error: an error if the file cannot be read or holds unknown keys
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Window.Width > 0 && c.Window.Height > 0, "window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)

	sim := c.Simulation
	check(sim.Grid > 0, "simulation.grid must be positive, got %d", sim.Grid)
	check(sim.LocalSize > 0, "simulation.local_size must be positive, got %d", sim.LocalSize)
	if sim.Grid > 0 && sim.LocalSize > 0 {
		check(sim.Grid%sim.LocalSize == 0, "simulation.grid %d is not a multiple of local_size %d", sim.Grid, sim.LocalSize)
	}
	check(sim.Particles > 0, "simulation.particles must be positive, got %d", sim.Particles)
	check(sim.Iterations >= 0 && sim.Iterations%2 == 0, "simulation.iterations must be zero or even, got %d", sim.Iterations)
	check(sim.TimeStep > 0, "simulation.time_step must be positive, got %g", sim.TimeStep)

	check(c.Render.ClearMode == ClearModeClear || c.Render.ClearMode == ClearModeAccumulate,
		"render.clear_mode must be %q or %q, got %q", ClearModeClear, ClearModeAccumulate, c.Render.ClearMode)

	for name, file := range map[string]string{
		"jacobi":          c.Shaders.Jacobi,
		"advect":          c.Shaders.Advect,
		"inject":          c.Shaders.Inject,
		"particles":       c.Shaders.Particles,
		"render_vertex":   c.Shaders.RenderVertex,
		"render_fragment": c.Shaders.RenderFragment,
	} {
		check(file != "", "shaders.%s is required", name)
	}
	if c.Render.Fade {
		check(c.Shaders.FadeVertex != "" && c.Shaders.FadeFragment != "", "shaders.fade_vertex and shaders.fade_fragment are required when render.fade is set")
	}

	check(c.HotReload.Queue > 0, "hot_reload.queue must be positive, got %d", c.HotReload.Queue)
	check(c.HotReload.Workers > 0, "hot_reload.workers must be positive, got %d", c.HotReload.Workers)

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
