// Package config loads cloth simulation settings from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	BackendCPU = "cpu"
	BackendGPU = "gpu"
)

type Config struct {
	Grid      GridConfig      `yaml:"grid"`
	Mass      MassConfig      `yaml:"mass"`
	Springs   SpringsConfig   `yaml:"springs"`
	Gravity   [3]float64      `yaml:"gravity"`
	Sphere    SphereConfig    `yaml:"sphere"`
	Collision CollisionConfig `yaml:"collision"`
	Solver    SolverConfig    `yaml:"solver"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type GridConfig struct {
	Width   int        `yaml:"width"`
	Height  int        `yaml:"height"`
	Spacing float64    `yaml:"spacing"`
	Plane   string     `yaml:"plane"`
	Origin  [3]float64 `yaml:"origin"`
}

// MassConfig sets the per-particle mass directly or derives it from the total.
type MassConfig struct {
	Total    float64 `yaml:"total"`
	Particle float64 `yaml:"particle"` // wins over Total when positive
}

type CoefficientsConfig struct {
	Stiffness float64 `yaml:"stiffness"`
	Damping   float64 `yaml:"damping"`
}

type SpringsConfig struct {
	Structural CoefficientsConfig `yaml:"structural"`
	Shear      CoefficientsConfig `yaml:"shear"`
	Bend       CoefficientsConfig `yaml:"bend"`
}

type SphereConfig struct {
	Center [3]float64 `yaml:"center"`
	Radius float64    `yaml:"radius"`
}

type CollisionConfig struct {
	Restitution float64 `yaml:"restitution"`
	Friction    float64 `yaml:"friction"`
}

type SolverConfig struct {
	Substeps          int     `yaml:"substeps"`
	Workers           int     `yaml:"workers"`
	ParallelThreshold int     `yaml:"parallel_threshold"`
	Backend           string  `yaml:"backend"`
	FrameDt           float64 `yaml:"frame_dt"`
	MaxFrameDt        float64 `yaml:"max_frame_dt"`
}

type TelemetryConfig struct {
	Dir            string `yaml:"dir"`
	Every          int    `yaml:"every"`
	HeightmapScale int    `yaml:"heightmap_scale"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Merge overlays YAML data on the current values. Keys absent from data are kept.
func (c *Config) Merge(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate rejects settings the solver cannot run with. Errors wrap core.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.ParticleGrid().Validate(); err != nil {
		return err
	}
	if _, err := parsePlane(c.Grid.Plane); err != nil {
		return err
	}
	if c.Solver.Substeps < 1 {
		return &core.ConfigurationError{Field: "solver.substeps", Reason: fmt.Sprintf("must be at least 1, got %d", c.Solver.Substeps)}
	}
	if c.Solver.Workers < 0 {
		return &core.ConfigurationError{Field: "solver.workers", Reason: "must not be negative"}
	}
	switch strings.ToLower(c.Solver.Backend) {
	case BackendCPU, BackendGPU:
	default:
		return &core.ConfigurationError{Field: "solver.backend", Reason: fmt.Sprintf("unknown backend %q", c.Solver.Backend)}
	}
	if c.Solver.FrameDt < 0 || c.Solver.MaxFrameDt < 0 {
		return &core.ConfigurationError{Field: "solver.frame_dt", Reason: "frame times must not be negative"}
	}
	if c.Telemetry.Every < 0 {
		return &core.ConfigurationError{Field: "telemetry.every", Reason: "must not be negative"}
	}
	return c.Params().Validate()
}

// ParticleGrid returns the lattice dimensions.
func (c *Config) ParticleGrid() core.Grid {
	return core.Grid{
		Width:   c.Grid.Width,
		Height:  c.Grid.Height,
		Spacing: float32(c.Grid.Spacing),
	}
}

// Layout returns the initial placement of the sheet. An unknown plane falls back to XY.
func (c *Config) Layout() core.Layout {
	plane, _ := parsePlane(c.Grid.Plane)
	return core.Layout{Origin: vec3(c.Grid.Origin), Plane: plane}
}

// ParticleMass resolves the per-particle mass.
func (c *Config) ParticleMass() float32 {
	if c.Mass.Particle > 0 {
		return float32(c.Mass.Particle)
	}
	n := c.Grid.Width * c.Grid.Height
	if n <= 0 {
		return 0
	}
	return float32(c.Mass.Total / float64(n))
}

// Params builds the initial parameter record. Dt is the substep time of one
// frame of Solver.FrameDt.
func (c *Config) Params() core.Params {
	p := core.Params{
		Gravity:     vec3(c.Gravity),
		Mass:        c.ParticleMass(),
		Structural:  coefficients(c.Springs.Structural),
		Shear:       coefficients(c.Springs.Shear),
		Bend:        coefficients(c.Springs.Bend),
		Sphere:      core.Sphere{Center: vec3(c.Sphere.Center), Radius: float32(c.Sphere.Radius)},
		Restitution: float32(c.Collision.Restitution),
		Friction:    float32(c.Collision.Friction),
	}
	if c.Solver.Substeps > 0 {
		p.Dt = float32(c.Solver.FrameDt) / float32(c.Solver.Substeps)
	}
	return p
}

func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func parsePlane(s string) (core.Plane, error) {
	switch strings.ToLower(s) {
	case "", "xy":
		return core.PlaneXY, nil
	case "xz":
		return core.PlaneXZ, nil
	}
	return core.PlaneXY, &core.ConfigurationError{Field: "grid.plane", Reason: fmt.Sprintf("unknown plane %q", s)}
}

func vec3(v [3]float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

func coefficients(c CoefficientsConfig) core.Coefficients {
	return core.Coefficients{Stiffness: float32(c.Stiffness), Damping: float32(c.Damping)}
}
