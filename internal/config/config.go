// Package config loads and saves run configurations: the system
// equations, the continuation settings, and the analysis parameters,
// as yaml files with named presets for the classic systems.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/eqn"
)

// SystemConfig declares a dynamical system by its equation strings.
type SystemConfig struct {
	Name        string    `yaml:"name"`
	Equations   []string  `yaml:"equations"`
	Variables   []string  `yaml:"variables"`
	Parameters  []string  `yaml:"parameters"`
	ParamValues []float64 `yaml:"parameter_values"`
	Map         bool      `yaml:"map,omitempty"`
	Iterations  int       `yaml:"iterations,omitempty"`
}

// Build compiles the declared equations into a system.
func (c SystemConfig) Build() (dynamo.System, dynamo.SystemKind, error) {
	sys, err := eqn.NewSystem(c.Equations, c.Variables, c.Parameters, c.ParamValues)
	if err != nil {
		return nil, dynamo.SystemKind{}, err
	}
	if c.Map {
		iters := c.Iterations
		if iters <= 0 {
			iters = 1
		}
		return sys, dynamo.MapKind(iters), nil
	}
	return sys, dynamo.Flow(), nil
}

// LyapunovConfig mirrors the analysis settings in yaml form.
type LyapunovConfig struct {
	Steps    int     `yaml:"steps"`
	Dt       float64 `yaml:"dt"`
	QRStride int     `yaml:"qr_stride"`
}

// ManifoldConfig selects a surface profile and its caps.
type ManifoldConfig struct {
	Profile         string  `yaml:"profile"`
	Stability       string  `yaml:"stability"`
	MaxRings        int     `yaml:"max_rings,omitempty"`
	MaxVertices     int     `yaml:"max_vertices,omitempty"`
	TargetRadius    float64 `yaml:"target_radius,omitempty"`
	TargetArclength float64 `yaml:"target_arclength,omitempty"`
}

// Config is one complete run description.
type Config struct {
	System       SystemConfig   `yaml:"system"`
	Parameter    string         `yaml:"parameter"`
	Parameter2   string         `yaml:"parameter2,omitempty"`
	Initial      []float64      `yaml:"initial_state"`
	Forward      bool           `yaml:"forward"`
	Continuation cont.Settings  `yaml:"continuation"`
	Lyapunov     LyapunovConfig `yaml:"lyapunov,omitempty"`
	Manifold     ManifoldConfig `yaml:"manifold,omitempty"`
}

// Default is the Lorenz preset; it always builds.
func Default() *Config {
	return Preset("lorenz")
}

func (c *Config) validate() error {
	if len(c.System.Equations) == 0 {
		return dynamo.Configf("configuration declares no equations")
	}
	if len(c.System.Equations) != len(c.System.Variables) {
		return dynamo.Configf("%d equations for %d variables", len(c.System.Equations), len(c.System.Variables))
	}
	if len(c.System.Parameters) != len(c.System.ParamValues) {
		return dynamo.Configf("%d parameters with %d values", len(c.System.Parameters), len(c.System.ParamValues))
	}
	if c.Parameter == "" {
		return dynamo.Configf("configuration names no continuation parameter")
	}
	if len(c.Initial) != 0 && len(c.Initial) != len(c.System.Variables) {
		return dynamo.Configf("initial state length %d does not match %d variables", len(c.Initial), len(c.System.Variables))
	}
	return c.Continuation.Validate()
}

// Load reads and validates a yaml configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dynamo.Configf("read configuration %q: %v", path, err)
	}
	cfg := &Config{Continuation: cont.DefaultSettings()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, dynamo.Configf("parse configuration %q: %v", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as yaml.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return dynamo.Invariantf("encode configuration: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return dynamo.Configf("write configuration %q: %v", path, err)
	}
	return nil
}
