package config

import (
	"sort"

	"github.com/avoura/bifurc/internal/cont"
)

// presets are the classic systems, keyed by name. Parameter values
// seed each system in a regime with known bifurcation structure.
var presets = map[string]*Config{
	"lorenz": {
		System: SystemConfig{
			Name:        "lorenz",
			Equations:   []string{"sigma*(y - x)", "x*(rho - z) - y", "x*y - beta*z"},
			Variables:   []string{"x", "y", "z"},
			Parameters:  []string{"sigma", "rho", "beta"},
			ParamValues: []float64{10, 28, 8.0 / 3.0},
		},
		Parameter:  "rho",
		Parameter2: "sigma",
		Initial:    []float64{0, 0, 0},
		Forward:    true,
		Lyapunov:   LyapunovConfig{Steps: 20000, Dt: 0.005, QRStride: 10},
		Manifold:   ManifoldConfig{Profile: "lorenz_global", Stability: "stable"},
	},
	"rossler": {
		System: SystemConfig{
			Name:        "rossler",
			Equations:   []string{"-y - z", "x + a*y", "b + z*(x - c)"},
			Variables:   []string{"x", "y", "z"},
			Parameters:  []string{"a", "b", "c"},
			ParamValues: []float64{0.2, 0.2, 5.7},
		},
		Parameter:  "c",
		Parameter2: "a",
		Initial:    []float64{0, 0, 0},
		Forward:    true,
		Lyapunov:   LyapunovConfig{Steps: 40000, Dt: 0.01, QRStride: 10},
	},
	"vanderpol": {
		System: SystemConfig{
			Name:        "vanderpol",
			Equations:   []string{"y", "mu*(1 - x*x)*y - x + f"},
			Variables:   []string{"x", "y"},
			Parameters:  []string{"mu", "f"},
			ParamValues: []float64{1, 0},
		},
		Parameter:  "mu",
		Parameter2: "f",
		Initial:    []float64{0, 0},
		Forward:    true,
	},
	"hopf": {
		System: SystemConfig{
			Name:        "hopf",
			Equations:   []string{"p*x - y", "x + p*y"},
			Variables:   []string{"x", "y"},
			Parameters:  []string{"p", "q"},
			ParamValues: []float64{-0.5, 0},
		},
		Parameter:  "p",
		Parameter2: "q",
		Initial:    []float64{0, 0},
		Forward:    true,
	},
	"saddle_node": {
		System: SystemConfig{
			Name:        "saddle_node",
			Equations:   []string{"x*x + p + q"},
			Variables:   []string{"x"},
			Parameters:  []string{"p", "q"},
			ParamValues: []float64{-1, 0},
		},
		Parameter:  "p",
		Parameter2: "q",
		Initial:    []float64{1},
		Forward:    true,
	},
	"logistic": {
		System: SystemConfig{
			Name:        "logistic",
			Equations:   []string{"r*x*(1 - x)"},
			Variables:   []string{"x"},
			Parameters:  []string{"r"},
			ParamValues: []float64{2.5},
			Map:         true,
			Iterations:  1,
		},
		Parameter: "r",
		Initial:   []float64{0.6},
		Forward:   true,
		Lyapunov:  LyapunovConfig{Steps: 5000, Dt: 1, QRStride: 1},
	},
}

// Preset returns a deep copy of a named preset, or nil for an unknown
// name. Every preset carries the default continuation settings.
func Preset(name string) *Config {
	src, ok := presets[name]
	if !ok {
		return nil
	}
	cp := *src
	cp.System.Equations = append([]string(nil), src.System.Equations...)
	cp.System.Variables = append([]string(nil), src.System.Variables...)
	cp.System.Parameters = append([]string(nil), src.System.Parameters...)
	cp.System.ParamValues = append([]float64(nil), src.System.ParamValues...)
	cp.Initial = append([]float64(nil), src.Initial...)
	cp.Continuation = cont.DefaultSettings()
	return &cp
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
