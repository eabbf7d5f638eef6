package integrators

import (
	"math"
	"testing"
)

func decay(_ float64, x, out []float64) error {
	out[0] = -x[0]
	return nil
}

func harmonic(_ float64, x, out []float64) error {
	out[0] = x[1]
	out[1] = -x[0]
	return nil
}

func TestRK4Decay(t *testing.T) {
	r := NewRK4()
	x := []float64{1.0}
	tm := 0.0
	for i := 0; i < 100; i++ {
		if err := r.Step(decay, &tm, x, 0.01); err != nil {
			t.Fatal(err)
		}
	}
	want := math.Exp(-1.0)
	if math.Abs(x[0]-want) > 1e-8 {
		t.Errorf("decay after t=1: got %v, want %v", x[0], want)
	}
	if math.Abs(tm-1.0) > 1e-12 {
		t.Errorf("time = %v, want 1", tm)
	}
}

func TestRK4HarmonicEnergy(t *testing.T) {
	r := NewRK4()
	x := []float64{1.0, 0.0}
	tm := 0.0
	for i := 0; i < 1000; i++ {
		if err := r.Step(harmonic, &tm, x, 0.01); err != nil {
			t.Fatal(err)
		}
	}
	energy := x[0]*x[0] + x[1]*x[1]
	if math.Abs(energy-1.0) > 1e-6 {
		t.Errorf("energy drift: %v", energy)
	}
}

func TestTsit5MatchesExponential(t *testing.T) {
	s := NewTsit5()
	x := []float64{1.0}
	tm := 0.0
	for i := 0; i < 50; i++ {
		if err := s.Step(decay, &tm, x, 0.02); err != nil {
			t.Fatal(err)
		}
	}
	want := math.Exp(-1.0)
	if math.Abs(x[0]-want) > 1e-10 {
		t.Errorf("Tsit5 decay: got %v, want %v", x[0], want)
	}
}

func TestTsit5OrderBeatsRK4(t *testing.T) {
	coarse := func(s Stepper, dt float64, steps int) float64 {
		x := []float64{1.0}
		tm := 0.0
		for i := 0; i < steps; i++ {
			if err := s.Step(decay, &tm, x, dt); err != nil {
				t.Fatal(err)
			}
		}
		return math.Abs(x[0] - math.Exp(-1.0))
	}
	errRK4 := coarse(NewRK4(), 0.1, 10)
	errTsit := coarse(NewTsit5(), 0.1, 10)
	if errTsit > errRK4 {
		t.Errorf("Tsit5 error %v worse than RK4 error %v at the same step", errTsit, errRK4)
	}
}

func TestDiscreteMap(t *testing.T) {
	d := NewDiscreteMap()
	double := func(_ float64, x, out []float64) error {
		out[0] = 2 * x[0]
		return nil
	}
	x := []float64{1.0}
	tm := 0.0
	for i := 0; i < 8; i++ {
		if err := d.Step(double, &tm, x, 1.0); err != nil {
			t.Fatal(err)
		}
	}
	if x[0] != 256.0 {
		t.Errorf("doubling map after 8 steps: got %v, want 256", x[0])
	}
	if tm != 8.0 {
		t.Errorf("time = %v, want 8", tm)
	}
}
