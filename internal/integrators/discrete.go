package integrators

// DiscreteMap treats f as a map: each step replaces x with f(x) and
// advances t by dt. dt only scales the reported time axis.
type DiscreteMap struct {
	scratch []float64
}

func NewDiscreteMap() *DiscreteMap {
	return &DiscreteMap{}
}

func (d *DiscreteMap) Step(f Func, t *float64, x []float64, dt float64) error {
	n := len(x)
	if len(d.scratch) != n {
		d.scratch = make([]float64, n)
	}
	if err := f(*t, x, d.scratch); err != nil {
		return err
	}
	copy(x, d.scratch)
	*t += dt
	return nil
}
