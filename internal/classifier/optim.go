package classifier

import "math"

// OptimizerState is the serialized form of an Adam optimizer.
type OptimizerState struct {
	LearningRate float64              `json:"lr"`
	Beta1        float64              `json:"beta1"`
	Beta2        float64              `json:"beta2"`
	Eps          float64              `json:"eps"`
	WeightDecay  float64              `json:"weight_decay"`
	Step         int                  `json:"step"`
	M            map[string][]float64 `json:"exp_avg"`
	V            map[string][]float64 `json:"exp_avg_sq"`
}

// Adam implements the Adam update with L2 weight decay added to the gradient.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// RestoreAdam rebuilds an optimizer from saved state.
func RestoreAdam(s *OptimizerState) *Adam {
	a := NewAdam(s.LearningRate, s.WeightDecay)
	if s.Beta1 > 0 {
		a.Beta1 = s.Beta1
	}
	if s.Beta2 > 0 {
		a.Beta2 = s.Beta2
	}
	if s.Eps > 0 {
		a.Eps = s.Eps
	}
	a.step = s.Step
	for k, v := range s.M {
		a.m[k] = append([]float64(nil), v...)
	}
	for k, v := range s.V {
		a.v[k] = append([]float64(nil), v...)
	}
	return a
}

// Steps returns the number of updates applied.
func (a *Adam) Steps() int {
	return a.step
}

// Apply performs one update of params in place.
func (a *Adam) Apply(params, grads map[string][]float64) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for name, g := range grads {
		p := params[name]
		m, ok := a.m[name]
		if !ok || len(m) != len(p) {
			m = make([]float64, len(p))
			a.m[name] = m
		}
		v, ok := a.v[name]
		if !ok || len(v) != len(p) {
			v = make([]float64, len(p))
			a.v[name] = v
		}

		for i := range p {
			gi := g[i] + a.WeightDecay*p[i]
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			p[i] -= a.LR * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + a.Eps)
		}
	}
}

// State snapshots the optimizer.
func (a *Adam) State() *OptimizerState {
	s := &OptimizerState{
		LearningRate: a.LR,
		Beta1:        a.Beta1,
		Beta2:        a.Beta2,
		Eps:          a.Eps,
		WeightDecay:  a.WeightDecay,
		Step:         a.step,
		M:            make(map[string][]float64, len(a.m)),
		V:            make(map[string][]float64, len(a.v)),
	}
	for k, v := range a.m {
		s.M[k] = append([]float64(nil), v...)
	}
	for k, v := range a.v {
		s.V[k] = append([]float64(nil), v...)
	}
	return s
}

// Plateau lowers the learning rate when a monitored loss stops improving.
// A value counts as an improvement when it is below best*(1-Threshold).
type Plateau struct {
	Factor    float64
	Patience  int
	MinLR     float64
	Threshold float64

	best    float64
	bad     int
	started bool
}

func NewPlateau(factor float64, patience int, minLR float64) *Plateau {
	return &Plateau{
		Factor:    factor,
		Patience:  patience,
		MinLR:     minLR,
		Threshold: 1e-4,
	}
}

// Step records an epoch's loss and returns the learning rate to use next.
func (p *Plateau) Step(loss, lr float64) (float64, bool) {
	if !p.started || loss < p.best*(1-p.Threshold) {
		p.best = loss
		p.bad = 0
		p.started = true
		return lr, false
	}

	p.bad++
	if p.bad <= p.Patience {
		return lr, false
	}

	p.bad = 0
	next := math.Max(lr*p.Factor, p.MinLR)
	return next, next < lr
}
