// Package classifier implements the emotion model: a fixed pooling feature
// extractor followed by a trainable linear head.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/haskel/petmood/internal/emotion"
	"github.com/haskel/petmood/internal/imageload"
)

// Parameter names inside the model state.
const (
	ParamWeight = "head.weight"
	ParamBias   = "head.bias"
)

var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Arch describes the model layout.
type Arch struct {
	Channels   int      `json:"channels"`
	Grid       int      `json:"grid"`
	NumClasses int      `json:"num_classes"`
	Labels     []string `json:"labels"`
}

// DefaultArch returns the layout used for RGB input and the emotion label set.
func DefaultArch() Arch {
	return Arch{
		Channels:   3,
		Grid:       4,
		NumClasses: emotion.NumClasses(),
		Labels:     emotion.Names(),
	}
}

// FeatureDim is the length of the feature vector fed to the head.
func (a Arch) FeatureDim() int {
	return a.Channels * a.Grid * a.Grid
}

func (a Arch) Validate() error {
	if a.Channels < 1 || a.Grid < 1 || a.NumClasses < 2 {
		return fmt.Errorf("invalid arch: channels=%d grid=%d classes=%d", a.Channels, a.Grid, a.NumClasses)
	}
	if len(a.Labels) != 0 && len(a.Labels) != a.NumClasses {
		return fmt.Errorf("invalid arch: %d labels for %d classes", len(a.Labels), a.NumClasses)
	}
	return nil
}

// Model holds the head parameters. Weight is row-major NumClasses x FeatureDim.
type Model struct {
	Arch   Arch
	Params map[string][]float64
}

// NewModel returns a model with zeroed parameters.
func NewModel(arch Arch) *Model {
	return &Model{
		Arch: arch,
		Params: map[string][]float64{
			ParamWeight: make([]float64, arch.NumClasses*arch.FeatureDim()),
			ParamBias:   make([]float64, arch.NumClasses),
		},
	}
}

// NewPretrained returns the deterministic starting point used when no
// active artifact exists. Weights are drawn uniformly from ±1/sqrt(fanIn).
func NewPretrained(arch Arch, seed int64) *Model {
	m := NewModel(arch)
	rng := rand.New(rand.NewSource(seed))
	bound := 1 / math.Sqrt(float64(arch.FeatureDim()))

	for _, name := range []string{ParamWeight, ParamBias} {
		p := m.Params[name]
		for i := range p {
			p[i] = (rng.Float64()*2 - 1) * bound
		}
	}
	return m
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	c := &Model{
		Arch:   m.Arch,
		Params: make(map[string][]float64, len(m.Params)),
	}
	c.Arch.Labels = append([]string(nil), m.Arch.Labels...)
	for k, v := range m.Params {
		c.Params[k] = append([]float64(nil), v...)
	}
	return c
}

// checkShapes verifies parameter lengths against the arch.
func (m *Model) checkShapes() error {
	w, ok := m.Params[ParamWeight]
	if !ok || len(w) != m.Arch.NumClasses*m.Arch.FeatureDim() {
		return fmt.Errorf("%w: %s has %d values", ErrShapeMismatch, ParamWeight, len(w))
	}
	b, ok := m.Params[ParamBias]
	if !ok || len(b) != m.Arch.NumClasses {
		return fmt.Errorf("%w: %s has %d values", ErrShapeMismatch, ParamBias, len(b))
	}
	return nil
}

// Logits computes W·x + b.
func (m *Model) Logits(x []float64) []float64 {
	w := m.Params[ParamWeight]
	b := m.Params[ParamBias]
	dim := m.Arch.FeatureDim()

	out := make([]float64, m.Arch.NumClasses)
	for k := range out {
		row := w[k*dim : (k+1)*dim]
		sum := b[k]
		for j, v := range x {
			sum += row[j] * v
		}
		out[k] = sum
	}
	return out
}

// Predict returns class probabilities and the arg-max class.
func (m *Model) Predict(x []float64) ([]float64, int) {
	probs := Softmax(m.Logits(x))
	return probs, ArgMax(probs)
}

// Gradients computes the mean cross-entropy loss over a batch and the
// gradient of that loss with respect to each parameter.
func (m *Model) Gradients(features [][]float64, labels []int) (map[string][]float64, float64, int) {
	dim := m.Arch.FeatureDim()
	gw := make([]float64, len(m.Params[ParamWeight]))
	gb := make([]float64, len(m.Params[ParamBias]))

	var loss float64
	correct := 0
	n := float64(len(features))

	for i, x := range features {
		probs := Softmax(m.Logits(x))
		y := labels[i]
		loss += CrossEntropy(probs, y)
		if ArgMax(probs) == y {
			correct++
		}

		for k, p := range probs {
			d := p
			if k == y {
				d -= 1
			}
			d /= n
			gb[k] += d
			row := gw[k*dim : (k+1)*dim]
			for j, v := range x {
				row[j] += d * v
			}
		}
	}

	return map[string][]float64{ParamWeight: gw, ParamBias: gb}, loss / n, correct
}

// Softmax returns exp(z)/sum(exp(z)) computed stably.
func Softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	if len(z) == 0 {
		return out
	}
	maxV := z[0]
	for _, v := range z[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// CrossEntropy is -log p[label], clamped away from zero.
func CrossEntropy(probs []float64, label int) float64 {
	return -math.Log(math.Max(probs[label], 1e-12))
}

// ArgMax returns the index of the largest value; ties go to the lowest index.
func ArgMax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Extract average-pools each channel of t over a grid x grid layout.
func Extract(t *imageload.Tensor, grid int) []float64 {
	out := make([]float64, 0, t.Channels*grid*grid)
	for c := 0; c < t.Channels; c++ {
		for gy := 0; gy < grid; gy++ {
			y0, y1 := gy*t.Height/grid, (gy+1)*t.Height/grid
			for gx := 0; gx < grid; gx++ {
				x0, x1 := gx*t.Width/grid, (gx+1)*t.Width/grid
				var sum float64
				count := 0
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						sum += float64(t.At(c, y, x))
						count++
					}
				}
				if count > 0 {
					sum /= float64(count)
				}
				out = append(out, sum)
			}
		}
	}
	return out
}
