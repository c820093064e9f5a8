// Package nn implements the small dense and recurrent networks used by the
// optimizer models on top of gonum matrices.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Param is one trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Tensor is the serialized form of a Param value.
type Tensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func toTensor(name string, m *mat.Dense) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Name: name, Rows: r, Cols: c, Data: data}
}

// Snapshot copies parameter values into serializable tensors.
func Snapshot(params []*Param) []Tensor {
	out := make([]Tensor, len(params))
	for i, p := range params {
		out[i] = toTensor(p.Name, p.Value)
	}
	return out
}

// Validate reports whether ts can be restored into params without touching them.
func Validate(params []*Param, ts []Tensor) error {
	if len(ts) != len(params) {
		return fmt.Errorf("tensor count %d, want %d", len(ts), len(params))
	}
	for i, p := range params {
		t := ts[i]
		r, c := p.Value.Dims()
		if t.Name != p.Name {
			return fmt.Errorf("tensor %d: name %q, want %q", i, t.Name, p.Name)
		}
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("tensor %q: shape %dx%d (%d values), want %dx%d",
				t.Name, t.Rows, t.Cols, len(t.Data), r, c)
		}
		for _, v := range t.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("tensor %q: non-finite value", t.Name)
			}
		}
	}
	return nil
}

// Restore validates ts first and only then overwrites every param value.
func Restore(params []*Param, ts []Tensor) error {
	if err := Validate(params, ts); err != nil {
		return err
	}
	for i, p := range params {
		t := ts[i]
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, append([]float64(nil), t.Data...)))
	}
	return nil
}

// CopyParams overwrites dst values with src values. Shapes must match.
func CopyParams(dst, src []*Param) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("nn: copy %d params into %d", len(src), len(dst)))
	}
	for i := range dst {
		dst[i].Value.Copy(src[i].Value)
	}
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// xavier uniform init, bound sqrt(6/(fanIn+fanOut))
func xavierUniform(m *mat.Dense, fanIn, fanOut int, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = (rng.Float64()*2 - 1) * bound
		}
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
