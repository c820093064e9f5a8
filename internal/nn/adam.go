package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam optimizer over a fixed parameter list.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step   int
	params []*Param
	m, v   []*mat.Dense
}

// AdamState is the serialized optimizer state.
type AdamState struct {
	Step int      `json:"step"`
	LR   float64  `json:"lr"`
	M    []Tensor `json:"m"`
	V    []Tensor `json:"v"`
}

func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, params: params}
	for _, p := range params {
		r, c := p.Value.Dims()
		a.m = append(a.m, mat.NewDense(r, c, nil))
		a.v = append(a.v, mat.NewDense(r, c, nil))
	}
	return a
}

func (a *Adam) Steps() int { return a.step }

func (a *Adam) ZeroGrad() { ZeroGrad(a.params) }

// Update applies one step using the accumulated gradients.
func (a *Adam) Update() {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for idx, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[idx].RawMatrix().Data
		v := a.v[idx].RawMatrix().Data
		for k := range w {
			m[k] = a.Beta1*m[k] + (1-a.Beta1)*g[k]
			v[k] = a.Beta2*v[k] + (1-a.Beta2)*g[k]*g[k]
			mh := m[k] / bc1
			vh := v[k] / bc2
			w[k] -= a.LR * mh / (math.Sqrt(vh) + a.Eps)
		}
	}
}

func (a *Adam) State() AdamState {
	s := AdamState{Step: a.step, LR: a.LR}
	for i, p := range a.params {
		s.M = append(s.M, toTensor(p.Name, a.m[i]))
		s.V = append(s.V, toTensor(p.Name, a.v[i]))
	}
	return s
}

// ValidateState checks s against the optimizer's parameter shapes.
func (a *Adam) ValidateState(s AdamState) error {
	if s.Step < 0 {
		return fmt.Errorf("adam: negative step %d", s.Step)
	}
	if err := Validate(a.params, s.M); err != nil {
		return fmt.Errorf("adam first moment: %w", err)
	}
	if err := Validate(a.params, s.V); err != nil {
		return fmt.Errorf("adam second moment: %w", err)
	}
	return nil
}

// RestoreState validates then loads s.
func (a *Adam) RestoreState(s AdamState) error {
	if err := a.ValidateState(s); err != nil {
		return err
	}
	for i := range a.params {
		copy(a.m[i].RawMatrix().Data, s.M[i].Data)
		copy(a.v[i].RawMatrix().Data, s.V[i].Data)
	}
	a.step = s.Step
	if s.LR > 0 {
		a.LR = s.LR
	}
	return nil
}

// MSE returns the mean squared error and its gradient with respect to pred.
func MSE(pred, target []float64) (float64, []float64) {
	n := float64(len(pred))
	grad := make([]float64, len(pred))
	var loss float64
	for i := range pred {
		d := pred[i] - target[i]
		loss += d * d
		grad[i] = 2 * d / n
	}
	return loss / n, grad
}
