package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Layer is one stage of a Sequential network. Infer is the inference path: it
// never caches activations, never applies dropout and never touches weights.
// Forward is the training path and records what Backward needs.
type Layer interface {
	Infer(x *mat.Dense) *mat.Dense
	Forward(x *mat.Dense, rng *rand.Rand) *mat.Dense
	Backward(dy *mat.Dense) *mat.Dense
	Params() []*Param
}

// Dense is a fully connected layer, y = x·Wᵀ + b.
type Dense struct {
	W *Param // out x in
	B *Param // 1 x out

	in *mat.Dense
}

func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		W: newParam(name+".weight", out, in),
		B: newParam(name+".bias", 1, out),
	}
	xavierUniform(d.W.Value, in, out, rng)
	return d
}

func (d *Dense) Infer(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	out, _ := d.W.Value.Dims()
	y := mat.NewDense(n, out, nil)
	y.Mul(x, d.W.Value.T())
	b := d.B.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
	return y
}

func (d *Dense) Forward(x *mat.Dense, _ *rand.Rand) *mat.Dense {
	d.in = mat.DenseCopyOf(x)
	return d.Infer(x)
}

func (d *Dense) Backward(dy *mat.Dense) *mat.Dense {
	n, out := dy.Dims()
	_, in := d.W.Value.Dims()

	dW := mat.NewDense(out, in, nil)
	dW.Mul(dy.T(), d.in)
	d.W.Grad.Add(d.W.Grad, dW)

	bg := d.B.Grad.RawRowView(0)
	for i := 0; i < n; i++ {
		row := dy.RawRowView(i)
		for j := range row {
			bg[j] += row[j]
		}
	}

	dx := mat.NewDense(n, in, nil)
	dx.Mul(dy, d.W.Value)
	return dx
}

func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }

// ReLU activation.
type ReLU struct {
	mask *mat.Dense
}

func (r *ReLU) Infer(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	return &y
}

func (r *ReLU) Forward(x *mat.Dense, _ *rand.Rand) *mat.Dense {
	var mask mat.Dense
	mask.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return 1
		}
		return 0
	}, x)
	r.mask = &mask
	return r.Infer(x)
}

func (r *ReLU) Backward(dy *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.MulElem(dy, r.mask)
	return &dx
}

func (r *ReLU) Params() []*Param { return nil }

// Sigmoid activation, bounds outputs to (0,1).
type Sigmoid struct {
	out *mat.Dense
}

func (s *Sigmoid) Infer(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, x)
	return &y
}

func (s *Sigmoid) Forward(x *mat.Dense, _ *rand.Rand) *mat.Dense {
	y := s.Infer(x)
	s.out = y
	return y
}

func (s *Sigmoid) Backward(dy *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, v float64) float64 {
		o := s.out.At(i, j)
		return v * o * (1 - o)
	}, dy)
	return &dx
}

func (s *Sigmoid) Params() []*Param { return nil }

// Dropout zeroes activations with probability Rate during training and
// rescales survivors by 1/(1-Rate). It is the identity at inference.
type Dropout struct {
	Rate float64

	mask *mat.Dense
}

func (d *Dropout) Infer(x *mat.Dense) *mat.Dense { return x }

func (d *Dropout) Forward(x *mat.Dense, rng *rand.Rand) *mat.Dense {
	if d.Rate <= 0 || rng == nil {
		d.mask = nil
		return x
	}
	keep := 1 - d.Rate
	r, c := x.Dims()
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := mask.RawRowView(i)
		for j := range row {
			if rng.Float64() < keep {
				row[j] = 1 / keep
			}
		}
	}
	d.mask = mask
	var y mat.Dense
	y.MulElem(x, mask)
	return &y
}

func (d *Dropout) Backward(dy *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dy
	}
	var dx mat.Dense
	dx.MulElem(dy, d.mask)
	return &dx
}

func (d *Dropout) Params() []*Param { return nil }

// LastStep selects the final row of a sequence output.
type LastStep struct {
	rows, cols int
}

func (l *LastStep) Infer(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	y := mat.NewDense(1, c, nil)
	copy(y.RawRowView(0), x.RawRowView(r-1))
	return y
}

func (l *LastStep) Forward(x *mat.Dense, _ *rand.Rand) *mat.Dense {
	l.rows, l.cols = x.Dims()
	return l.Infer(x)
}

func (l *LastStep) Backward(dy *mat.Dense) *mat.Dense {
	dx := mat.NewDense(l.rows, l.cols, nil)
	copy(dx.RawRowView(l.rows-1), dy.RawRowView(0))
	return dx
}

func (l *LastStep) Params() []*Param { return nil }

// Sequential chains layers.
type Sequential struct {
	Layers []Layer
}

func (s *Sequential) Infer(x *mat.Dense) *mat.Dense {
	for _, l := range s.Layers {
		x = l.Infer(x)
	}
	return x
}

func (s *Sequential) Forward(x *mat.Dense, rng *rand.Rand) *mat.Dense {
	for _, l := range s.Layers {
		x = l.Forward(x, rng)
	}
	return x
}

func (s *Sequential) Backward(dy *mat.Dense) *mat.Dense {
	for i := len(s.Layers) - 1; i >= 0; i-- {
		dy = s.Layers[i].Backward(dy)
	}
	return dy
}

func (s *Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s.Layers {
		out = append(out, l.Params()...)
	}
	return out
}
