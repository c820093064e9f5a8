package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LSTM is a single recurrent layer over a T x In sequence matrix producing a
// T x Hidden matrix of hidden states. Gate order in the stacked weights is
// input, forget, cell, output.
type LSTM struct {
	Wx *Param // 4H x In
	Wh *Param // 4H x H
	B  *Param // 1 x 4H

	hidden int
	steps  []lstmStep
}

type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	tc              []float64
}

func NewLSTM(name string, in, hidden int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		Wx:     newParam(name+".weight_ih", 4*hidden, in),
		Wh:     newParam(name+".weight_hh", 4*hidden, hidden),
		B:      newParam(name+".bias", 1, 4*hidden),
		hidden: hidden,
	}
	xavierUniform(l.Wx.Value, in, 4*hidden, rng)
	xavierUniform(l.Wh.Value, hidden, 4*hidden, rng)
	return l
}

func (l *LSTM) preact(x, h []float64) []float64 {
	n := 4 * l.hidden
	z := mat.NewVecDense(n, nil)
	z.MulVec(l.Wx.Value, mat.NewVecDense(len(x), x))
	zh := mat.NewVecDense(n, nil)
	zh.MulVec(l.Wh.Value, mat.NewVecDense(len(h), h))
	z.AddVec(z, zh)
	raw := z.RawVector().Data
	b := l.B.Value.RawRowView(0)
	for k := range raw {
		raw[k] += b[k]
	}
	return raw
}

func (l *LSTM) run(x *mat.Dense, record bool) *mat.Dense {
	T, _ := x.Dims()
	H := l.hidden
	out := mat.NewDense(T, H, nil)
	h := make([]float64, H)
	c := make([]float64, H)
	if record {
		l.steps = l.steps[:0]
	}
	for t := 0; t < T; t++ {
		xt := x.RawRowView(t)
		z := l.preact(xt, h)
		st := lstmStep{
			i: make([]float64, H), f: make([]float64, H),
			g: make([]float64, H), o: make([]float64, H),
			tc: make([]float64, H),
		}
		nextC := make([]float64, H)
		nextH := out.RawRowView(t)
		for k := 0; k < H; k++ {
			st.i[k] = sigmoid(z[k])
			st.f[k] = sigmoid(z[H+k])
			st.g[k] = math.Tanh(z[2*H+k])
			st.o[k] = sigmoid(z[3*H+k])
			nextC[k] = st.f[k]*c[k] + st.i[k]*st.g[k]
			st.tc[k] = math.Tanh(nextC[k])
			nextH[k] = st.o[k] * st.tc[k]
		}
		if record {
			st.x = append([]float64(nil), xt...)
			st.hPrev = h
			st.cPrev = c
			l.steps = append(l.steps, st)
		}
		h = append([]float64(nil), nextH...)
		c = nextC
	}
	return out
}

func (l *LSTM) Infer(x *mat.Dense) *mat.Dense { return l.run(x, false) }

func (l *LSTM) Forward(x *mat.Dense, _ *rand.Rand) *mat.Dense { return l.run(x, true) }

// Backward runs backpropagation through time over the recorded steps.
func (l *LSTM) Backward(dH *mat.Dense) *mat.Dense {
	T := len(l.steps)
	H := l.hidden
	_, in := l.Wx.Value.Dims()
	dX := mat.NewDense(T, in, nil)

	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)
	bg := l.B.Grad.RawRowView(0)

	for t := T - 1; t >= 0; t-- {
		s := l.steps[t]
		dhRow := dH.RawRowView(t)
		for k := 0; k < H; k++ {
			dh := dhRow[k] + dhNext[k]
			do := dh * s.tc[k]
			dc := dcNext[k] + dh*s.o[k]*(1-s.tc[k]*s.tc[k])
			di := dc * s.g[k]
			dg := dc * s.i[k]
			df := dc * s.cPrev[k]
			dcNext[k] = dc * s.f[k]

			dz[k] = di * s.i[k] * (1 - s.i[k])
			dz[H+k] = df * s.f[k] * (1 - s.f[k])
			dz[2*H+k] = dg * (1 - s.g[k]*s.g[k])
			dz[3*H+k] = do * s.o[k] * (1 - s.o[k])
		}
		dzv := mat.NewVecDense(4*H, dz)
		l.Wx.Grad.RankOne(l.Wx.Grad, 1, dzv, mat.NewVecDense(in, s.x))
		l.Wh.Grad.RankOne(l.Wh.Grad, 1, dzv, mat.NewVecDense(H, s.hPrev))
		for k := range dz {
			bg[k] += dz[k]
		}

		dxv := mat.NewVecDense(in, dX.RawRowView(t))
		dxv.MulVec(l.Wx.Value.T(), dzv)
		dhv := mat.NewVecDense(H, nil)
		dhv.MulVec(l.Wh.Value.T(), dzv)
		copy(dhNext, dhv.RawVector().Data)
	}
	return dX
}

func (l *LSTM) Params() []*Param { return []*Param{l.Wx, l.Wh, l.B} }
