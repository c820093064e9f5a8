// Package window keeps the most recent telemetry samples in a fixed-size ring
// and turns them into normalized feature rows for the bitrate model.
package window

import (
	"gonum.org/v1/gonum/stat"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 30

// FeatureDim is the width of one feature row.
const FeatureDim = 10

// Scale constants for feature normalization.
const (
	LatencyScale   = 200.0
	JitterScale    = 50.0
	BandwidthScale = 50000.0
	LatencyStdScl  = 50.0
	BitrateScale   = 20000.0
	BitrateMissing = 0.5
)

// Sample is the projection of one telemetry record the window needs.
type Sample struct {
	LatencyMs     float64
	JitterMs      float64
	PacketLoss    float64
	BandwidthKbps float64
	Complexity    float64
	BitrateKbps   float64
	Timestamp     float64
}

// FeatureVector is one normalized row:
//
//	0 latency/200       5 running mean latency/200
//	1 jitter/50         6 running std latency/50
//	2 packet loss       7 running mean jitter/50
//	3 bandwidth/50000   8 running mean loss
//	4 complexity        9 bitrate/20000 (0.5 when unknown)
type FeatureVector [FeatureDim]float64

// Window is a bounded FIFO of samples. It is not safe for concurrent use; the
// caller serializes access.
type Window struct {
	data []Sample
	head int // next write position
	size int
}

func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{data: make([]Sample, size)}
}

// Add appends s, evicting the oldest sample when full.
func (w *Window) Add(s Sample) {
	w.data[w.head] = s
	w.head = (w.head + 1) % len(w.data)
	if w.size < len(w.data) {
		w.size++
	}
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return len(w.data) }

// Samples returns the held samples oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, w.size)
	start := 0
	if w.size == len(w.data) {
		start = w.head
	}
	for i := 0; i < w.size; i++ {
		out[i] = w.data[(start+i)%len(w.data)]
	}
	return out
}

// Features returns one row per held sample, oldest first. Row i only uses
// samples 0..i. An empty window yields a single all-zero row.
func (w *Window) Features() []FeatureVector {
	samples := w.Samples()
	if len(samples) == 0 {
		return []FeatureVector{{}}
	}

	lat := make([]float64, len(samples))
	jit := make([]float64, len(samples))
	loss := make([]float64, len(samples))
	for i, s := range samples {
		lat[i] = s.LatencyMs
		jit[i] = s.JitterMs
		loss[i] = s.PacketLoss
	}

	out := make([]FeatureVector, len(samples))
	for i, s := range samples {
		f := &out[i]
		f[0] = s.LatencyMs / LatencyScale
		f[1] = s.JitterMs / JitterScale
		f[2] = s.PacketLoss
		f[3] = s.BandwidthKbps / BandwidthScale
		f[4] = s.Complexity
		if i > 0 {
			f[5] = stat.Mean(lat[:i+1], nil) / LatencyScale
			f[7] = stat.Mean(jit[:i+1], nil) / JitterScale
			f[8] = stat.Mean(loss[:i+1], nil)
		}
		if i > 1 {
			_, std := stat.PopMeanStdDev(lat[:i+1], nil)
			f[6] = std / LatencyStdScl
		}
		if s.BitrateKbps > 0 {
			f[9] = s.BitrateKbps / BitrateScale
		} else {
			f[9] = BitrateMissing
		}
	}
	return out
}
