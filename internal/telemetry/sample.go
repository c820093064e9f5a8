// Package telemetry defines the ingress record for encoder and network
// metrics, its validation, and the bounded raw history kept for export.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohammed-shakir/stream-optimizer/internal/window"
)

// Sample is one fully populated telemetry record. Decode fills absent fields
// with defaults, so downstream code never checks for presence.
type Sample struct {
	LatencyMs       float64 `json:"latency_ms"`
	JitterMs        float64 `json:"jitter_ms"`
	PacketLoss      float64 `json:"packet_loss"`
	BandwidthKbps   float64 `json:"bandwidth_kbps"`
	Complexity      float64 `json:"complexity"`
	BitrateKbps     float64 `json:"bitrate_kbps"`
	FPS             float64 `json:"fps"`
	FrameTimeMs     float64 `json:"frame_time_ms"`
	EncodeTimeMs    float64 `json:"encode_time_ms"`
	BufferOccupancy float64 `json:"buffer_occupancy"`
	CPUUsage        float64 `json:"cpu_usage"`
	GPUUsage        float64 `json:"gpu_usage"`
	MemoryUsage     float64 `json:"memory_usage"`
	QualityScore    float64 `json:"quality_score"`
	FrameDrops      float64 `json:"frame_drops"`
	Resolution      string  `json:"resolution"`
	Timestamp       float64 `json:"timestamp"`
}

// Default returns the record used for every absent field.
func Default() Sample {
	return Sample{
		LatencyMs:       30,
		JitterMs:        5,
		PacketLoss:      0,
		BandwidthKbps:   15000,
		Complexity:      0.5,
		BitrateKbps:     10000,
		FPS:             60,
		FrameTimeMs:     16,
		EncodeTimeMs:    5,
		BufferOccupancy: 0.5,
		CPUUsage:        0.5,
		GPUUsage:        0.5,
		MemoryUsage:     0.5,
		QualityScore:    0.9,
		FrameDrops:      0,
		Resolution:      "1920x1080",
		Timestamp:       0,
	}
}

// Window projects the record onto the fields the metrics window holds.
func (s Sample) Window() window.Sample {
	return window.Sample{
		LatencyMs:     s.LatencyMs,
		JitterMs:      s.JitterMs,
		PacketLoss:    s.PacketLoss,
		BandwidthKbps: s.BandwidthKbps,
		Complexity:    s.Complexity,
		BitrateKbps:   s.BitrateKbps,
		Timestamp:     s.Timestamp,
	}
}

type wireSample struct {
	LatencyMs       *float64 `json:"latency_ms"`
	JitterMs        *float64 `json:"jitter_ms"`
	PacketLoss      *float64 `json:"packet_loss"`
	BandwidthKbps   *float64 `json:"bandwidth_kbps"`
	Complexity      *float64 `json:"complexity"`
	BitrateKbps     *float64 `json:"bitrate_kbps"`
	FPS             *float64 `json:"fps"`
	FrameTimeMs     *float64 `json:"frame_time_ms"`
	EncodeTimeMs    *float64 `json:"encode_time_ms"`
	BufferOccupancy *float64 `json:"buffer_occupancy"`
	CPUUsage        *float64 `json:"cpu_usage"`
	GPUUsage        *float64 `json:"gpu_usage"`
	MemoryUsage     *float64 `json:"memory_usage"`
	QualityScore    *float64 `json:"quality_score"`
	FrameDrops      *float64 `json:"frame_drops"`
	Resolution      *string  `json:"resolution"`
	Timestamp       *float64 `json:"timestamp"`
}

// Decode parses one JSON record, fills defaults and validates it. The
// returned warnings describe every corrected field.
func Decode(raw []byte) (Sample, []string, error) {
	var w wireSample
	if err := json.Unmarshal(raw, &w); err != nil {
		return Sample{}, nil, fmt.Errorf("decode telemetry: %w", err)
	}
	s := Default()
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.LatencyMs, w.LatencyMs)
	set(&s.JitterMs, w.JitterMs)
	set(&s.PacketLoss, w.PacketLoss)
	set(&s.BandwidthKbps, w.BandwidthKbps)
	set(&s.Complexity, w.Complexity)
	set(&s.BitrateKbps, w.BitrateKbps)
	set(&s.FPS, w.FPS)
	set(&s.FrameTimeMs, w.FrameTimeMs)
	set(&s.EncodeTimeMs, w.EncodeTimeMs)
	set(&s.BufferOccupancy, w.BufferOccupancy)
	set(&s.CPUUsage, w.CPUUsage)
	set(&s.GPUUsage, w.GPUUsage)
	set(&s.MemoryUsage, w.MemoryUsage)
	set(&s.QualityScore, w.QualityScore)
	set(&s.FrameDrops, w.FrameDrops)
	set(&s.Timestamp, w.Timestamp)
	if w.Resolution != nil && *w.Resolution != "" {
		s.Resolution = *w.Resolution
	}
	s, warns := Sanitize(s)
	return s, warns, nil
}

// MaxRateKbps bounds bitrate and bandwidth readings; anything above is a
// corrupt reading, not a link.
const MaxRateKbps = 10_000_000

// Sanitize replaces non-finite values with defaults, clamps fractions into
// [0,1] and replaces negative magnitudes with defaults. Rates above
// MaxRateKbps are replaced with defaults too.
func Sanitize(s Sample) (Sample, []string) {
	d := Default()
	var warns []string

	magnitude := func(name string, v *float64, def float64) {
		switch {
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			warns = append(warns, fmt.Sprintf("%s: non-finite, using %g", name, def))
			*v = def
		case *v < 0:
			warns = append(warns, fmt.Sprintf("%s: negative %g, using %g", name, *v, def))
			*v = def
		}
	}
	fraction := func(name string, v *float64, def float64) {
		switch {
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			warns = append(warns, fmt.Sprintf("%s: non-finite, using %g", name, def))
			*v = def
		case *v < 0:
			warns = append(warns, fmt.Sprintf("%s: %g clamped to 0", name, *v))
			*v = 0
		case *v > 1:
			warns = append(warns, fmt.Sprintf("%s: %g clamped to 1", name, *v))
			*v = 1
		}
	}

	rate := func(name string, v *float64, def float64) {
		magnitude(name, v, def)
		if *v > MaxRateKbps {
			warns = append(warns, fmt.Sprintf("%s: %g above %d, using %g", name, *v, MaxRateKbps, def))
			*v = def
		}
	}

	magnitude("latency_ms", &s.LatencyMs, d.LatencyMs)
	magnitude("jitter_ms", &s.JitterMs, d.JitterMs)
	rate("bandwidth_kbps", &s.BandwidthKbps, d.BandwidthKbps)
	rate("bitrate_kbps", &s.BitrateKbps, d.BitrateKbps)
	magnitude("fps", &s.FPS, d.FPS)
	magnitude("frame_time_ms", &s.FrameTimeMs, d.FrameTimeMs)
	magnitude("encode_time_ms", &s.EncodeTimeMs, d.EncodeTimeMs)
	magnitude("frame_drops", &s.FrameDrops, d.FrameDrops)
	magnitude("timestamp", &s.Timestamp, d.Timestamp)

	fraction("packet_loss", &s.PacketLoss, d.PacketLoss)
	fraction("complexity", &s.Complexity, d.Complexity)
	fraction("buffer_occupancy", &s.BufferOccupancy, d.BufferOccupancy)
	fraction("cpu_usage", &s.CPUUsage, d.CPUUsage)
	fraction("gpu_usage", &s.GPUUsage, d.GPUUsage)
	fraction("memory_usage", &s.MemoryUsage, d.MemoryUsage)
	fraction("quality_score", &s.QualityScore, d.QualityScore)

	if s.Resolution == "" {
		s.Resolution = d.Resolution
	}
	return s, warns
}
