// Package policy implements the value-based quality agent: state
// featurization, epsilon-greedy action selection, experience replay and the
// online/target network pair.
package policy

import (
	"fmt"

	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
)

const StateSize = 15

// State is the normalized view of one telemetry record.
type State [StateSize]float64

// Featurize maps the current record onto fixed scale constants.
func Featurize(s telemetry.Sample) State {
	return State{
		s.FPS / 120,
		s.FrameTimeMs / 50,
		s.EncodeTimeMs / 20,
		s.LatencyMs / 200,
		s.BitrateKbps / 30000,
		s.PacketLoss,
		s.BufferOccupancy,
		s.CPUUsage,
		s.GPUUsage,
		s.MemoryUsage,
		s.QualityScore,
		s.FrameDrops / 10,
		s.JitterMs / 30,
		s.BandwidthKbps / 30000,
		s.Complexity,
	}
}

// Action is one of the discrete encoder adjustments.
type Action int

const (
	IncreaseResolution Action = iota
	DecreaseResolution
	IncreaseFPS
	DecreaseFPS
	IncreaseBitrate
	DecreaseBitrate
	UseFasterPreset
	UseSlowerPreset
	NoChange

	NumActions = int(NoChange) + 1
)

var actionNames = [NumActions]string{
	"increase_resolution",
	"decrease_resolution",
	"increase_fps",
	"decrease_fps",
	"increase_bitrate",
	"decrease_bitrate",
	"use_faster_preset",
	"use_slower_preset",
	"no_change",
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

func (a Action) Valid() bool { return a >= 0 && int(a) < NumActions }

// Reward scores the current record. Quality dominates, latency is penalized
// above a 50ms knee, CPU headroom below 60% earns a bonus and packet loss is
// the heaviest penalty. prev is not used by the current terms.
func Reward(cur, _ telemetry.Sample) float64 {
	r := cur.QualityScore * 10
	r -= abs(cur.FPS-60) / 60 * 5
	if cur.LatencyMs > 50 {
		r -= (cur.LatencyMs - 50) * 0.1
	}
	r -= cur.FrameDrops * 2
	if cur.CPUUsage < 0.6 {
		r += (0.6 - cur.CPUUsage) * 2
	}
	r -= cur.PacketLoss * 20
	return r
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
