package control

import (
	"math"

	"github.com/mohammed-shakir/stream-optimizer/internal/policy"
	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
)

const (
	MinFPS   = 30
	MaxFPS   = 120
	fpsStep  = 10
	rateStep = 1000

	DefaultMinBitrateKbps = 2000
	DefaultMaxBitrateKbps = 20000
)

// QualityAction is the encoder adjustment half of a recommendation.
type QualityAction struct {
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
	TargetFPS     *int   `json:"target_fps,omitempty"`
	TargetBitrate *int   `json:"target_bitrate,omitempty"`
}

// Recommendation is emitted once per processed sample.
type Recommendation struct {
	BitrateKbps   int           `json:"bitrate_kbps"`
	QualityAction QualityAction `json:"quality_action"`
	Confidence    float64       `json:"confidence"`
	Timestamp     float64       `json:"timestamp"`
}

// MapAction turns a policy action into a concrete adjustment relative to cur,
// using the default bitrate bounds.
func MapAction(a policy.Action, cur telemetry.Sample) QualityAction {
	return mapAction(a, cur, DefaultMinBitrateKbps, DefaultMaxBitrateKbps)
}

func mapAction(a policy.Action, cur telemetry.Sample, minKbps, maxKbps int) QualityAction {
	if !a.Valid() {
		return QualityAction{Action: policy.NoChange.String()}
	}
	qa := QualityAction{Action: a.String()}
	fps := int(math.Round(cur.FPS))
	kbps := int(math.Round(cur.BitrateKbps))

	switch a {
	case policy.IncreaseResolution:
		qa.Reason = "Network stable, can increase quality"
	case policy.DecreaseResolution:
		qa.Reason = "Network congested, reduce resolution"
	case policy.IncreaseFPS:
		qa.TargetFPS = ptr(min(fps+fpsStep, MaxFPS))
	case policy.DecreaseFPS:
		qa.TargetFPS = ptr(max(fps-fpsStep, MinFPS))
	case policy.IncreaseBitrate:
		qa.TargetBitrate = ptr(min(kbps+rateStep, maxKbps))
	case policy.DecreaseBitrate:
		qa.TargetBitrate = ptr(max(kbps-rateStep, minKbps))
	case policy.UseFasterPreset:
		qa.Reason = "CPU overloaded"
	case policy.UseSlowerPreset:
		qa.Reason = "CPU underutilized, can improve quality"
	default:
		qa.Action = policy.NoChange.String()
	}
	return qa
}

func ptr[T any](v T) *T { return &v }
