package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/stream-optimizer/internal/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9' {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func TestOptimizerMetricsOnProviderRegistry(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})
	m := observability.New(p.Registerer())

	m.ObserveIteration("warmup", 2*time.Millisecond)
	m.ObserveIteration("steady", 5*time.Millisecond)
	m.ObserveRecommendation("decrease_bitrate", 4000, 0.3, 40)
	m.ObserveTrainStep(0.12)
	m.ReceiveError("timeout")
	m.CheckpointOp("bitrate_predictor", "save", nil)
	m.CheckpointOp("quality_optimizer", "load", errors.New("checksum mismatch"))

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, s := range []string{
		`optimizer_iteration_seconds_bucket`,
		`optimizer_predicted_bitrate_kbps 4000`,
		`optimizer_epsilon 0.3`,
		`optimizer_replay_size 40`,
		`optimizer_train_steps_total 1`,
		`optimizer_receive_errors_total{kind="timeout"} 1`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "optimizer_iterations_total", `state="warmup"`)
	assertHasMetricLine(t, body, "optimizer_recommendations_total", `action="decrease_bitrate"`)
	assertHasMetricLine(t, body, "optimizer_checkpoint_ops_total",
		`model="quality_optimizer"`, `op="load"`, `result="error"`)
	assertHasMetricLine(t, body, "optimizer_build_info", `version="test"`)
}
