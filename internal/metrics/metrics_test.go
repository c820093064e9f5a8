package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProviderServesRuntimeAndBuildInfo(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test", Revision: "r"}})
	if p.Path() != "/metrics" || !p.Enabled() {
		t.Fatalf("path=%q enabled=%v", p.Path(), p.Enabled())
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Registerer().MustRegister(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n != 1 {
		t.Fatalf("test_gauge samples=%d", n)
	}

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"go_goroutines", `optimizer_build_info{`, `version="test"`, "test_gauge 42"} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}

func TestNilProviderDisabled(t *testing.T) {
	var p *Provider
	if p.Enabled() {
		t.Fatalf("nil provider enabled")
	}
}
