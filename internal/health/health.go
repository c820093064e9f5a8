// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check reports whether one dependency is usable.
type Check func() bool

// Readiness answers 200 only when every named check passes.
func Readiness(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string          `json:"status"`
			Checks map[string]bool `json:"checks,omitempty"`
		}
		out := resp{Status: "ready", Checks: make(map[string]bool, len(checks))}
		for name, c := range checks {
			ok := c == nil || c()
			out.Checks[name] = ok
			if !ok {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
