// Package metrics owns the private Prometheus registry of the optimizer
// process and serves it over HTTP.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version  string
	Revision string
}

type Config struct {
	Enabled bool
	Path    string
	Build   BuildInfo
}

type Provider struct {
	cfg Config
	reg *prometheus.Registry
}

// Init creates the registry with runtime collectors and a constant
// optimizer_build_info series.
func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "optimizer_build_info",
		Help: "Build info for this binary (value is always 1).",
		ConstLabels: prometheus.Labels{
			"version":    v.Version,
			"revision":   v.Revision,
			"go_version": runtime.Version(),
		},
	})
	build.Set(1)
	reg.MustRegister(build)

	return &Provider{cfg: cfg, reg: reg}
}

func (p *Provider) Enabled() bool { return p != nil && p.cfg.Enabled }

func (p *Provider) Path() string { return p.cfg.Path }

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Gatherer() prometheus.Gatherer { return p.reg }
