package prometheus

import (
	"net/http"
	"strings"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

type metricsSource interface {
	MetricsSnapshot() goMFA.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter serves engine metrics from a private registry holding a
// single [Collector], so it never touches the default registry.
type PrometheusExporter struct {
	source   metricsSource
	registry *prometheus.Registry
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *goMFA.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollectorFromSource(source))
	return &PrometheusExporter{source: source, registry: reg}
}

// Handler serves the registry with content negotiation.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Render returns the current metrics in text exposition format, or "" when
// the engine has metrics disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil || !p.active() {
		return ""
	}
	families, err := p.registry.Gather()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return ""
		}
	}
	return b.String()
}

// A disabled engine snapshots empty maps and never drops audit events.
func (p *PrometheusExporter) active() bool {
	snap := p.source.MetricsSnapshot()
	return len(snap.Counters) > 0 || len(snap.Histograms) > 0 || p.source.AuditDropped() > 0
}
