package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const exporterNamespace = "stampede"

// Exporter exposes a Collector in the Prometheus text format while a run
// is in progress.
//
// Sub-metrics are folded into their parent family with a "tag" label, so
// http_req_duration{name:Login} becomes
// stampede_http_req_duration{tag="name:Login"}.
type Exporter struct {
	collector *Collector
	registry  *prometheus.Registry
	liveVUs   prometheus.GaugeFunc
}

// NewExporter creates an exporter over c with its own registry.
func NewExporter(c *Collector) *Exporter {
	e := &Exporter{
		collector: c,
		registry:  prometheus.NewRegistry(),
	}
	e.liveVUs = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: exporterNamespace,
			Name:      "vus",
			Help:      "Number of live virtual users",
		},
		func() float64 { return float64(c.LiveVUs()) },
	)

	e.registry.MustRegister(e)
	e.registry.MustRegister(e.liveVUs)
	return e
}

// Handler returns an HTTP handler serving the exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the exporter is registered with.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Describe sends no descriptors. Metrics are created during the run, so
// the exporter registers as an unchecked collector.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range e.collector.Snapshot() {
		parent, key, value := SplitSubMetric(snap.Name)
		tag := ""
		if key != "" {
			tag = key + ":" + value
		}
		base := sanitizeMetricName(parent)

		switch snap.Kind {
		case KindCounter:
			desc := prometheus.NewDesc(
				prometheus.BuildFQName(exporterNamespace, "", base+"_total"),
				"Counter "+parent, []string{"tag"}, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, snap.Value, tag)

		case KindRate:
			rateDesc := prometheus.NewDesc(
				prometheus.BuildFQName(exporterNamespace, "", base+"_rate"),
				"Fraction of true samples of "+parent, []string{"tag"}, nil)
			ch <- prometheus.MustNewConstMetric(rateDesc, prometheus.GaugeValue, snap.Value, tag)

			samplesDesc := prometheus.NewDesc(
				prometheus.BuildFQName(exporterNamespace, "", base+"_samples_total"),
				"Samples recorded into "+parent, []string{"tag"}, nil)
			ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.CounterValue, float64(snap.Count), tag)

		case KindTrend:
			stats := snap.Trend
			if stats == nil {
				continue
			}
			desc := prometheus.NewDesc(
				prometheus.BuildFQName(exporterNamespace, "", base),
				"Distribution of "+parent, []string{"tag"}, nil)
			ch <- prometheus.MustNewConstSummary(desc,
				uint64(stats.Count),
				stats.Avg*float64(stats.Count),
				map[float64]float64{
					0.5:  stats.Med,
					0.9:  stats.P90,
					0.95: stats.P95,
					0.99: stats.P99,
				},
				tag)
		}
	}
}

// sanitizeMetricName maps a metric name onto the Prometheus name charset.
func sanitizeMetricName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
