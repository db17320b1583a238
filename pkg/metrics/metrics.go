// Package metrics exposes a rank's runtime counters over Prometheus'
// client_golang: here each rank is the thing being scraped, rather than
// the thing doing the scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gauges and counters a single rank exposes.
type Registry struct {
	reg *prometheus.Registry

	SumSquaredLoss       prometheus.Gauge
	UpdateCount          prometheus.Gauge
	RMSE                 prometheus.Gauge
	QueueDepth           prometheus.Gauge
	RoutingExhaustion    prometheus.Counter
	MissingEdgeOnBump    prometheus.Counter
	NaNDetected          prometheus.Counter
	IngestParseErrors    prometheus.Counter
}

// New creates a registry with all NOMAD gauges/counters registered under
// it. rank is included as a constant label so a single Prometheus server
// can scrape every rank's /metrics endpoint into one series set.
func New(rank int) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"rank": itoa(rank)}

	r := &Registry{
		reg: reg,
		SumSquaredLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nomad_sum_sq_loss", Help: "Cumulative sum of squared SGD residuals for this rank.",
			ConstLabels: labels,
		}),
		UpdateCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nomad_update_count", Help: "Cumulative number of edge updates performed by this rank.",
			ConstLabels: labels,
		}),
		RMSE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nomad_rmse", Help: "Most recently reported cumulative training RMSE (advisory).",
			ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nomad_queue_depth", Help: "Number of columns currently queued locally.",
			ConstLabels: labels,
		}),
		RoutingExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nomad_routing_exhaustion_total", Help: "Columns dropped after exhausting off-machine routing retries.",
			ConstLabels: labels,
		}),
		MissingEdgeOnBump: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nomad_missing_edge_on_bump_total", Help: "bump_count calls for an edge absent from the local store (routing bug indicator).",
			ConstLabels: labels,
		}),
		NaNDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nomad_nan_detected_total", Help: "SGD steps in which a factor vector went NaN.",
			ConstLabels: labels,
		}),
		IngestParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nomad_ingest_parse_errors_total", Help: "Malformed lines skipped during dataset ingest.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(r.SumSquaredLoss, r.UpdateCount, r.RMSE, r.QueueDepth,
		r.RoutingExhaustion, r.MissingEdgeOnBump, r.NaNDetected, r.IngestParseErrors)

	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
