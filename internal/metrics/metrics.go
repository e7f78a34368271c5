// Package metrics declares the Prometheus collectors shared across the service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maneesh/filelink/internal/models"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route template and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelink_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestDuration observes request latency per route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filelink_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// SweepsTotal counts sweeper runs by result (ok, error, skipped).
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelink_sweeps_total",
			Help: "Expiry sweeps by result",
		},
		[]string{"result"},
	)

	// SweepEvictedTotal counts records removed by the sweeper.
	SweepEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filelink_sweep_evicted_total",
		Help: "Expired files removed by the sweeper",
	})

	// SweepDuration observes how long a sweep takes.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filelink_sweep_duration_seconds",
		Help:    "Expiry sweep duration in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	// UploadsTotal counts file upload attempts by result.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelink_uploads_total",
			Help: "File uploads accepted from the bot by result",
		},
		[]string{"result"},
	)

	// CommandsTotal counts bot commands by name.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filelink_bot_commands_total",
			Help: "Bot commands handled",
		},
		[]string{"command"},
	)
)

// StatsFunc reports current registry aggregates
type StatsFunc func(ctx context.Context) (models.Stats, error)

// RegisterRegistryGauges exposes live file count, bytes and owners, read on scrape.
func RegisterRegistryGauges(reg prometheus.Registerer, stats StatsFunc) {
	read := func(pick func(models.Stats) float64) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s, err := stats(ctx)
			if err != nil {
				return 0
			}
			return pick(s)
		}
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filelink_files_live",
			Help: "Live files in the registry",
		}, read(func(s models.Stats) float64 { return float64(s.Files) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filelink_files_live_bytes",
			Help: "Total size of live files",
		}, read(func(s models.Stats) float64 { return float64(s.TotalSizeBytes) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filelink_owners_live",
			Help: "Distinct owners of live files",
		}, read(func(s models.Stats) float64 { return float64(s.UniqueOwners) })),
	)
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency labeled by the mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
