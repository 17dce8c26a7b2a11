package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "amanteslive",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanteslive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amanteslive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanteslive",
			Subsystem: "ledger",
			Name:      "crisex_total",
			Help:      "CRISEX moved through the ledger, by direction and kind.",
		},
		[]string{"direction", "kind"},
	)

	ledgerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amanteslive",
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Debits rejected, by reason.",
		},
		[]string{"reason"},
	)

	discreteActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "amanteslive",
			Subsystem: "discrete",
			Name:      "active_sessions",
			Help:      "Discrete mode activations currently billing.",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "amanteslive",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open live WebSocket connections.",
		},
	)

	chatPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amanteslive",
			Subsystem: "chat",
			Name:      "events_published_total",
			Help:      "Chat events fanned out to local subscribers.",
		},
	)

	chatLagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amanteslive",
			Subsystem: "chat",
			Name:      "subscribers_lagged_total",
			Help:      "Subscribers cut off for falling behind.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerMovements,
		ledgerRejections,
		discreteActive,
		wsConnections,
		chatPublished,
		chatLagged,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordCredit(kind string, amount int64) {
	ledgerMovements.WithLabelValues("credit", kind).Add(float64(amount))
}

func RecordDebit(kind string, amount int64) {
	ledgerMovements.WithLabelValues("debit", kind).Add(float64(amount))
}

func RecordRejection(reason string) {
	ledgerRejections.WithLabelValues(reason).Inc()
}

func SetDiscreteActive(n int) {
	discreteActive.Set(float64(n))
}

func WSConnected()    { wsConnections.Inc() }
func WSDisconnected() { wsConnections.Dec() }

func RecordPublished()     { chatPublished.Inc() }
func RecordLaggedCutoff() { chatLagged.Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// routePath labels requests by their route template so IDs do not explode cardinality.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
