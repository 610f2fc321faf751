package loadtest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/informalsystems/frameload/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownTimeout = 5 * time.Second

// metrics are the live counters of a run, updated by the workers as events
// happen. They are independent of the per-connection WorkerStats, which are
// only folded together once a connection is done.
type metrics struct {
	registry *prometheus.Registry

	framesSent    prometheus.Counter     // Frames written across all connections.
	framesRecv    prometheus.Counter     // Frames decoded across all connections.
	bytesSent     prometheus.Counter     // Wire bytes written across all connections.
	bytesRecv     prometheus.Counter     // Wire bytes read across all connections.
	failures      *prometheus.CounterVec // Connection-level failures by kind.
	activeConns   prometheus.Gauge       // Connections currently in the Running state.
	targetRate    prometheus.Gauge       // The configured aggregate rate.
	testUnderway  prometheus.Gauge       // 1 while the run is in progress.
	elapsedSecond prometheus.Gauge       // Elapsed time of the last completed run.
}

func newMetrics(runID string) *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}
	return &metrics{
		registry: reg,
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Name:        "frameload_frames_sent_total",
			Help:        "The total number of frames written across all connections",
			ConstLabels: labels,
		}),
		framesRecv: f.NewCounter(prometheus.CounterOpts{
			Name:        "frameload_frames_received_total",
			Help:        "The total number of frames decoded across all connections",
			ConstLabels: labels,
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Name:        "frameload_bytes_sent_total",
			Help:        "The total number of wire bytes written across all connections",
			ConstLabels: labels,
		}),
		bytesRecv: f.NewCounter(prometheus.CounterOpts{
			Name:        "frameload_bytes_received_total",
			Help:        "The total number of wire bytes read across all connections",
			ConstLabels: labels,
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "frameload_failures_total",
			Help:        "Connection-level failures, by kind (connect, send, receive)",
			ConstLabels: labels,
		}, []string{"kind"}),
		activeConns: f.NewGauge(prometheus.GaugeOpts{
			Name:        "frameload_active_connections",
			Help:        "The number of connections currently sending and receiving",
			ConstLabels: labels,
		}),
		targetRate: f.NewGauge(prometheus.GaugeOpts{
			Name:        "frameload_target_rate",
			Help:        "The configured aggregate send rate in frames/sec (0 means unlimited)",
			ConstLabels: labels,
		}),
		testUnderway: f.NewGauge(prometheus.GaugeOpts{
			Name:        "frameload_test_underway",
			Help:        "1 while the load test is running, 0 otherwise",
			ConstLabels: labels,
		}),
		elapsedSecond: f.NewGauge(prometheus.GaugeOpts{
			Name:        "frameload_elapsed_seconds",
			Help:        "Wall-clock duration of the completed load test",
			ConstLabels: labels,
		}),
	}
}

func (m *metrics) frameSent(n int) {
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *metrics) frameReceived(n int) {
	m.framesRecv.Inc()
	m.bytesRecv.Add(float64(n))
}

func (m *metrics) failure(kind FailureKind) {
	m.failures.WithLabelValues(kind.String()).Inc()
}

// metricsServer exposes a run's metrics over HTTP at /metrics.
type metricsServer struct {
	svr     *http.Server
	ln      net.Listener
	logger  logging.Logger
	stopped chan struct{}
}

// startMetricsServer binds to addr immediately, so that bind failures are
// reported before the load test starts, and serves in the background.
func startMetricsServer(addr string, m *metrics, logger logging.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	s := &metricsServer{
		svr:     &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:      ln,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *metricsServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *metricsServer) run() {
	defer close(s.stopped)
	s.logger.Info("Serving Prometheus metrics", "addr", s.Addr())
	if err := s.svr.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Metrics server shut down", "err", err)
	}
}

// Shutdown gracefully stops the server.
func (s *metricsServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := s.svr.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to gracefully shut down metrics server", "err", err)
	}
	<-s.stopped
	s.logger.Debug("Shut down metrics server")
}
