package loadtest

import (
	"context"
	"sync"
	"time"

	"github.com/informalsystems/frameload/internal/logging"
)

// WorkerGroup spawns and awaits one ConnWorker per configured connection and
// merges their results. The workers are independent of one another: they
// share neither connections nor buffers nor limiter state, only the
// aggregator they report to once they are done.
type WorkerGroup struct {
	cfg        Config
	payload    []byte
	dial       Dialer
	newLimiter LimiterFactory
	runID      string
	logger     logging.Logger
	metrics    *metrics
	agg        *Aggregator // The aggregator of the most recent run.
}

// WorkerGroupOption customises a WorkerGroup.
type WorkerGroupOption func(g *WorkerGroup)

// WithDialer overrides the dialer derived from the configuration.
func WithDialer(d Dialer) WorkerGroupOption {
	return func(g *WorkerGroup) {
		g.dial = d
	}
}

// WithLogger sets the logger of the group and of all of its workers.
func WithLogger(logger logging.Logger) WorkerGroupOption {
	return func(g *WorkerGroup) {
		g.logger = logger
	}
}

// WithRunID tags the group's result with the given run ID.
func WithRunID(id string) WorkerGroupOption {
	return func(g *WorkerGroup) {
		g.runID = id
	}
}

func withMetrics(m *metrics) WorkerGroupOption {
	return func(g *WorkerGroup) {
		g.metrics = m
	}
}

// NewWorkerGroup prepares a group for the given configuration. Every worker
// sends the same payload. The configuration is not validated beyond what is
// needed to build the group: a non-positive connection count simply yields a
// group with no workers.
func NewWorkerGroup(cfg Config, payload []byte, opts ...WorkerGroupOption) (*WorkerGroup, error) {
	g := &WorkerGroup{
		cfg:     cfg,
		payload: payload,
	}
	for _, opt := range opts {
		opt(g)
	}
	newLimiter, err := NewLimiterFactory(cfg.Pacing, cfg.PerConnectionRate())
	if err != nil {
		return nil, err
	}
	g.newLimiter = newLimiter
	if g.dial == nil {
		g.dial = NewDialer(cfg)
	}
	if g.logger == nil {
		g.logger = logging.NewNoopLogger()
	}
	if g.metrics == nil {
		g.metrics = newMetrics(g.runID)
	}
	return g, nil
}

// Run spawns all workers concurrently, waits for every one of them to finish
// and returns the merged result. There is no global deadline beyond each
// worker's own; cancelling ctx stops all workers early. Run always returns a
// result, even if every connection failed. Every call is an independent run
// with fresh connections and counters; calls must not overlap.
func (g *WorkerGroup) Run(ctx context.Context) Result {
	agg := NewAggregator()
	g.agg = agg
	workers := g.buildWorkers()
	g.logger.Info(
		"Starting connections",
		"connections", len(workers),
		"perConnRate", g.cfg.PerConnectionRate(),
		"time", g.cfg.Time.String(),
	)

	var wg sync.WaitGroup
	startTime := time.Now()
	for _, w := range workers {
		wg.Add(1)
		go func(_w *ConnWorker) {
			defer wg.Done()
			stats, hist := _w.Run(ctx)
			agg.Merge(stats, hist)
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	totals, hist := agg.Totals()
	result := Result{
		WorkerStats: totals,
		RunID:       g.runID,
		Connections: g.cfg.Connections,
		TargetRate:  g.cfg.Rate,
		Elapsed:     elapsed,
		Histogram:   hist,
	}
	result.Compute(g.cfg.errorMsgTypeSet())
	return result
}

func (g *WorkerGroup) buildWorkers() []*ConnWorker {
	if g.cfg.Connections <= 0 {
		return nil
	}
	workers := make([]*ConnWorker, 0, g.cfg.Connections)
	for i := 0; i < g.cfg.Connections; i++ {
		workers = append(workers, NewConnWorker(ConnWorkerConfig{
			ID:           i,
			Dial:         g.dial,
			MsgType:      g.cfg.MsgType,
			Payload:      g.payload,
			Duration:     g.cfg.Time.Duration(),
			NewLimiter:   g.newLimiter,
			WriteTimeout: g.cfg.WriteTimeout.Duration(),
			MaxFrameSize: g.cfg.MaxFrameSize,
			Heartbeat:    g.cfg.Heartbeat,
			Logger:       g.logger,
			metrics:      g.metrics,
		}))
	}
	return workers
}
