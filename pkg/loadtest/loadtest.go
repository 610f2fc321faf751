package loadtest

import (
	"context"
	"io"

	"github.com/informalsystems/frameload/internal/logging"
)

// Execute runs a complete load test for the given configuration: it opens the
// configured connections, drives them until their time is up (or ctx is
// cancelled), prints the report to out and optionally writes the CSV
// statistics. Connection-level failures never cause an error here; they are
// part of the returned result.
func Execute(ctx context.Context, cfg Config, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewError(ErrInvalidConfig, err)
	}
	runID := makeRunID()
	logger := logging.NewLogrusLogger("loadtest", "run", runID)

	payload, err := randomPayload(cfg.PayloadSize)
	if err != nil {
		logger.Error("Failed to generate payload", "err", err)
		return nil, NewError(ErrFailedToGeneratePayload, err)
	}

	m := newMetrics(runID)
	m.targetRate.Set(cfg.Rate)
	if len(cfg.MetricsAddr) > 0 {
		svr, err := startMetricsServer(cfg.MetricsAddr, m, logger)
		if err != nil {
			logger.Error("Failed to start metrics server", "err", err)
			return nil, NewError(ErrMetricsServerFailed, err)
		}
		defer svr.Shutdown()
	}

	g, err := NewWorkerGroup(cfg, payload, WithRunID(runID), WithLogger(logger), withMetrics(m))
	if err != nil {
		return nil, NewError(ErrInvalidConfig, err)
	}

	logger.Info("Initiating load test", "target", cfg.URL(), "connections", cfg.Connections, "rate", cfg.Rate, "time", cfg.Time.String())
	m.testUnderway.Set(1)
	result := g.Run(ctx)
	m.testUnderway.Set(0)
	m.elapsedSecond.Set(result.Elapsed.Seconds())
	result.Log(logger)

	if err := WriteReport(out, result); err != nil {
		logger.Error("Failed to write report", "err", err)
	}
	if len(cfg.StatsOutputFile) > 0 {
		if err := writeResultCSV(cfg.StatsOutputFile, result); err != nil {
			logger.Error("Failed to write aggregate statistics", "err", err)
			return &result, NewError(ErrFailedToWriteStats, err)
		}
		logger.Info("Wrote aggregate statistics", "file", cfg.StatsOutputFile)
	}
	if ctx.Err() != nil {
		return &result, NewError(ErrKilled, ctx.Err())
	}
	logger.Info("Load test complete!")
	return &result, nil
}
