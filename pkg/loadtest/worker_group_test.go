package loadtest

import (
	"context"
	"testing"
	"time"

	"github.com/informalsystems/frameload/internal/frameserver"
	"github.com/stretchr/testify/require"
)

func TestWorkerGroupSink(t *testing.T) {
	s := startFrameServer(t, frameserver.Config{Mode: frameserver.ModeSink})
	cfg := testConfig(t, s.Addr(), 5, 100, 2*time.Second)

	g, err := NewWorkerGroup(cfg, make([]byte, 16))
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.Zero(t, r.Recv)
	require.Zero(t, r.RecvErrors)
	require.Zero(t, r.SendErrors)
	require.Zero(t, r.ConnectFail)
	// 5 connections at 20/s for 2s, give or take a frame each plus the drift
	// of uncorrected sleeping
	require.GreaterOrEqual(t, r.Sent, int64(160))
	require.LessOrEqual(t, r.Sent, int64(205))
	require.GreaterOrEqual(t, r.Elapsed, 2*time.Second)
	require.Equal(t, 5, g.agg.Merges())
}

func TestWorkerGroupNoListener(t *testing.T) {
	cfg := testConfig(t, unusedAddr(t), 4, 100, time.Second)

	g, err := NewWorkerGroup(cfg, nil)
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.Equal(t, WorkerStats{ConnectFail: 4}, r.WorkerStats)
	require.Empty(t, r.Histogram)
	require.Equal(t, 4, g.agg.Merges())
}

func TestWorkerGroupRunsAreIndependent(t *testing.T) {
	cfg := testConfig(t, unusedAddr(t), 3, 100, time.Second)

	g, err := NewWorkerGroup(cfg, nil)
	require.NoError(t, err)
	first := g.Run(context.Background())
	second := g.Run(context.Background())

	require.Equal(t, WorkerStats{ConnectFail: 3}, first.WorkerStats)
	require.Equal(t, WorkerStats{ConnectFail: 3}, second.WorkerStats)
	require.Equal(t, 3, g.agg.Merges())
}

func TestWorkerGroupNoConnections(t *testing.T) {
	cfg := testConfig(t, unusedAddr(t), 0, 100, time.Second)

	g, err := NewWorkerGroup(cfg, nil)
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.Equal(t, WorkerStats{}, r.WorkerStats)
	require.Zero(t, g.agg.Merges())
	require.Zero(t, r.SendRate)
}

func TestWorkerGroupRouteErrorFrames(t *testing.T) {
	s := startFrameServer(t, frameserver.Config{Mode: frameserver.ModeRoute})
	cfg := testConfig(t, s.Addr(), 2, 20, time.Second)
	cfg.MsgType = 100

	g, err := NewWorkerGroup(cfg, []byte("payload"))
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.Greater(t, r.Recv, int64(0))
	require.Equal(t, r.Sent, r.Recv)
	require.Equal(t, r.Recv, r.ErrorFrames)
	require.Equal(t, Histogram{MsgError: r.Recv}, r.Histogram)
}

func TestWorkerGroupWebSockets(t *testing.T) {
	s := startFrameServer(t, frameserver.Config{
		Mode:   frameserver.ModeEcho,
		WSAddr: "127.0.0.1:0",
		WSPath: "/frames",
	})
	cfg := testConfig(t, s.WSAddr(), 2, 20, time.Second)
	cfg.Transport = TransportWebSocket
	cfg.WSPath = "/frames"
	require.NoError(t, cfg.Validate())

	g, err := NewWorkerGroup(cfg, []byte("over websockets"))
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.Zero(t, r.ConnectFail)
	require.Zero(t, r.SendErrors)
	require.Zero(t, r.RecvErrors)
	require.InDelta(t, 20, r.Sent, 2)
	require.Equal(t, r.Sent, r.Recv)
	require.Equal(t, Histogram{MsgEcho: r.Recv}, r.Histogram)
}

func TestWorkerGroupTokenBucket(t *testing.T) {
	s := startFrameServer(t, frameserver.Config{Mode: frameserver.ModeEcho})
	cfg := testConfig(t, s.Addr(), 2, 40, time.Second)
	cfg.Pacing = PacingTokenBucket

	g, err := NewWorkerGroup(cfg, nil)
	require.NoError(t, err)
	r := g.Run(context.Background())

	require.InDelta(t, 40, r.Sent, 4)
	require.Zero(t, r.SendErrors)
}

func TestWorkerGroupInvalidPacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pacing = "jittery"
	_, err := NewWorkerGroup(cfg, nil)
	require.Error(t, err)
}
