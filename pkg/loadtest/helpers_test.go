package loadtest

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/informalsystems/frameload/internal/frameserver"
	"github.com/informalsystems/frameload/pkg/timeutils"
	"github.com/stretchr/testify/require"
)

func startFrameServer(t *testing.T, cfg frameserver.Config) *frameserver.Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := frameserver.New(cfg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testConfig points a default configuration at addr.
func testConfig(t *testing.T, addr string, connections int, rate float64, d time.Duration) Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Connections = connections
	cfg.Rate = rate
	cfg.Time = timeutils.ParseableDuration(d)
	cfg.ConnectTimeout = timeutils.ParseableDuration(time.Second)
	return cfg
}

// unusedAddr returns an address on which nothing is listening.
func unusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestWorker(t *testing.T, addr string, msgType uint16, payload []byte, perConnRate float64, d time.Duration) *ConnWorker {
	t.Helper()
	limiters, err := NewLimiterFactory(PacingSleep, perConnRate)
	require.NoError(t, err)
	return NewConnWorker(ConnWorkerConfig{
		Dial:         tcpDialer(addr, time.Second),
		MsgType:      msgType,
		Payload:      payload,
		Duration:     d,
		NewLimiter:   limiters,
		WriteTimeout: time.Second,
	})
}
