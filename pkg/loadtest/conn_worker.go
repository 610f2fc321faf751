package loadtest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/informalsystems/frameload/internal/logging"
	"github.com/informalsystems/frameload/pkg/frame"
)

const connReadBufferSize = 64 * 1024

// ConnState is the lifecycle state of a ConnWorker.
type ConnState string

// ConnWorker possible states
const (
	ConnIdle          ConnState = "idle"
	ConnConnecting    ConnState = "connecting"
	ConnConnected     ConnState = "connected"
	ConnRunning       ConnState = "running"
	ConnDraining      ConnState = "draining"
	ConnClosed        ConnState = "closed"
	ConnConnectFailed ConnState = "connect_failed"
)

// ConnWorkerConfig holds everything a single connection needs to run.
type ConnWorkerConfig struct {
	ID           int            // Index of this connection within the run, for logs.
	Dial         Dialer         // Opens the connection.
	MsgType      uint16         // The msgType of every paced frame.
	Payload      []byte         // The payload of every paced frame.
	Duration     time.Duration  // How long to keep sending once connected.
	NewLimiter   LimiterFactory // Paces the sends. Nil means unlimited sleep pacing.
	WriteTimeout time.Duration  // Per-write deadline. 0 disables.
	MaxFrameSize uint32         // Largest inbound frame accepted. 0 selects the codec default.
	Heartbeat    bool           // Send a heartbeat frame before the paced frames.
	Logger       logging.Logger // Nil means no logging.

	metrics *metrics
}

// ConnWorker owns one connection for its whole life: it connects, runs a
// paced send loop and a receive loop concurrently, shuts both down when the
// send loop is done, releases the connection and hands back its counters.
//
// The send loop and the receive loop are coupled by a single one-way signal:
// when the send loop exits it closes the stop channel and then force-closes
// the connection. The receive loop is normally blocked in a read, so closing
// the connection is what actually unblocks it; the read then fails with
// net.ErrClosed, which together with the closed stop channel marks it as our
// own doing and not a receive failure.
type ConnWorker struct {
	cfg     ConnWorkerConfig
	frame   []byte // The encoded paced frame, private to this connection.
	logger  logging.Logger
	metrics *metrics

	conn      Conn
	closeOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// The send loop alone writes Sent, SendErrors and SentBytes; the receive
	// loop alone writes Recv, RecvErrors, RecvBytes and hist. Both are read
	// only after wg.Wait().
	stats WorkerStats
	hist  Histogram

	stateMtx sync.RWMutex
	state    ConnState
}

// NewConnWorker prepares, but does not start, a connection worker.
func NewConnWorker(cfg ConnWorkerConfig) *ConnWorker {
	if cfg.NewLimiter == nil {
		cfg.NewLimiter, _ = NewLimiterFactory(PacingSleep, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	m := cfg.metrics
	if m == nil {
		m = newMetrics("")
	}
	return &ConnWorker{
		cfg:     cfg,
		frame:   frame.Encode(cfg.MsgType, cfg.Payload),
		logger:  logger.With("conn", cfg.ID),
		metrics: m,
		stop:    make(chan struct{}),
		hist:    make(Histogram),
		state:   ConnIdle,
	}
}

// Run executes the worker's whole lifecycle and blocks until the connection
// has been released. It never fails: every problem is turned into a counter
// in the returned stats. Cancelling ctx stops the worker early, exactly as if
// its deadline had passed.
func (w *ConnWorker) Run(ctx context.Context) (WorkerStats, Histogram) {
	w.setState(ConnConnecting)
	conn, err := w.cfg.Dial(ctx)
	if err != nil {
		w.setState(ConnConnectFailed)
		w.logger.Debug("Failed to connect", "err", err)
		w.metrics.failure(ConnectFailure)
		// nothing to release and nothing else to report
		return WorkerStats{ConnectFail: 1}, make(Histogram)
	}
	w.conn = conn
	defer w.release()
	w.setState(ConnConnected)
	w.logger.Debug("Connected")

	// external cancellation must unblock a pending read or write the same way
	// the end of the send loop does
	stopWatching := context.AfterFunc(ctx, w.halt)
	defer stopWatching()

	limiter := w.cfg.NewLimiter(time.Now().Add(w.cfg.Duration))

	w.setState(ConnRunning)
	w.metrics.activeConns.Inc()
	w.wg.Add(2)
	go w.receiveLoop()
	go w.sendLoop(ctx, limiter)
	w.wg.Wait()
	w.metrics.activeConns.Dec()

	w.setState(ConnDraining)
	w.release()
	w.setState(ConnClosed)
	w.logger.Debug(
		"Connection finished",
		"sent", w.stats.Sent,
		"recv", w.stats.Recv,
		"sendErrors", w.stats.SendErrors,
		"recvErrors", w.stats.RecvErrors,
	)
	return w.stats, w.hist
}

// State returns the worker's current lifecycle state.
func (w *ConnWorker) State() ConnState {
	w.stateMtx.RLock()
	defer w.stateMtx.RUnlock()
	return w.state
}

func (w *ConnWorker) setState(s ConnState) {
	w.stateMtx.Lock()
	w.state = s
	w.stateMtx.Unlock()
}

func (w *ConnWorker) sendLoop(ctx context.Context, limiter RateLimiter) {
	defer w.wg.Done()
	// whatever made us stop, the receive loop has to stop too
	defer w.halt()

	if w.cfg.Heartbeat {
		if !w.writeFrame(frame.Encode(MsgHeartbeat, nil)) {
			return
		}
	}
	for limiter.Continue(ctx) {
		if !w.writeFrame(w.frame) {
			return
		}
		limiter.Pause(ctx)
	}
}

// writeFrame reports whether the send loop may carry on.
func (w *ConnWorker) writeFrame(b []byte) bool {
	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	if _, err := w.conn.Write(b); err != nil {
		if w.closedByUs(err) {
			return false
		}
		w.stats.SendErrors++
		w.metrics.failure(SendFailure)
		w.logger.Debug("Failed to write frame", "err", err)
		return false
	}
	w.stats.Sent++
	w.stats.SentBytes += int64(len(b))
	w.metrics.frameSent(len(b))
	return true
}

func (w *ConnWorker) receiveLoop() {
	defer w.wg.Done()
	dec := frame.NewDecoder(bufio.NewReaderSize(w.conn, connReadBufferSize), w.cfg.MaxFrameSize)
	for {
		msgType, payload, err := dec.Decode()
		if err != nil {
			if w.closedByUs(err) {
				return
			}
			w.stats.RecvErrors++
			w.metrics.failure(ReceiveFailure)
			if errors.Is(err, frame.ErrIncompleteFrame) {
				w.logger.Debug("Connection closed by remote end", "err", err)
			} else {
				w.logger.Debug("Failed to read frame", "err", err)
			}
			return
		}
		n := frame.HeaderSize + len(payload)
		w.stats.Recv++
		w.stats.RecvBytes += int64(n)
		w.hist[msgType]++
		w.metrics.frameReceived(n)
		if w.stopped() {
			return
		}
	}
}

// halt raises the stop signal and then force-closes the connection. The
// order matters: a loop whose I/O fails because of the close must already be
// able to see that it was asked to stop.
func (w *ConnWorker) halt() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.release()
}

func (w *ConnWorker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// closedByUs reports whether an I/O failure was caused by the worker's own
// close. A failure that merely coincides with the stop signal, such as the
// peer resetting the connection under both loops at once, still counts.
func (w *ConnWorker) closedByUs(err error) bool {
	return w.stopped() && errors.Is(err, net.ErrClosed)
}

// release closes the connection exactly once. Close failures are of no
// interest to anyone and are only logged.
func (w *ConnWorker) release() {
	w.closeOnce.Do(func() {
		if err := w.conn.Close(); err != nil {
			w.logger.Debug(fmt.Sprintf("Ignoring %s failure", CloseFailure), "err", err)
		}
	})
}
