// Package frameserver is a small framed TCP (and optionally WebSockets) server
// for exercising the load generator. It can echo frames back, answer them
// through a fixed routing table, or swallow them silently, and it can be
// taken down and brought back up at runtime to simulate outages.
package frameserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/informalsystems/frameload/internal/logging"
	"github.com/informalsystems/frameload/internal/wsconn"
	"github.com/informalsystems/frameload/pkg/frame"
)

// Mode determines how the server answers incoming frames.
type Mode string

// Supported server modes.
const (
	ModeEcho  Mode = "echo"  // Reply with each frame unmodified.
	ModeRoute Mode = "route" // Reply through the routing table (see Route).
	ModeSink  Mode = "sink"  // Read and discard, never reply.
)

const wsReadHeaderTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeEcho, ModeRoute, ModeSink:
		return m, nil
	}
	return "", fmt.Errorf("unrecognised server mode %q (expected one of %q, %q or %q)", s, ModeEcho, ModeRoute, ModeSink)
}

// Config describes what a Server listens on and how it answers.
type Config struct {
	Addr         string // Where to listen for framed TCP connections.
	Mode         Mode   // How to answer frames. Empty means echo.
	WSAddr       string // Where to listen for WebSockets connections (optional).
	WSPath       string // The WebSockets endpoint path. Empty means "/".
	MaxFrameSize uint32 // Largest inbound frame accepted. 0 selects the codec default.
}

// Server serves framed connections until it is closed.
type Server struct {
	cfg    Config
	logger logging.Logger

	mtx    sync.Mutex
	ln     net.Listener
	addr   string // The bound TCP address, kept across Down/Up.
	up     bool
	closed bool
	conns  map[io.Closer]struct{}
	wsLn   net.Listener
	wsSvr  *http.Server
	wg     sync.WaitGroup
}

// New creates, but does not start, a server.
func New(cfg Config, logger logging.Logger) *Server {
	if cfg.Mode == "" {
		cfg.Mode = ModeEcho
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/"
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[io.Closer]struct{}),
	}
}

// Start binds the configured listeners and begins accepting connections in
// the background.
func (s *Server) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed || s.addr != "" {
		return fmt.Errorf("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if s.cfg.WSAddr != "" {
		wsLn, err := net.Listen("tcp", s.cfg.WSAddr)
		if err != nil {
			_ = ln.Close()
			return err
		}
		mux := http.NewServeMux()
		mux.HandleFunc(s.cfg.WSPath, s.newWebSocketHandler())
		s.wsLn = wsLn
		s.wsSvr = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: wsReadHeaderTimeout,
		}
		s.wg.Add(1)
		go s.runWebSocketServer()
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	s.up = true
	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Info("Started frame server", "addr", s.addr, "mode", s.cfg.Mode)
	return nil
}

// Addr returns the bound TCP address, or "" if the server was never started.
func (s *Server) Addr() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.addr
}

// WSAddr returns the bound WebSockets address, or "" if there is none.
func (s *Server) WSAddr() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.wsLn == nil {
		return ""
	}
	return s.wsLn.Addr().String()
}

// IsUp reports whether the server is currently accepting connections.
func (s *Server) IsUp() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.up
}

// Down simulates an outage: it stops accepting connections and drops every
// open one. Bringing a server down twice is not an error.
func (s *Server) Down() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.down()
}

func (s *Server) down() error {
	if !s.up {
		return nil
	}
	s.up = false
	err := s.ln.Close()
	s.ln = nil
	for c := range s.conns {
		_ = c.Close()
	}
	s.logger.Info("Frame server is down")
	return err
}

// Up ends a simulated outage by listening again on the same address.
func (s *Server) Up() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return fmt.Errorf("server closed")
	}
	if s.addr == "" {
		return fmt.Errorf("server not started")
	}
	if s.up {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.up = true
	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Info("Frame server is up", "addr", s.addr)
	return nil
}

// Close stops all listeners, drops all connections and waits for every
// connection handler to return.
func (s *Server) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil
	}
	s.closed = true
	err := s.down()
	if s.wsSvr != nil {
		if wsErr := s.wsSvr.Close(); wsErr != nil && err == nil {
			err = wsErr
		}
	}
	s.mtx.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Failed to accept connection", "err", err)
			}
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go s.serveConn(conn, conn.RemoteAddr().String())
	}
}

func (s *Server) runWebSocketServer() {
	defer s.wg.Done()
	if err := s.wsSvr.Serve(s.wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("WebSockets server shut down", "err", err)
	}
}

func (s *Server) newWebSocketHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.IsUp() {
			http.Error(w, "Server is down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("Error while attempting to upgrade incoming WebSockets connection", "err", err)
			return
		}
		c := wsconn.New(conn)
		if !s.track(c) {
			_ = c.Close()
			return
		}
		s.serveConn(c, r.RemoteAddr)
	}
}

// track registers a connection so that Down and Close can drop it. It
// returns false if the server is not accepting connections.
func (s *Server) track(c io.Closer) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.up {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c io.Closer) {
	s.mtx.Lock()
	delete(s.conns, c)
	s.mtx.Unlock()
	_ = c.Close()
	s.wg.Done()
}

func (s *Server) serveConn(conn io.ReadWriteCloser, remote string) {
	defer s.untrack(conn)
	logger := s.logger.With("remote", remote)
	logger.Debug("Accepted connection")

	dec := frame.NewDecoder(bufio.NewReader(conn), s.cfg.MaxFrameSize)
	for {
		msgType, payload, err := dec.Decode()
		if err != nil {
			logger.Debug("Connection finished", "err", err)
			return
		}
		replyType, reply, ok := s.answer(msgType, payload)
		if !ok {
			continue
		}
		if err := frame.WriteFrame(conn, replyType, reply); err != nil {
			logger.Debug("Failed to write reply", "err", err)
			return
		}
	}
}

func (s *Server) answer(msgType uint16, payload []byte) (uint16, []byte, bool) {
	switch s.cfg.Mode {
	case ModeSink:
		return 0, nil, false
	case ModeRoute:
		return Route(msgType, payload)
	}
	return msgType, payload, true
}

// Route is the routing table of ModeRoute: heartbeats get no reply, echo
// frames are answered with "echo" prepended to their payload and anything
// else is rejected with an empty error frame.
func Route(msgType uint16, payload []byte) (uint16, []byte, bool) {
	switch msgType {
	case frame.TypeHeartbeat:
		return 0, nil, false
	case frame.TypeEcho:
		return frame.TypeEcho, append([]byte("echo"), payload...), true
	}
	return frame.TypeError, nil, true
}
