package loadtest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/informalsystems/frameload/pkg/frame"
	"github.com/informalsystems/frameload/pkg/timeutils"
)

// Supported transports.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Supported pacing modes.
const (
	PacingSleep       = "sleep"
	PacingTokenBucket = "token-bucket"
)

// The largest payload we are willing to generate for outbound frames.
const maxPayloadSize = 64 * 1024 * 1024

// Config represents the configuration for a single load test run.
type Config struct {
	Host            string                      `json:"host"`              // The host of the server under test.
	Port            int                         `json:"port"`              // The port of the server under test.
	Transport       string                      `json:"transport"`         // How frames are carried: "tcp" or "ws".
	WSPath          string                      `json:"ws_path"`           // The URL path to use for the "ws" transport.
	MsgType         uint16                      `json:"msg_type"`          // The msgType of every frame sent during the run.
	PayloadSize     int                         `json:"payload_size"`      // The size of the random payload of every frame, in bytes.
	Connections     int                         `json:"connections"`       // The number of concurrent connections to open.
	Rate            float64                     `json:"rate"`              // The target aggregate send rate (frames/sec) across all connections. 0 means unlimited.
	Time            timeutils.ParseableDuration `json:"time"`              // How long each connection keeps sending.
	Pacing          string                      `json:"pacing"`            // The pacing strategy: "sleep" or "token-bucket".
	ConnectTimeout  timeutils.ParseableDuration `json:"connect_timeout"`   // The maximum time to wait for a connection to be established.
	WriteTimeout    timeutils.ParseableDuration `json:"write_timeout"`     // The maximum time a single frame write may block. 0 disables.
	MaxFrameSize    uint32                      `json:"max_frame_size"`    // The largest inbound frame length we accept.
	Heartbeat       bool                        `json:"heartbeat"`         // Send a single heartbeat frame right after connecting.
	ErrorMsgTypes   []uint                      `json:"error_msg_types"`   // Response msgTypes that the server uses to signal errors.
	StatsOutputFile string                      `json:"stats_output_file"` // Where to write aggregate statistics as CSV (optional).
	MetricsAddr     string                      `json:"metrics_addr"`      // Where to serve Prometheus metrics during the run (optional).
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9000,
		Transport:      TransportTCP,
		WSPath:         "/",
		MsgType:        MsgEcho,
		PayloadSize:    16,
		Connections:    10,
		Rate:           100,
		Time:           timeutils.ParseableDuration(10 * time.Second),
		Pacing:         PacingSleep,
		ConnectTimeout: timeutils.ParseableDuration(5 * time.Second),
		WriteTimeout:   timeutils.ParseableDuration(10 * time.Second),
		MaxFrameSize:   frame.DefaultMaxLength,
		ErrorMsgTypes:  append([]uint(nil), defaultErrorMsgTypes...),
	}
}

func (c Config) Validate() error {
	if len(c.Host) == 0 {
		return fmt.Errorf("Target host must be specified")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("Expected port to be between 1 and 65535, but was %d", c.Port)
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("Expected transport to be one of \"%s\" or \"%s\", but was \"%s\"", TransportTCP, TransportWebSocket, c.Transport)
	}
	if c.PayloadSize < 0 || c.PayloadSize > maxPayloadSize {
		return fmt.Errorf("Expected payload size to be between 0 and %d bytes, but was %d", maxPayloadSize, c.PayloadSize)
	}
	if c.Connections < 1 {
		return fmt.Errorf("Expected connections to be >= 1, but was %d", c.Connections)
	}
	if c.Rate < 0 {
		return fmt.Errorf("Expected rate to be >= 0, but was %.3f", c.Rate)
	}
	if c.Time <= 0 {
		return fmt.Errorf("Expected load test time to be > 0, but was %s", c.Time)
	}
	switch c.Pacing {
	case PacingSleep, PacingTokenBucket:
	default:
		return fmt.Errorf("Expected pacing to be one of \"%s\" or \"%s\", but was \"%s\"", PacingSleep, PacingTokenBucket, c.Pacing)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("Expected connect timeout to be >= 0, but was %s", c.ConnectTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("Expected write timeout to be >= 0, but was %s", c.WriteTimeout)
	}
	if c.MaxFrameSize < frame.TypeSize {
		return fmt.Errorf("Expected max frame size to be >= %d, but was %d", frame.TypeSize, c.MaxFrameSize)
	}
	for _, mt := range c.ErrorMsgTypes {
		if mt > 65535 {
			return fmt.Errorf("Expected error msgTypes to fit in 16 bits, but got %d", mt)
		}
	}
	return nil
}

// PerConnectionRate splits the aggregate target rate evenly across all
// connections. A non-positive connection count yields 0 (unlimited), which is
// never used since no connections are opened.
func (c Config) PerConnectionRate() float64 {
	if c.Connections > 0 {
		return c.Rate / float64(c.Connections)
	}
	return 0
}

// Addr is the "host:port" of the server under test.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the endpoint the configured transport dials.
func (c Config) URL() string {
	if c.Transport == TransportWebSocket {
		u := url.URL{Scheme: "ws", Host: c.Addr(), Path: c.WSPath}
		return u.String()
	}
	return "tcp://" + c.Addr()
}

func (c Config) errorMsgTypeSet() map[uint16]struct{} {
	set := make(map[uint16]struct{}, len(c.ErrorMsgTypes))
	for _, mt := range c.ErrorMsgTypes {
		set[uint16(mt)] = struct{}{}
	}
	return set
}

func (c Config) ToJSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", c)
	}
	return string(b)
}
