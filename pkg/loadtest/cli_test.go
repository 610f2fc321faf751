package loadtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/informalsystems/frameload/internal/logging"
	"github.com/informalsystems/frameload/pkg/timeutils"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (*Config, error) {
	var got *Config
	cmd := buildCLI(&CLIConfig{AppName: "frameload"}, logging.NewNoopLogger(), func(ctx context.Context, cfg Config) error {
		got = &cfg
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestCLIDefaults(t *testing.T) {
	cfg, err := runCLI(t)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, DefaultConfig(), *cfg)
}

func TestCLIFlags(t *testing.T) {
	cfg, err := runCLI(t,
		"-H", "10.0.0.1",
		"-P", "9100",
		"-m", "7",
		"-s", "32",
		"-c", "4",
		"-r", "250.5",
		"-T", "1m30s",
		"--pacing", "token-bucket",
		"--transport", "ws",
		"--ws-path", "/frames",
		"--connect-timeout", "2",
		"--write-timeout", "0s",
		"--max-frame-size", "1024",
		"--heartbeat",
		"--error-types", "65535,7",
		"--stats-output", "out.csv",
		"--metrics-addr", "127.0.0.1:9102",
	)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	expected := Config{
		Host:            "10.0.0.1",
		Port:            9100,
		Transport:       TransportWebSocket,
		WSPath:          "/frames",
		MsgType:         7,
		PayloadSize:     32,
		Connections:     4,
		Rate:            250.5,
		Time:            timeutils.ParseableDuration(90 * time.Second),
		Pacing:          PacingTokenBucket,
		ConnectTimeout:  timeutils.ParseableDuration(2 * time.Second),
		WriteTimeout:    0,
		MaxFrameSize:    1024,
		Heartbeat:       true,
		ErrorMsgTypes:   []uint{65535, 7},
		StatsOutputFile: "out.csv",
		MetricsAddr:     "127.0.0.1:9102",
	}
	require.Equal(t, expected, *cfg)
}

func TestCLIBareSecondsTime(t *testing.T) {
	cfg, err := runCLI(t, "-T", "2.5")
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, cfg.Time.Duration())
}

func TestCLIInvalidConfig(t *testing.T) {
	testCases := [][]string{
		{"-c", "0"},
		{"--transport", "carrier-pigeon"},
		{"-T", "0"},
		{"--pacing", "eager"},
	}
	for i, args := range testCases {
		cfg, err := runCLI(t, args...)
		if cfg != nil {
			t.Errorf("Test case %d: Expected the load test not to run", i)
		}
		if !IsErrorCode(err, ErrInvalidConfig) {
			t.Errorf("Test case %d: Expected an invalid configuration error, but got %v", i, err)
		}
		if code := exitCode(err); code != int(ErrInvalidConfig) {
			t.Errorf("Test case %d: Expected exit code %d, but got %d", i, ErrInvalidConfig, code)
		}
	}
}

func TestCLIRejectsUnparseableFlags(t *testing.T) {
	_, err := runCLI(t, "-T", "soon")
	require.Error(t, err)
	_, err = runCLI(t, "-m", "70000")
	require.Error(t, err)
	_, err = runCLI(t, "stray-argument")
	require.Error(t, err)
}

func TestCLIVerbose(t *testing.T) {
	defer func() { _ = logging.SetLevel("info") }()
	_, err := runCLI(t, "-v")
	require.NoError(t, err)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, int(ErrFailedToWriteStats), exitCode(NewError(ErrFailedToWriteStats, nil)))
	require.Equal(t, 1, exitCode(errors.New("unknown flag")))
}
