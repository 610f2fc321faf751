package loadtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/informalsystems/frameload/internal/logging"
	"github.com/spf13/cobra"
)

// CLIConfig allows developers to customize their own load testing tool.
type CLIConfig struct {
	AppName      string
	AppShortDesc string
	AppLongDesc  string
}

// executor runs a validated configuration. Swapped out in tests.
type executor func(ctx context.Context, cfg Config) error

func buildCLI(cli *CLIConfig, logger logging.Logger, exec executor) *cobra.Command {
	cfg := DefaultConfig()
	var flagVerbose bool
	rootCmd := &cobra.Command{
		Use:           cli.AppName,
		Short:         cli.AppShortDesc,
		Long:          cli.AppLongDesc,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagVerbose {
				if err := logging.SetLevel("debug"); err != nil {
					return err
				}
				logger.Debug("Set logging level to DEBUG")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Debug(fmt.Sprintf("Configuration: %s", cfg.ToJSON()))
			if err := cfg.Validate(); err != nil {
				logger.Error(err.Error())
				return NewError(ErrInvalidConfig, err)
			}
			return exec(cmd.Context(), cfg)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfg.Host, "host", "H", cfg.Host, "The host of the server under test")
	flags.IntVarP(&cfg.Port, "port", "P", cfg.Port, "The port of the server under test")
	flags.Uint16VarP(&cfg.MsgType, "msg-type", "m", cfg.MsgType, "The msgType of every frame sent")
	flags.IntVarP(&cfg.PayloadSize, "payload-size", "s", cfg.PayloadSize, "The size of the random payload of each frame, in bytes")
	flags.IntVarP(&cfg.Connections, "connections", "c", cfg.Connections, "The number of connections to open simultaneously")
	flags.Float64VarP(&cfg.Rate, "rate", "r", cfg.Rate, "The target number of frames per second across all connections - set to 0 to send as fast as possible")
	flags.VarP(&cfg.Time, "time", "T", "How long each connection sends for (e.g. 10s, 1m or a bare number of seconds)")
	flags.StringVar(&cfg.Pacing, "pacing", cfg.Pacing, "How sends are paced - can be sleep or token-bucket")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "How frames are carried - can be tcp or ws")
	flags.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "The URL path to connect to when using the ws transport")
	flags.Var(&cfg.ConnectTimeout, "connect-timeout", "The maximum time to wait for each connection to be established")
	flags.Var(&cfg.WriteTimeout, "write-timeout", "The maximum time a single frame write may block - set to 0 to disable")
	flags.Uint32Var(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "The largest inbound frame length accepted, in bytes")
	flags.BoolVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Send a single heartbeat frame on each connection before the load")
	flags.UintSliceVar(&cfg.ErrorMsgTypes, "error-types", cfg.ErrorMsgTypes, "A comma-separated list of response msgTypes the server uses to signal errors")
	flags.StringVar(&cfg.StatsOutputFile, "stats-output", "", "Where to store aggregate statistics (in CSV format) for the load test")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "A host:port on which to serve Prometheus metrics during the load test")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "Increase output logging verbosity to DEBUG level")
	return rootCmd
}

// Run must be executed from your `main` function in your Go code. It parses
// the command line, runs the load test and exits with a non-zero code if the
// run could not be set up or reported.
func Run(cli *CLIConfig) {
	logger := logging.NewLogrusLogger("main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelTrap := trapInterrupts(cancel, logger)
	defer close(cancelTrap)

	cmd := buildCLI(cli, logger, func(ctx context.Context, cfg Config) error {
		_, err := Execute(ctx, cfg, os.Stdout)
		return err
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Error("Error", "err", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var lerr *Error
	if errors.As(err, &lerr) && lerr.Code != NoError {
		return int(lerr.Code)
	}
	return 1
}

func trapInterrupts(onKill func(), logger logging.Logger) chan struct{} {
	sigc := make(chan os.Signal, 1)
	cancelTrap := make(chan struct{})
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigc)
		select {
		case <-sigc:
			logger.Info("Caught kill signal")
			onKill()
		case <-cancelTrap:
			return
		}
	}()
	return cancelTrap
}
