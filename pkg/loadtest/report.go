package loadtest

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/informalsystems/frameload/internal/logging"
)

// Log will output the given result using the specified logger.
func (r *Result) Log(logger logging.Logger) {
	logger.Info(
		"Load test summary",
		"elapsed", r.Elapsed.String(),
		"sent", r.Sent,
		"recv", r.Recv,
		"sendErrors", r.SendErrors,
		"recvErrors", r.RecvErrors,
		"connectFail", r.ConnectFail,
		"sendRate", fmt.Sprintf("%.2f frames/sec", r.SendRate),
		"recvRate", fmt.Sprintf("%.2f frames/sec", r.RecvRate),
	)
}

// WriteReport prints the human-readable report of a run: its shape, the
// aggregated counters and the response msgType histogram, most frequent
// first.
func WriteReport(out io.Writer, r Result) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rate := "unlimited"
	if r.TargetRate > 0 {
		rate = fmt.Sprintf("%.2f frames/sec", r.TargetRate)
	}
	lines := []struct {
		name  string
		value interface{}
	}{
		{"elapsed", fmt.Sprintf("%.2fs", r.Elapsed.Seconds())},
		{"concurrency", r.Connections},
		{"target rate", rate},
		{"sent", r.Sent},
		{"recv", r.Recv},
		{"send_errors", r.SendErrors},
		{"recv_errors", r.RecvErrors},
		{"connect_fail", r.ConnectFail},
		{"send rate", fmt.Sprintf("%.2f frames/sec", r.SendRate)},
		{"recv rate", fmt.Sprintf("%.2f frames/sec", r.RecvRate)},
		{"error frames", r.ErrorFrames},
	}
	if _, err := fmt.Fprintln(tw, "===== Load test result ====="); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(tw, "%s\t: %v\n", l.name, l.value); err != nil {
			return err
		}
	}
	if len(r.Histogram) > 0 {
		if _, err := fmt.Fprintln(tw, "response msgType counts:"); err != nil {
			return err
		}
		for _, e := range r.Histogram.Sorted() {
			if _, err := fmt.Fprintf(tw, "  %d\t: %d\n", e.MsgType, e.Count); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}
