package loadtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// WorkerStats are the counters of a single connection. They are owned
// exclusively by that connection's worker until it merges them into an
// Aggregator, exactly once, after both of its loops have stopped.
type WorkerStats struct {
	Sent        int64 `json:"sent"`         // Frames written successfully.
	Recv        int64 `json:"recv"`         // Frames decoded successfully.
	SendErrors  int64 `json:"send_errors"`  // Failed writes (at most 1 per connection).
	RecvErrors  int64 `json:"recv_errors"`  // Failed reads (at most 1 per connection).
	ConnectFail int64 `json:"connect_fail"` // Failed connection attempts (at most 1 per connection).
	SentBytes   int64 `json:"sent_bytes"`   // Wire bytes of all frames sent.
	RecvBytes   int64 `json:"recv_bytes"`   // Wire bytes of all frames received.
}

func (s *WorkerStats) add(o WorkerStats) {
	s.Sent += o.Sent
	s.Recv += o.Recv
	s.SendErrors += o.SendErrors
	s.RecvErrors += o.RecvErrors
	s.ConnectFail += o.ConnectFail
	s.SentBytes += o.SentBytes
	s.RecvBytes += o.RecvBytes
}

// Histogram counts received frames by msgType.
type Histogram map[uint16]int64

// HistogramEntry is a single msgType count.
type HistogramEntry struct {
	MsgType uint16
	Count   int64
}

// Add folds the other histogram's counts into this one.
func (h Histogram) Add(other Histogram) {
	for msgType, count := range other {
		h[msgType] += count
	}
}

// Sorted returns the entries by descending count, ties broken by ascending
// msgType.
func (h Histogram) Sorted() []HistogramEntry {
	entries := make([]HistogramEntry, 0, len(h))
	for msgType, count := range h {
		entries = append(entries, HistogramEntry{MsgType: msgType, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].MsgType < entries[j].MsgType
	})
	return entries
}

func (h Histogram) clone() Histogram {
	c := make(Histogram, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// Aggregator is the single point where per-connection results are combined.
// Merge is safe to call from many goroutines at once.
type Aggregator struct {
	mtx    sync.Mutex
	totals WorkerStats
	hist   Histogram
	merges int
}

// NewAggregator creates an aggregator with all totals at zero.
func NewAggregator() *Aggregator {
	return &Aggregator{hist: make(Histogram)}
}

// Merge adds a connection's final counters and histogram to the totals.
func (a *Aggregator) Merge(local WorkerStats, hist Histogram) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.totals.add(local)
	a.hist.Add(hist)
	a.merges++
}

// Totals returns a copy of the merged counters and histogram.
func (a *Aggregator) Totals() (WorkerStats, Histogram) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.totals, a.hist.clone()
}

// Merges returns how many connections have reported so far.
func (a *Aggregator) Merges() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.merges
}

// Result is the outcome of a whole load test run.
type Result struct {
	WorkerStats

	RunID       string        // Identifies this run in logs, metrics and CSV output.
	Connections int           // The configured number of connections.
	TargetRate  float64       // The configured aggregate rate (frames/sec).
	Elapsed     time.Duration // Wall-clock time from first spawn to last completion.
	Histogram   Histogram     // Received frames by msgType.

	// Computed statistics
	ErrorFrames int64   // Received frames whose msgType signals a server-side error.
	SendRate    float64 // Achieved send rate (frames/sec).
	RecvRate    float64 // Achieved receive rate (frames/sec).
}

// Compute derives the rates and the error frame count.
func (r *Result) Compute(errorMsgTypes map[uint16]struct{}) {
	r.SendRate = 0
	r.RecvRate = 0
	if secs := r.Elapsed.Seconds(); secs > 0 {
		r.SendRate = float64(r.Sent) / secs
		r.RecvRate = float64(r.Recv) / secs
	}
	r.ErrorFrames = 0
	for msgType, count := range r.Histogram {
		if _, ok := errorMsgTypes[msgType]; ok {
			r.ErrorFrames += count
		}
	}
}

func (r *Result) String() string {
	return fmt.Sprintf(
		"Result{Elapsed: %.3fs, Sent: %d, Recv: %d, SendErrors: %d, RecvErrors: %d, ConnectFail: %d, SendRate: %.3f, RecvRate: %.3f}",
		r.Elapsed.Seconds(),
		r.Sent,
		r.Recv,
		r.SendErrors,
		r.RecvErrors,
		r.ConnectFail,
		r.SendRate,
		r.RecvRate,
	)
}

func writeResultCSV(filename string, r Result) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	records := [][]string{
		{"Parameter", "Value", "Units"},
		{"run_id", r.RunID, ""},
		{"total_time", fmt.Sprintf("%.3f", r.Elapsed.Seconds()), "seconds"},
		{"connections", fmt.Sprintf("%d", r.Connections), "count"},
		{"target_rate", fmt.Sprintf("%.3f", r.TargetRate), "frames per second"},
		{"sent", fmt.Sprintf("%d", r.Sent), "count"},
		{"recv", fmt.Sprintf("%d", r.Recv), "count"},
		{"send_errors", fmt.Sprintf("%d", r.SendErrors), "count"},
		{"recv_errors", fmt.Sprintf("%d", r.RecvErrors), "count"},
		{"connect_fail", fmt.Sprintf("%d", r.ConnectFail), "count"},
		{"sent_bytes", fmt.Sprintf("%d", r.SentBytes), "bytes"},
		{"recv_bytes", fmt.Sprintf("%d", r.RecvBytes), "bytes"},
		{"error_frames", fmt.Sprintf("%d", r.ErrorFrames), "count"},
		{"send_rate", fmt.Sprintf("%.6f", r.SendRate), "frames per second"},
		{"recv_rate", fmt.Sprintf("%.6f", r.RecvRate), "frames per second"},
	}
	for _, e := range r.Histogram.Sorted() {
		records = append(records, []string{fmt.Sprintf("msg_type_%d", e.MsgType), fmt.Sprintf("%d", e.Count), "count"})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	return f.Close()
}
