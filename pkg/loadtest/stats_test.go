package loadtest

import (
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregatorConcurrentMerges(t *testing.T) {
	const workers = 100
	locals := make([]WorkerStats, workers)
	hists := make([]Histogram, workers)
	var expected WorkerStats
	expectedHist := make(Histogram)
	for i := 0; i < workers; i++ {
		locals[i] = WorkerStats{
			Sent:        int64(i * 3),
			Recv:        int64(i * 2),
			SendErrors:  int64(i % 2),
			RecvErrors:  int64((i + 1) % 2),
			ConnectFail: int64(i % 5 / 4),
			SentBytes:   int64(i * 30),
			RecvBytes:   int64(i * 20),
		}
		hists[i] = Histogram{2: int64(i), uint16(1000 + i%3): 1}
		expected.add(locals[i])
		expectedHist.Add(hists[i])
	}

	agg := NewAggregator()
	order := rand.Perm(workers)
	var wg sync.WaitGroup
	for _, i := range order {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			agg.Merge(locals[idx], hists[idx])
		}(i)
	}
	wg.Wait()

	totals, hist := agg.Totals()
	require.Equal(t, expected, totals)
	require.Equal(t, expectedHist, hist)
	require.Equal(t, workers, agg.Merges())
}

func TestAggregatorTotalsIsACopy(t *testing.T) {
	agg := NewAggregator()
	agg.Merge(WorkerStats{Recv: 1}, Histogram{2: 1})
	_, hist := agg.Totals()
	hist[2] = 100
	_, again := agg.Totals()
	require.Equal(t, int64(1), again[2])
}

func TestHistogramSorted(t *testing.T) {
	h := Histogram{
		2:     10,
		65535: 3,
		7:     10,
		1:     3,
		500:   42,
	}
	expected := []HistogramEntry{
		{500, 42},
		{2, 10},
		{7, 10},
		{1, 3},
		{65535, 3},
	}
	require.Equal(t, expected, h.Sorted())
	require.Empty(t, Histogram{}.Sorted())
}

func TestResultCompute(t *testing.T) {
	r := Result{
		WorkerStats: WorkerStats{Sent: 200, Recv: 100},
		Elapsed:     2 * time.Second,
		Histogram:   Histogram{2: 90, 65535: 6, 65001: 4},
	}
	r.Compute(DefaultConfig().errorMsgTypeSet())
	require.Equal(t, 100.0, r.SendRate)
	require.Equal(t, 50.0, r.RecvRate)
	require.Equal(t, int64(10), r.ErrorFrames)

	// computing again must not double count
	r.Compute(map[uint16]struct{}{2: {}})
	require.Equal(t, int64(90), r.ErrorFrames)

	empty := Result{}
	empty.Compute(nil)
	require.Zero(t, empty.SendRate)
	require.Zero(t, empty.RecvRate)
}

func TestWriteResultCSV(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "stats.csv")
	r := Result{
		WorkerStats: WorkerStats{Sent: 10, Recv: 9, RecvErrors: 1, SentBytes: 60, RecvBytes: 54},
		RunID:       "abc",
		Connections: 1,
		TargetRate:  10,
		Elapsed:     time.Second,
		Histogram:   Histogram{2: 8, 65535: 1},
	}
	r.Compute(DefaultConfig().errorMsgTypeSet())
	require.NoError(t, writeResultCSV(filename, r))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	values := make(map[string]string)
	for _, rec := range records {
		require.Len(t, rec, 3)
		values[rec[0]] = rec[1]
	}
	require.Equal(t, []string{"Parameter", "Value", "Units"}, records[0])
	require.Equal(t, "abc", values["run_id"])
	require.Equal(t, "10", values["sent"])
	require.Equal(t, "9", values["recv"])
	require.Equal(t, "1", values["recv_errors"])
	require.Equal(t, "1", values["error_frames"])
	require.Equal(t, "8", values["msg_type_2"])
	require.Equal(t, "1", values["msg_type_65535"])
	// the histogram comes last, most frequent first
	require.Equal(t, "msg_type_2", records[len(records)-2][0])
}

func TestWriteResultCSVFailure(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "missing", "stats.csv")
	require.Error(t, writeResultCSV(filename, Result{}))
}
