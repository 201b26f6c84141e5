// Package bench benchmarks the tl2mem transaction engine the way the
// teacher benchmarks WAL append latency: drive the operation under test,
// record each call's latency into an HdrHistogram, and report quantiles
// instead of only a mean.
package bench

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/arcflow-labs/tl2mem"
)

// openRegion creates a region against its own Prometheus registry: the
// default registerer is process-global, and repeated Create calls across
// sub-benchmarks would otherwise panic on duplicate metric registration.
func openRegion(b *testing.B, size, align int) *tl2mem.Region {
	b.Helper()
	r, err := tl2mem.Create(size, align, tl2mem.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(b, err)
	b.Cleanup(func() {
		require.NoError(b, r.Destroy())
	})
	return r
}

// reportLatencyStats summarizes recorded commit latencies (microseconds)
// with gonum/stat, the way the teacher's analysis layer would reduce a
// batch-append latency sample to mean and standard deviation alongside the
// histogram's quantiles.
func reportLatencyStats(b *testing.B, samples []float64) {
	b.Helper()
	if len(samples) == 0 {
		return
	}
	mean, stddev := stat.MeanStdDev(samples, nil)
	b.ReportMetric(mean, "mean-us")
	b.ReportMetric(stddev, "stddev-us")
}

// BenchmarkCommit measures the latency of a single-word write-then-commit
// transaction under increasing contention, analogous to the teacher's
// BenchmarkAppend sweeping batch size.
func BenchmarkCommit(b *testing.B) {
	concurrencies := []int{1, 2, 4, 8}
	for _, c := range concurrencies {
		b.Run(fmt.Sprintf("goroutines=%d", c), func(b *testing.B) {
			runCommitBench(b, c)
		})
	}
}

func runCommitBench(b *testing.B, goroutines int) {
	const align = 8
	r := openRegion(b, align*64, align)
	start := r.Start()

	hist := hdrhistogram.New(1, 10_000_000, 3)
	var histMu sync.Mutex
	var samples []float64

	var wg sync.WaitGroup
	perGoroutine := b.N / goroutines
	if perGoroutine == 0 {
		perGoroutine = 1
	}

	b.ResetTimer()
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			payload := make([]byte, align)
			for i := 0; i < perGoroutine; i++ {
				t0 := time.Now()
				tx, err := r.Begin(false)
				if err != nil {
					continue
				}
				if err := tx.Write(payload, align, start); err != nil {
					continue
				}
				_, _ = tx.End()
				elapsed := time.Since(t0).Microseconds()

				histMu.Lock()
				_ = hist.RecordValue(elapsed)
				samples = append(samples, float64(elapsed))
				histMu.Unlock()
			}
		}(g)
	}
	wg.Wait()
	b.StopTimer()

	b.ReportMetric(float64(hist.ValueAtQuantile(50)), "p50-us")
	b.ReportMetric(float64(hist.ValueAtQuantile(90)), "p90-us")
	b.ReportMetric(float64(hist.ValueAtQuantile(99)), "p99-us")
	reportLatencyStats(b, samples)
}

// BenchmarkAllocFree measures the latency of an allocate-write-free
// round trip inside a single transaction (scenario S3 at benchmark scale).
func BenchmarkAllocFree(b *testing.B) {
	r := openRegion(b, 8, 8)
	payload := make([]byte, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx, err := r.Begin(false)
		require.NoError(b, err)

		var seg uint64
		res, err := tx.Alloc(16, &seg)
		require.NoError(b, err)
		if res != tl2mem.AllocSuccess {
			b.Fatalf("unexpected alloc result: %v", res)
		}
		require.NoError(b, tx.Write(payload, 8, seg))
		require.NoError(b, tx.Free(seg))
		ok, err := tx.End()
		require.NoError(b, err)
		require.True(b, ok)
	}
}
