// Package memdiag samples process memory during a run and reports the peak.
//
// Post-aggregation runs hold the whole pipeline output in memory, so the
// tracker warns once when the heap crosses a share of host memory.
package memdiag

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/txn-batch-report/pkg/logging"
	"github.com/eunmann/txn-batch-report/pkg/sysmem"
)

// DefaultWarnShare is the heap share of host memory that triggers a warning.
const DefaultWarnShare = 0.5

// Stats is a subset of runtime.MemStats.
type Stats struct {
	HeapAlloc  uint64
	HeapInuse  uint64
	Sys        uint64
	TotalAlloc uint64
	NumGC      uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		TotalAlloc: m.TotalAlloc,
		NumGC:      m.NumGC,
	}
}

// Tracker records the peak heap over a run.
type Tracker struct {
	mu        sync.Mutex
	host      sysmem.Info
	warnShare float64
	read      func() Stats
	peak      uint64
	samples   int
	warned    bool
	start     Stats
}

// NewTracker creates a tracker against the detected host memory.
func NewTracker() *Tracker {
	return newTracker(sysmem.Detect(), DefaultWarnShare, Read)
}

func newTracker(host sysmem.Info, warnShare float64, read func() Stats) *Tracker {
	t := &Tracker{host: host, warnShare: warnShare, read: read}
	t.start = read()
	t.peak = t.start.HeapAlloc
	return t
}

// Sample reads memory, updates the peak and logs a warning the first time
// the heap exceeds the warning share of host memory.
func (t *Tracker) Sample(log zerolog.Logger) Stats {
	s := t.read()

	t.mu.Lock()
	t.samples++
	if s.HeapAlloc > t.peak {
		t.peak = s.HeapAlloc
	}
	warn := !t.warned && t.host.Share(s.HeapAlloc) >= t.warnShare
	if warn {
		t.warned = true
	}
	t.mu.Unlock()

	if warn {
		log.Warn().
			Uint64("heap_alloc", s.HeapAlloc).
			Uint64("host_memory", t.host.TotalBytes).
			Float64("heap_share", t.host.Share(s.HeapAlloc)).
			Msg("heap is approaching host memory, consider a smaller MAX_BATCHES or pre-aggregation")
	}
	return s
}

// PeakHeap returns the largest heap allocation sampled.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// Samples returns the number of samples taken.
func (t *Tracker) Samples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

// Report logs a phase completion event with the memory picture of the run.
func (t *Tracker) Report(log zerolog.Logger, phase string, elapsed time.Duration) {
	s := t.Sample(log)
	logging.PhaseComplete(log, phase, elapsed).
		Bytes("heap_alloc", int64(s.HeapAlloc)).
		Bytes("peak_heap", int64(t.PeakHeap())).
		Bytes("allocated", int64(s.TotalAlloc-t.start.TotalAlloc)).
		Bytes("host_memory", int64(t.host.TotalBytes)).
		Int("num_gc", int(s.NumGC-t.start.NumGC)).
		Int("samples", t.Samples()).
		Log("memory usage")
}
