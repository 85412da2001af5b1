package logging

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/txn-batch-report/pkg/humanfmt"
)

// ProgressTracker follows a planned number of batches and estimates the time
// left from a moving average of recent batch durations.
type ProgressTracker struct {
	mu        sync.Mutex
	phase     string
	planned   int
	done      int
	records   int64
	startTime time.Time
	recent    []time.Duration
	maxRecent int
}

// NewProgressTracker creates a tracker for planned batches.
func NewProgressTracker(phase string, planned int) *ProgressTracker {
	return &ProgressTracker{
		phase:     phase,
		planned:   planned,
		startTime: time.Now(),
		recent:    make([]time.Duration, 0, 10),
		maxRecent: 10,
	}
}

// Observe records one finished batch that produced records results in d.
func (pt *ProgressTracker) Observe(records int, d time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.done++
	pt.records += int64(records)
	if len(pt.recent) >= pt.maxRecent {
		pt.recent = pt.recent[1:]
	}
	pt.recent = append(pt.recent, d)
}

// Batches returns finished and planned batch counts.
func (pt *ProgressTracker) Batches() (done, planned int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.done, pt.planned
}

// Records returns the number of records observed so far.
func (pt *ProgressTracker) Records() int64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.records
}

// Pct returns the completion percentage (0-100). Zero planned batches is 100%.
func (pt *ProgressTracker) Pct() float64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.planned == 0 {
		return 100.0
	}
	return float64(pt.done) * 100.0 / float64(pt.planned)
}

// ETA estimates the remaining time.
func (pt *ProgressTracker) ETA() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	remaining := pt.planned - pt.done
	if pt.done == 0 || remaining <= 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range pt.recent {
		sum += d
	}
	avg := sum / time.Duration(len(pt.recent))
	return avg * time.Duration(remaining)
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// CompletionEvent builds consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds a byte count with an optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds a count with an optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Batch adds the batch position as 1-based index over planned.
func (ce *CompletionEvent) Batch(index, planned int) *CompletionEvent {
	ce.fields["batch"] = index + 1
	ce.fields["batches_planned"] = planned
	return ce
}

// Tracker adds progress fields from a ProgressTracker.
func (ce *CompletionEvent) Tracker(pt *ProgressTracker) *CompletionEvent {
	done, planned := pt.Batches()
	ce.fields["batches_done"] = done
	ce.fields["batches_planned"] = planned
	ce.fields["progress_pct"] = pt.Pct()
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Rate adds a records-per-second field for n records over the event duration.
func (ce *CompletionEvent) Rate(n int64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields["records_per_sec"] = float64(n) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields["rate_h"] = humanfmt.Rate(n, ce.elapsed)
		}
	}
	return ce
}

// Log emits the completion event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete starts a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// BatchComplete starts a batch completion event.
func BatchComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "batch_completed", phase, elapsed)
}

// GroupComplete starts a key-group completion event.
func GroupComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "group_completed", phase, elapsed)
}

// FileCreated starts a file creation event.
func FileCreated(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "file_created", phase, elapsed)
}
