package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/logging"
)

// Option configures a Writer.
type Option func(*Writer)

// WithClock replaces the clock used for file names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithCompression compresses JSON output with gzip or zstd.
func WithCompression(compression string) Option {
	return func(w *Writer) { w.compression = compression }
}

// Writer names, encodes and stores reports.
type Writer struct {
	sink        Sink
	now         func() time.Time
	compression string
}

// NewWriter creates a writer over sink.
func NewWriter(sink Sink, opts ...Option) *Writer {
	w := &Writer{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Save writes r with its summary as <name>_<timestamp>.json and returns the location.
func (w *Writer) Save(ctx context.Context, r *batchexec.Result) (string, error) {
	return w.SaveJSON(ctx, r.Name, NewDocument(r))
}

// SaveJSON writes v as indented JSON named after name and the current time.
func (w *Writer) SaveJSON(ctx context.Context, name string, v any) (string, error) {
	filename := Filename(name, w.now(), ExtJSON+CompressionExt(w.compression))

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &PersistenceFailure{Path: w.sink.Location(filename), Err: fmt.Errorf("encode: %w", err)}
	}
	data, err = compress(data, w.compression)
	if err != nil {
		return "", &PersistenceFailure{Path: w.sink.Location(filename), Err: err}
	}
	return w.put(ctx, filename, data)
}

// SaveFile stores pre-encoded data as <name>_<timestamp><ext>.
func (w *Writer) SaveFile(ctx context.Context, name, ext string, data []byte) (string, error) {
	return w.put(ctx, Filename(name, w.now(), ext), data)
}

func (w *Writer) put(ctx context.Context, filename string, data []byte) (string, error) {
	start := time.Now()
	location, err := w.sink.Put(ctx, filename, data)
	if err != nil {
		return "", &PersistenceFailure{Path: w.sink.Location(filename), Err: err}
	}

	logging.FileCreated(logctx.FromContext(ctx), "report", time.Since(start)).
		Str("path", location).
		Bytes("bytes", int64(len(data))).
		Log("report saved")
	return location, nil
}
