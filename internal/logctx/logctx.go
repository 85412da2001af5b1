// Package logctx carries a zerolog logger through context.Context.
//
// The CLI attaches a logger enriched with run fields once per command:
//
//	ctx = logctx.WithRun(ctx, logging.L().With().Logger(), "extract_public_keys")
//
// and everything below it logs with:
//
//	log := logctx.FromContext(ctx)
package logctx

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eunmann/txn-batch-report/pkg/logging"
)

type loggerKey struct{}

type runIDKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// process logger from pkg/logging. It never returns a zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt returns a new context whose logger has the int field added.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}

// NewRunID returns a new lexically sortable run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// WithRun attaches logger tagged with a fresh run_id and the report name.
func WithRun(ctx context.Context, logger zerolog.Logger, report string) context.Context {
	id := NewRunID()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, runIDKey{}, id)
	return WithLogger(ctx, logger.With().Str("run_id", id).Str("report", report).Logger())
}

// RunID returns the run identifier stored by WithRun, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
