// Package sink holds the destinations resolved client log records are
// forwarded to.
package sink

import (
	"context"
	"errors"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// Sink receives resolved client log records. Implementations must be safe
// for concurrent use.
type Sink interface {
	Log(ctx context.Context, rec *model.LogRecord) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, rec *model.LogRecord) error

func (f Func) Log(ctx context.Context, rec *model.LogRecord) error {
	return f(ctx, rec)
}

// Multi forwards each record to every sink, even when an earlier one fails.
type Multi []Sink

func (m Multi) Log(ctx context.Context, rec *model.LogRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Log(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
var Discard Sink = Func(func(context.Context, *model.LogRecord) error { return nil })
