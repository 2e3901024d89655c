package sink

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// SlogSink replays client records into a server-side slog logger.
type SlogSink struct {
	logger    *slog.Logger
	threshold model.Threshold
}

// NewSlogSink writes JSON lines to w. Records below threshold are dropped.
func NewSlogSink(w io.Writer, threshold model.Level) *SlogSink {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       SlogTrace,
		ReplaceAttr: replaceLevelNames,
	})
	return NewSlogSinkWithLogger(slog.New(h), threshold)
}

func NewSlogSinkWithLogger(logger *slog.Logger, threshold model.Level) *SlogSink {
	return &SlogSink{logger: logger, threshold: model.Threshold(threshold)}
}

func (s *SlogSink) Threshold() model.Threshold { return s.threshold }

func (s *SlogSink) Log(ctx context.Context, rec *model.LogRecord) error {
	if !s.threshold.Enabled(rec.Level) {
		return nil
	}
	lvl, ok := ToSlog(rec.Level)
	if !ok {
		return nil
	}

	attrs := []slog.Attr{slog.String("source", "client")}
	if rec.Permutation != "" {
		attrs = append(attrs, slog.String("permutation", rec.Permutation))
	}
	if rec.Category != "" {
		attrs = append(attrs, slog.String("category", rec.Category))
	}
	if rec.ClientTime != 0 {
		attrs = append(attrs, slog.Int64("client_time", rec.ClientTime))
	}
	if len(rec.Fields) > 0 {
		keys := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]any, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slog.String(k, rec.Fields[k]))
		}
		attrs = append(attrs, slog.Group("fields", fields...))
	}
	if rec.Throwable != nil {
		attrs = append(attrs, slog.String("throwable", rec.Throwable.String()))
	}

	s.logger.LogAttrs(ctx, lvl, rec.Message, attrs...)
	return nil
}
