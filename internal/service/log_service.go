package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/logbridge/internal/deobf"
	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"github.com/GoPolymarket/logbridge/internal/sink"
)

// RequestMeta is the transport information attached to every record of a
// request.
type RequestMeta struct {
	RemoteAddr    string
	XForwardedFor string // empty when the header was absent
	Permutation   string
}

type LogServiceOptions struct {
	// ReturnResolved echoes resolved batches back to the client.
	ReturnResolved bool
	Logger         *slog.Logger
}

type LogService struct {
	deobf          *deobf.Deobfuscator
	sink           sink.Sink
	returnResolved bool
	log            *slog.Logger
	now            func() time.Time
}

func NewLogService(d *deobf.Deobfuscator, out sink.Sink, opts LogServiceOptions) *LogService {
	if out == nil {
		out = sink.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LogService{
		deobf:          d,
		sink:           out,
		returnResolved: opts.ReturnResolved,
		log:            opts.Logger,
		now:            time.Now,
	}
}

func (s *LogService) ReturnResolved() bool { return s.returnResolved }

// BatchResult reports what happened to a batch. Records is nil when echo is
// disabled.
type BatchResult struct {
	Records   []*model.LogRecord
	Processed int
	Failed    int
}

// ProcessBatch enriches, resolves and forwards every record. A failing
// record is logged and skipped; the rest of the batch still goes through.
func (s *LogService) ProcessBatch(ctx context.Context, records []*model.LogRecord, meta RequestMeta) *BatchResult {
	res := &BatchResult{}
	for i, rec := range records {
		if rec == nil {
			continue
		}
		if err := s.process(ctx, rec, meta); err != nil {
			res.Failed++
			metrics.RecordFailures.Inc()
			s.log.ErrorContext(ctx, "Failed to log message",
				"index", i,
				"permutation", meta.Permutation,
				"remote_addr", meta.RemoteAddr,
				"error", err,
			)
			continue
		}
		res.Processed++
	}
	if s.returnResolved {
		res.Records = records
	}
	return res
}

// LogMessage handles the single-message form. The level comes from the
// caller and the message is prefixed with the caller's address instead of
// carrying it as a field.
func (s *LogService) LogMessage(ctx context.Context, level model.Level, rec *model.LogRecord, meta RequestMeta) (*model.LogRecord, error) {
	if !level.Valid() || level == model.LevelOff {
		return nil, fmt.Errorf("invalid level %d", level)
	}
	if rec == nil {
		rec = &model.LogRecord{}
	}
	rec.Level = level
	rec.Message = fmt.Sprintf("[%s] %s", meta.RemoteAddr, rec.Message)
	if err := s.process(ctx, rec, RequestMeta{Permutation: meta.Permutation}); err != nil {
		metrics.RecordFailures.Inc()
		s.log.ErrorContext(ctx, "Failed to log message", "remote_addr", meta.RemoteAddr, "error", err)
		return nil, err
	}
	return rec, nil
}

func (s *LogService) process(ctx context.Context, rec *model.LogRecord, meta RequestMeta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	rec.ReceivedAt = s.now().UTC()
	rec.Permutation = meta.Permutation
	if meta.RemoteAddr != "" {
		rec.Set(model.FieldRemoteAddr, meta.RemoteAddr)
	}
	if meta.XForwardedFor != "" {
		rec.Set(model.FieldXForwardedFor, meta.XForwardedFor)
	}

	if s.deobf != nil {
		s.deobf.ResolveRecord(ctx, rec, meta.Permutation)
	}

	metrics.RecordsTotal.WithLabelValues(rec.Level.String()).Inc()
	if err := s.sink.Log(ctx, rec); err != nil {
		return fmt.Errorf("forward record: %w", err)
	}
	return nil
}
