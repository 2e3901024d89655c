package sink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// slog has no trace or fatal; they sit one step outside debug and error.
const (
	SlogTrace = slog.LevelDebug - 4
	SlogFatal = slog.LevelError + 4
)

// ErrUnmappedLevel is returned for backend levels with no client equivalent.
var ErrUnmappedLevel = errors.New("unmapped backend level")

var toSlog = map[model.Level]slog.Level{
	model.LevelTrace: SlogTrace,
	model.LevelDebug: slog.LevelDebug,
	model.LevelInfo:  slog.LevelInfo,
	model.LevelWarn:  slog.LevelWarn,
	model.LevelError: slog.LevelError,
	model.LevelFatal: SlogFatal,
}

var fromSlog = map[slog.Level]model.Level{
	SlogTrace:       model.LevelTrace,
	slog.LevelDebug: model.LevelDebug,
	slog.LevelInfo:  model.LevelInfo,
	slog.LevelWarn:  model.LevelWarn,
	slog.LevelError: model.LevelError,
	SlogFatal:       model.LevelFatal,
}

// ToSlog maps a client level to the slog backend. OFF is never emitted and
// has no mapping.
func ToSlog(l model.Level) (slog.Level, bool) {
	lvl, ok := toSlog[l]
	return lvl, ok
}

// FromSlog maps a backend level back. Only levels ToSlog produces are
// accepted.
func FromSlog(l slog.Level) (model.Level, error) {
	lvl, ok := fromSlog[l]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnmappedLevel, l)
	}
	return lvl, nil
}

// replaceLevelNames prints the two extra levels by name instead of
// "DEBUG-4" / "ERROR+4".
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch lvl {
	case SlogTrace:
		a.Value = slog.StringValue(model.LevelTrace.String())
	case SlogFatal:
		a.Value = slog.StringValue(model.LevelFatal.String())
	}
	return a
}
