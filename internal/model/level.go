package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the client severity scale. Values are ordered: more verbose levels
// are smaller and OFF is the maximum.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelOff
)

var levelNames = [...]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
	LevelOff:   "OFF",
}

// Levels lists every level in ascending order.
func Levels() []Level {
	return []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, LevelOff}
}

func (l Level) Valid() bool {
	return l >= LevelTrace && l <= LevelOff
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts level names case-insensitively. "WARNING" is accepted
// as an alias for WARN since some browser loggers emit it.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return LevelWarn, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid log level %d", int(l))
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Threshold is a configured current level. OFF disables everything.
type Threshold Level

// Enabled reports whether records at level l pass the threshold.
func (t Threshold) Enabled(l Level) bool {
	if Level(t) == LevelOff || l == LevelOff || !l.Valid() {
		return false
	}
	return l >= Level(t)
}

func (t Threshold) TraceEnabled() bool { return t.Enabled(LevelTrace) }
func (t Threshold) DebugEnabled() bool { return t.Enabled(LevelDebug) }
func (t Threshold) InfoEnabled() bool  { return t.Enabled(LevelInfo) }
func (t Threshold) WarnEnabled() bool  { return t.Enabled(LevelWarn) }
func (t Threshold) ErrorEnabled() bool { return t.Enabled(LevelError) }
func (t Threshold) FatalEnabled() bool { return t.Enabled(LevelFatal) }

// LoggingEnabled is false only when the threshold is OFF.
func (t Threshold) LoggingEnabled() bool { return Level(t) != LevelOff }
