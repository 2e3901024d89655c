package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnknownLine marks a frame without line information.
const UnknownLine = -1

// UnknownClass is the class name JS frames report for functions with no
// declaring class.
const UnknownClass = "Unknown"

// Ancillary field keys set by the transport.
const (
	FieldRemoteAddr    = "remoteAddr"
	FieldXForwardedFor = "X-Forwarded-For"
)

// StackFrame is one call-stack entry. It is a comparable value; == compares
// all four fields.
type StackFrame struct {
	ClassName  string `json:"className"`
	MethodName string `json:"methodName"`
	FileName   string `json:"fileName,omitempty"`
	LineNumber int    `json:"lineNumber"`
}

// IsPlaceholderClass reports whether the frame has no real declaring class.
func (f StackFrame) IsPlaceholderClass() bool {
	return f.ClassName == "" || f.ClassName == UnknownClass
}

// UnmarshalJSON treats a missing or null lineNumber as UnknownLine, matching
// the ingest decoder.
func (f *StackFrame) UnmarshalJSON(b []byte) error {
	type plain StackFrame
	p := plain{LineNumber: UnknownLine}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = StackFrame(p)
	return nil
}

func (f StackFrame) String() string {
	loc := "Unknown Source"
	if f.FileName != "" {
		loc = f.FileName
		if f.LineNumber >= 0 {
			loc = fmt.Sprintf("%s:%d", f.FileName, f.LineNumber)
		}
	}
	return fmt.Sprintf("%s.%s(%s)", f.ClassName, f.MethodName, loc)
}

// ThrowableChain is a client exception and its optional cause. Chains are
// decoded fresh per request and are acyclic.
type ThrowableChain struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	StackTrace []StackFrame    `json:"stackTrace,omitempty"`
	Cause      *ThrowableChain `json:"cause,omitempty"`
}

// Depth returns the number of throwables in the chain.
func (t *ThrowableChain) Depth() int {
	n := 0
	for c := t; c != nil; c = c.Cause {
		n++
	}
	return n
}

// String renders the chain the way a JVM prints an exception.
func (t *ThrowableChain) String() string {
	var b strings.Builder
	for c := t; c != nil; c = c.Cause {
		if c != t {
			b.WriteString("Caused by: ")
		}
		b.WriteString(c.Type)
		if c.Message != "" {
			b.WriteString(": ")
			b.WriteString(c.Message)
		}
		b.WriteByte('\n')
		for _, f := range c.StackTrace {
			b.WriteString("\tat ")
			b.WriteString(f.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// LogRecord is one client log event. Permutation is the build the record was
// resolved against, taken from the request rather than the client body.
type LogRecord struct {
	Level       Level             `json:"level"`
	Message     string            `json:"message"`
	Category    string            `json:"category,omitempty"`
	ClientTime  int64             `json:"time,omitempty"` // unix millis
	Fields      map[string]string `json:"fields,omitempty"`
	Throwable   *ThrowableChain   `json:"throwable,omitempty"`
	Permutation string            `json:"permutation,omitempty"`
	ReceivedAt  time.Time         `json:"receivedAt"`
}

// Set stores an ancillary field.
func (r *LogRecord) Set(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[key] = value
}

func (r *LogRecord) Get(key string) string {
	return r.Fields[key]
}
