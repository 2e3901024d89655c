// Package deobf maps obfuscated client stack traces back to original symbols
// using the symbol maps of the permutation that produced them.
package deobf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"github.com/GoPolymarket/logbridge/internal/sink"
	"github.com/GoPolymarket/logbridge/internal/symbols"
)

// DefaultDevPermutation is the permutation name unoptimized development
// builds report. Their frames are already readable.
const DefaultDevPermutation = "HostedMode"

const warningCategory = "logbridge.deobfuscation"

type Options struct {
	// DevPermutation overrides DefaultDevPermutation.
	DevPermutation string
	// Warnings receives the one-time "deobfuscation ineffective" record.
	Warnings sink.Sink
	Logger   *slog.Logger
}

type Deobfuscator struct {
	store          *symbols.Store
	devPermutation string
	checked        *CheckedSet
	warnings       sink.Sink
	log            *slog.Logger
}

func New(store *symbols.Store, opts Options) *Deobfuscator {
	d := &Deobfuscator{
		store:          store,
		devPermutation: opts.DevPermutation,
		checked:        NewCheckedSet(),
		warnings:       opts.Warnings,
		log:            opts.Logger,
	}
	if d.devPermutation == "" {
		d.devPermutation = DefaultDevPermutation
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

func (d *Deobfuscator) DevPermutation() string { return d.devPermutation }
func (d *Deobfuscator) Checked() *CheckedSet   { return d.checked }

// Resolve returns a resolved copy of trace. Each frame is threaded through
// the permutation's maps in order; a map that resolves the frame hands its
// result to the next map. Frames no map knows pass through unchanged.
func (d *Deobfuscator) Resolve(ctx context.Context, trace []model.StackFrame, permutation string) []model.StackFrame {
	if permutation == d.devPermutation {
		return trace
	}

	entry := d.store.Load(ctx, permutation)
	resolved := make([]model.StackFrame, len(trace))
	for i, frame := range trace {
		for _, m := range entry.Maps {
			if out, ok := m.Resolve(frame); ok {
				frame = out
			}
		}
		resolved[i] = frame
		if frame == trace[i] {
			metrics.FramesTotal.WithLabelValues("unchanged").Inc()
		} else {
			metrics.FramesTotal.WithLabelValues("resolved").Inc()
		}
	}

	d.verify(ctx, permutation, trace, resolved)
	return resolved
}

// verify warns once per permutation when its first trace came back
// unchanged, which means the symbol map is missing or stale.
func (d *Deobfuscator) verify(ctx context.Context, permutation string, original, resolved []model.StackFrame) {
	if len(original) == 0 || !d.store.HasSources() {
		return
	}
	if !d.checked.Add(permutation) {
		return
	}
	if !Equal(original, resolved) {
		return
	}

	metrics.IneffectiveWarnings.Inc()
	msg := fmt.Sprintf("Failed to deobfuscate stack trace for permutation %s. Verify that the corresponding symbol map is available.", permutation)
	d.log.WarnContext(ctx, msg, "permutation", permutation, "sources", d.store.SourceNames())
	if d.warnings == nil {
		return
	}
	rec := &model.LogRecord{
		Level:       model.LevelWarn,
		Message:     msg,
		Category:    warningCategory,
		Permutation: permutation,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := d.warnings.Log(ctx, rec); err != nil {
		d.log.ErrorContext(ctx, "failed to forward deobfuscation warning", "error", err)
	}
}

// ResolveChain resolves every throwable in the chain in place, innermost
// cause first.
func (d *Deobfuscator) ResolveChain(ctx context.Context, chain *model.ThrowableChain, permutation string) {
	if chain == nil {
		return
	}
	var links []*model.ThrowableChain
	for c := chain; c != nil; c = c.Cause {
		links = append(links, c)
	}
	for i := len(links) - 1; i >= 0; i-- {
		links[i].StackTrace = d.Resolve(ctx, links[i].StackTrace, permutation)
	}
}

// ResolveRecord resolves the record's throwable, if it has one.
func (d *Deobfuscator) ResolveRecord(ctx context.Context, rec *model.LogRecord, permutation string) {
	if rec == nil {
		return
	}
	d.ResolveChain(ctx, rec.Throwable, permutation)
}

// Equal compares two traces frame by frame. Traces of different length are
// never equal.
func Equal(a, b []model.StackFrame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
