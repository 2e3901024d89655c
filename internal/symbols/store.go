package symbols

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Entry is the cached load result for one permutation. Maps are in source
// registration order. Entries are immutable once cached.
type Entry struct {
	Permutation string
	Maps        []*SymbolMap
	Failures    []error
	LoadedAt    time.Time
}

// Available reports whether any source produced a map.
func (e *Entry) Available() bool {
	return e != nil && len(e.Maps) > 0
}

// Store loads symbol maps per permutation from the configured sources and
// keeps them for the life of the process. Symbol maps are build artifacts, so
// a permutation is never read twice, and a failed load is not retried.
type Store struct {
	sources []Source
	log     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

func NewStore(log *slog.Logger, sources ...Source) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sources: sources,
		log:     log,
		entries: make(map[string]*Entry),
	}
}

// HasSources reports whether any symbol map location is configured.
func (s *Store) HasSources() bool {
	return len(s.sources) > 0
}

func (s *Store) SourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}

// Validate checks every source once and logs a warning for each unusable
// one. Startup continues regardless; broken sources simply never yield maps.
func (s *Store) Validate(ctx context.Context) []error {
	var errs []error
	for _, src := range s.sources {
		if err := src.Validate(ctx); err != nil {
			s.log.Warn("symbol map source unavailable, stack traces from it will not be deobfuscated",
				"source", src.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Load returns the entry for permutation, loading it on first use. It never
// fails: a permutation without maps gets an entry whose Available is false.
func (s *Store) Load(ctx context.Context, permutation string) *Entry {
	if e, ok := s.cached(permutation); ok {
		return e
	}

	v, _, _ := s.group.Do(permutation, func() (interface{}, error) {
		if e, ok := s.cached(permutation); ok {
			return e, nil
		}
		// A client hanging up must not leave a half-loaded entry cached forever.
		e := s.load(context.WithoutCancel(ctx), permutation)

		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.entries[permutation]; ok {
			return existing, nil
		}
		s.entries[permutation] = e
		return e, nil
	})
	return v.(*Entry)
}

func (s *Store) cached(permutation string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[permutation]
	return e, ok
}

func (s *Store) load(ctx context.Context, permutation string) *Entry {
	e := &Entry{Permutation: permutation, LoadedAt: time.Now()}
	for _, src := range s.sources {
		m, err := src.Load(ctx, permutation)
		switch {
		case errors.Is(err, ErrNotFound):
			metrics.SymbolMapLoads.WithLabelValues("miss").Inc()
		case err != nil:
			metrics.SymbolMapLoads.WithLabelValues("error").Inc()
			s.log.Warn("failed to load symbol map",
				"permutation", permutation, "source", src.Name(), "error", err)
			e.Failures = append(e.Failures, err)
		default:
			metrics.SymbolMapLoads.WithLabelValues("loaded").Inc()
			s.log.Info("loaded symbol map",
				"permutation", permutation, "source", src.Name(), "symbols", m.Len())
			e.Maps = append(e.Maps, m)
		}
	}
	return e
}

// Permutations returns the cached entries sorted by permutation.
func (s *Store) Permutations() []*Entry {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Permutation < out[j].Permutation })
	return out
}
