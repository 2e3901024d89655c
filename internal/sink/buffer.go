package sink

import (
	"context"
	"sync"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// Buffer keeps the most recent records in a fixed-size ring.
type Buffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.LogRecord
	nextIndex int
}

func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Buffer{
		maxSize: maxSize,
		records: make([]*model.LogRecord, 0, maxSize),
	}
}

func (b *Buffer) Log(_ context.Context, rec *model.LogRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, rec)
		return nil
	}
	b.records[b.nextIndex] = rec
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
	return nil
}

// List returns up to limit records at or above minLevel, newest first.
func (b *Buffer) List(limit int, minLevel model.Level) []*model.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.LogRecord, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		rec := b.records[idx]
		if rec == nil || rec.Level < minLevel {
			continue
		}
		results = append(results, rec)
		if len(results) >= limit {
			break
		}
	}
	return results
}
