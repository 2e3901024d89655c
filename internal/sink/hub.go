package sink

import (
	"context"
	"sync"

	"github.com/GoPolymarket/logbridge/internal/model"
)

// Hub fans records out to live subscribers (the websocket tail). Slow
// subscribers miss records rather than block the request.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan *model.LogRecord
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan *model.LogRecord)}
}

// Subscribe returns a channel of records and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan *model.LogRecord, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *model.LogRecord, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Log(_ context.Context, rec *model.LogRecord) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}
