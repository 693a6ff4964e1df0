package api

import (
	"context"
	"sync"

	"github.com/annel0/bigworld/internal/eventbus"
)

// EventHistory хранит последние события шины в кольцевом буфере.
// Используется отладочной ручкой /debug/events: быстрый ответ на вопрос
// "что происходило с миром", без внешнего хранилища.
type EventHistory struct {
	mu     sync.RWMutex
	buf    []eventbus.Envelope
	next   int
	filled bool
	sub    eventbus.Subscription
}

// NewEventHistory создаёт историю на capacity последних событий
func NewEventHistory(capacity int) *EventHistory {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventHistory{
		buf: make([]eventbus.Envelope, capacity),
	}
}

// Bind подписывает историю на все события шины
func (h *EventHistory) Bind(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		h.mu.Lock()
		h.buf[h.next] = *ev
		h.next = (h.next + 1) % len(h.buf)
		if h.next == 0 {
			h.filled = true
		}
		h.mu.Unlock()
	})
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

// Stop отписывает историю от шины
func (h *EventHistory) Stop() {
	if h.sub != nil {
		h.sub.Unsubscribe()
	}
}

// Recent возвращает до limit последних событий, новые первыми.
// Непустой eventType ограничивает выборку одним типом.
func (h *EventHistory) Recent(limit int, eventType string) []eventbus.Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.filled {
		size = len(h.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]eventbus.Envelope, 0, limit)
	for i := 1; i <= size && len(out) < limit; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		ev := h.buf[idx]
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		out = append(out, ev)
	}
	return out
}
