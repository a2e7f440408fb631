package governance

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// eventHub fans events out to stream subscribers. Every subscriber gets its own
// buffered channel; a slow subscriber drops events once its buffer is full instead of
// blocking the pollers, and a cancelled subscriber is detached without touching the
// others.
type eventHub struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

func newEventHub(bufferSize int, logger *zap.Logger) *eventHub {
	return &eventHub{
		logger:      logger.Named("event_hub"),
		bufferSize:  bufferSize,
		subscribers: make(map[int]chan Event),
	}
}

func (h *eventHub) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if _, exists := h.subscribers[id]; exists {
			delete(h.subscribers, id)
			close(ch)
		}
		h.mu.Unlock()
	}()

	return ch
}

func (h *eventHub) publish(events ...Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, event := range events {
		for id, ch := range h.subscribers {
			select {
			case ch <- event:
			default:
				h.logger.Warn("dropping event for slow subscriber",
					zap.Int("subscriber_id", id),
					zap.String("event_type", string(event.Meta().Type)))
			}
		}
	}
}
