package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// EventBus carries raw channel events from the transport to the session
// dispatcher, and broadcasts user-visible notices to any subscriber
// (console UI, tests). There is one consumer of channel events for the
// process lifetime; notice subscriptions come and go.
type EventBus struct {
	events chan ChannelEvent

	noticeSubscribers    map[uint64]chan Notice
	nextNoticeSubscriber uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		events:            make(chan ChannelEvent, defaultBufferSize),
		noticeSubscribers: make(map[uint64]chan Notice),
		done:              make(chan struct{}),
	}
}

// PublishEvent queues one inbound channel event. Returns false when the
// bus is closed or the context is done.
func (eb *EventBus) PublishEvent(ctx context.Context, event ChannelEvent) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-eb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-eb.done:
		return false
	case eb.events <- event:
		return true
	}
}

// ConsumeEvent blocks for the next inbound channel event.
func (eb *EventBus) ConsumeEvent(ctx context.Context) (ChannelEvent, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ChannelEvent{}, false
	case <-eb.done:
		return ChannelEvent{}, false
	case event := <-eb.events:
		return event, true
	}
}

func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		close(eb.done)

		eb.mu.Lock()
		for id, ch := range eb.noticeSubscribers {
			close(ch)
			delete(eb.noticeSubscribers, id)
		}
		eb.mu.Unlock()
	})
}
