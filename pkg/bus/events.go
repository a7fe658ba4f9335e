package bus

import (
	"context"
	"sync"
	"time"
)

type NoticeKind string

const (
	NoticeState    NoticeKind = "state"
	NoticeArtifact NoticeKind = "artifact"
	NoticeError    NoticeKind = "error"
	NoticeProtocol NoticeKind = "protocol"
)

// Notice is one user-visible protocol status line: a state transition,
// an artifact arrival, or a surfaced local error.
type Notice struct {
	Kind    NoticeKind        `json:"kind"`
	At      time.Time         `json:"at"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// PublishNotice broadcasts a notice to every subscriber. Slow
// subscribers miss notices rather than blocking the publisher.
func (eb *EventBus) PublishNotice(ctx context.Context, notice Notice) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if notice.At.IsZero() {
		notice.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-eb.done:
		return false
	default:
	}

	eb.mu.RLock()
	subs := make([]chan Notice, 0, len(eb.noticeSubscribers))
	for _, ch := range eb.noticeSubscribers {
		subs = append(subs, ch)
	}
	eb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- notice:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

// SubscribeNotices registers a notice subscriber and returns the receive
// channel plus an unsubscribe handle. The handle is idempotent and is
// also invoked when ctx ends or the bus closes.
func (eb *EventBus) SubscribeNotices(ctx context.Context, buffer int) (<-chan Notice, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Notice, buffer)

	eb.mu.Lock()
	select {
	case <-eb.done:
		eb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := eb.nextNoticeSubscriber
	eb.nextNoticeSubscriber++
	eb.noticeSubscribers[id] = ch
	eb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			eb.mu.Lock()
			if noticeCh, ok := eb.noticeSubscribers[id]; ok {
				delete(eb.noticeSubscribers, id)
				close(noticeCh)
			}
			eb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-eb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
