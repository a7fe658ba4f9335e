package bus

import (
	"context"
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	in := ChannelEvent{Origin: "https://cad.example.com", Data: []byte(`{"type":"ready"}`)}
	if ok := eb.PublishEvent(context.Background(), in); !ok {
		t.Fatal("expected event publish to succeed")
	}

	out, ok := eb.ConsumeEvent(context.Background())
	if !ok {
		t.Fatal("expected event consume to succeed")
	}
	if out.Origin != in.Origin {
		t.Fatalf("origin = %q, want %q", out.Origin, in.Origin)
	}
	if string(out.Data) != string(in.Data) {
		t.Fatalf("data = %s, want %s", out.Data, in.Data)
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	if ok := eb.PublishEvent(context.Background(), ChannelEvent{}); ok {
		t.Fatal("expected event publish to fail after close")
	}
	if _, ok := eb.ConsumeEvent(context.Background()); ok {
		t.Fatal("expected event consume to stop after close")
	}
	if ok := eb.PublishNotice(context.Background(), Notice{}); ok {
		t.Fatal("expected notice publish to fail after close")
	}
}

func TestContextCancellation(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := eb.PublishEvent(ctx, ChannelEvent{}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := eb.ConsumeEvent(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	eb := NewEventBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eb.ConsumeEvent(context.Background())
	}()

	eb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestNoticeFanout(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	noticesA, unsubA := eb.SubscribeNotices(ctx, 1)
	defer unsubA()
	noticesB, unsubB := eb.SubscribeNotices(ctx, 1)
	defer unsubB()

	notice := Notice{Kind: NoticeState, Message: "ready"}
	if ok := eb.PublishNotice(ctx, notice); !ok {
		t.Fatal("expected notice publish to succeed")
	}

	for name, ch := range map[string]<-chan Notice{"A": noticesA, "B": noticesB} {
		select {
		case got := <-ch:
			if got.Kind != NoticeState {
				t.Fatalf("subscriber %s kind = %q, want %q", name, got.Kind, NoticeState)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s notice timestamp not set", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive notice", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishNotice(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	notices, unsubscribe := eb.SubscribeNotices(ctx, 1)
	defer unsubscribe()

	if ok := eb.PublishNotice(ctx, Notice{Kind: NoticeProtocol}); !ok {
		t.Fatal("expected first notice publish to succeed")
	}

	start := time.Now()
	if ok := eb.PublishNotice(ctx, Notice{Kind: NoticeError}); !ok {
		t.Fatal("expected second notice publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish notice blocked on slow subscriber")
	}

	select {
	case <-notices:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one notice")
	}
}

func TestUnsubscribeStopsNotices(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	notices, unsubscribe := eb.SubscribeNotices(ctx, 1)

	unsubscribe()
	unsubscribe() // idempotent

	if _, open := <-notices; open {
		t.Fatal("expected notice channel to be closed after unsubscribe")
	}

	if ok := eb.PublishNotice(ctx, Notice{Kind: NoticeState}); !ok {
		t.Fatal("expected publish to succeed with no subscribers")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	notices, unsubscribe := eb.SubscribeNotices(context.Background(), 1)
	defer unsubscribe()

	if _, open := <-notices; open {
		t.Fatal("expected closed notice channel after bus close")
	}
}
