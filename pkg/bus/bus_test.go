package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	msg := InboundMessage{Address: "15551234567@s.whatsapp.net", Text: "status?"}
	if err := mb.PublishInbound(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected a message")
	}
	if got.Text != "status?" || got.Address != msg.Address {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestInboundQueueAbsorbsBurstWithoutBlocking(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < inboundQueueDepth; i++ {
		if err := mb.PublishInbound(ctx, InboundMessage{Text: "burst"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
}

func TestPublishOutboundAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	err := mb.PublishOutbound(context.Background(), OutboundMessage{Address: "a", Text: "b"})
	if err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestConsumeReturnsOnContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := mb.ConsumeInbound(ctx)
	if ok {
		t.Error("expected no message on cancelled context")
	}
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		_, ok := mb.SubscribeOutbound(context.Background())
		if ok {
			t.Error("expected not ok after close")
		}
		close(done)
	}()

	mb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber not unblocked by Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close() // must not panic
}
