// Package bus decouples the transport event loop from message processing:
// the session supervisor publishes inbound messages, the router consumes
// them, and replies travel back over the outbound queue to the delivery loop.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// Queue depths. Inbound is sized for a WhatsApp history burst right after
// pairing; outbound stays small because each reply is the product of a full
// backend dispatch.
const (
	inboundQueueDepth  = 128
	outboundQueueDepth = 32
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// MessageBus carries chat traffic between the session supervisor and the
// router. Close is idempotent and unblocks all pending publishers and
// consumers.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundQueueDepth),
		outbound: make(chan OutboundMessage, outboundQueueDepth),
		done:     make(chan struct{}),
	}
}

// PublishInbound enqueues a message received over the transport. It blocks
// when the queue is full so a slow router backpressures the session loop
// rather than dropping traffic.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound takes the next transport message. The second return is false
// once the bus is closed or the context ends.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for delivery back over the transport.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOutbound takes the next reply awaiting delivery.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
