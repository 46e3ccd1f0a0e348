// Package session owns the messaging-network session lifecycle: pairing,
// connection supervision, reconnects, and logout.
package session

import (
	"context"

	"github.com/tinyland-inc/wabridge/pkg/bus"
)

// Presence is a typing indicator sent on a conversation.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// DisconnectReason classifies why a session attempt ended.
type DisconnectReason string

const (
	// ReasonLoggedOut means the account was unlinked remotely. Terminal:
	// the supervisor stops reconnecting.
	ReasonLoggedOut DisconnectReason = "logged_out"
	// ReasonStreamError covers recoverable transport drops.
	ReasonStreamError DisconnectReason = "stream_error"
	// ReasonNetwork covers connectivity loss.
	ReasonNetwork DisconnectReason = "network"
)

// Event is one occurrence on an active transport session. Concrete types:
// PairingChallenge, Connected, MessageReceived, Disconnected.
type Event interface{ isSessionEvent() }

// PairingChallenge carries the QR payload to display while unpaired.
type PairingChallenge struct {
	Payload string
}

// Connected signals the session is live under the given account number.
type Connected struct {
	PhoneNumber string
}

// MessageReceived carries one inbound message.
type MessageReceived struct {
	Message bus.InboundMessage
}

// Disconnected signals the session ended. The transport closes the event
// channel after emitting it.
type Disconnected struct {
	Reason DisconnectReason
}

func (PairingChallenge) isSessionEvent() {}
func (Connected) isSessionEvent()        {}
func (MessageReceived) isSessionEvent()  {}
func (Disconnected) isSessionEvent()     {}

// Transport is the messaging-network client the supervisor drives. One
// Connect call is one session attempt: the returned channel delivers events
// until the session ends, then closes.
type Transport interface {
	Connect(ctx context.Context) (<-chan Event, error)
	SendText(ctx context.Context, address, text string) error
	SendPresence(ctx context.Context, address string, presence Presence) error
	// Logout unlinks the device and discards stored pairing credentials.
	Logout(ctx context.Context) error
}
