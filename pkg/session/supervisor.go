package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/logger"
)

// State is the supervisor's lifecycle position.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitializing    State = "initializing"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	// StateLoggedOut is terminal: the run loop has exited and no reconnect
	// is scheduled. A fresh Initialize starts a new pairing.
	StateLoggedOut State = "logged_out"
)

const defaultReconnectDelay = 3 * time.Second

// ErrNotConnected is returned by send operations outside StateConnected.
var ErrNotConnected = errors.New("session not connected")

// Status is the externally visible session snapshot.
type Status struct {
	State       State  `json:"state"`
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phone_number,omitempty"`
	// QRCode is the pairing payload, present only while awaiting pairing.
	QRCode string `json:"qr_code,omitempty"`
}

// Supervisor owns the session state machine. All transitions happen on its
// run loop goroutine; Initialize and Disconnect only request them.
type Supervisor struct {
	transport      Transport
	bus            *bus.MessageBus
	reconnectDelay time.Duration

	mu          sync.Mutex
	state       State
	phoneNumber string
	qrCode      string
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option adjusts supervisor construction.
type Option func(*Supervisor)

// WithReconnectDelay overrides the pause between a recoverable disconnect
// and the next connection attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.reconnectDelay = d }
}

func NewSupervisor(transport Transport, mb *bus.MessageBus, opts ...Option) *Supervisor {
	s := &Supervisor{
		transport:      transport,
		bus:            mb,
		reconnectDelay: defaultReconnectDelay,
		state:          StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize starts the session run loop. Calling it while a run loop is
// still alive is a no-op, whatever lifecycle position that loop is in: the
// loop also owns the reconnect pause, so even StateDisconnected means a
// second loop must not start.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.runningLocked() {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	logger.InfoC("session", "Initializing transport session")
	go func() {
		defer close(done)
		s.run(runCtx)
	}()
	return nil
}

// Disconnect ends the session from any non-terminal state: it requests a
// transport logout, stops the run loop, and clears session identity.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoggedOut || s.state == StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.setLocked(StateLoggedOut, "", "")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := s.transport.Logout(ctx); err != nil {
		logger.WarnCF("session", "Transport logout failed", map[string]any{
			"error": err.Error(),
		})
		return fmt.Errorf("transport logout: %w", err)
	}
	logger.InfoC("session", "Session disconnected and credentials cleared")
	return nil
}

// GetStatus returns the current session snapshot. The QR payload is exposed
// only while pairing is pending.
func (s *Supervisor) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Connected: s.state == StateConnected,
	}
	if s.state == StateConnected {
		st.PhoneNumber = s.phoneNumber
	}
	if s.state == StateAwaitingPairing {
		st.QRCode = s.qrCode
	}
	return st
}

// IsInitializing reports whether a session attempt is in flight but not yet
// connected.
func (s *Supervisor) IsInitializing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateInitializing || s.state == StateAwaitingPairing
}

// SendText delivers a reply over the live session.
func (s *Supervisor) SendText(ctx context.Context, address, text string) error {
	if !s.GetStatus().Connected {
		return ErrNotConnected
	}
	return s.transport.SendText(ctx, address, text)
}

// SendPresence sends a typing indicator over the live session.
func (s *Supervisor) SendPresence(ctx context.Context, address string, p Presence) error {
	if !s.GetStatus().Connected {
		return ErrNotConnected
	}
	return s.transport.SendPresence(ctx, address, p)
}

// runningLocked reports whether a run loop goroutine is still alive. The
// done channel is closed by the goroutine itself when run returns.
func (s *Supervisor) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) setLocked(state State, phone, qr string) {
	s.state = state
	s.phoneNumber = phone
	s.qrCode = qr
}

func (s *Supervisor) set(state State, phone, qr string) {
	s.mu.Lock()
	s.setLocked(state, phone, qr)
	s.mu.Unlock()
}

// run drives session attempts until the context ends or the account is
// logged out remotely.
func (s *Supervisor) run(ctx context.Context) {
	for {
		events, err := s.transport.Connect(ctx)
		if err != nil {
			logger.ErrorCF("session", "Transport connect failed", map[string]any{
				"error": err.Error(),
			})
			if !s.pauseBeforeReconnect(ctx) {
				return
			}
			continue
		}

		reason, channelOpen := s.consume(ctx, events)
		if ctx.Err() != nil {
			s.markStoppedIfRunning()
			return
		}
		if reason == ReasonLoggedOut {
			s.set(StateLoggedOut, "", "")
			logger.WarnC("session", "Account logged out remotely, not reconnecting")
			return
		}

		if channelOpen {
			// Context still live but the transport stopped without a
			// Disconnected event; treat as a stream drop.
			reason = ReasonStreamError
		}
		logger.WarnCF("session", "Session ended, scheduling reconnect", map[string]any{
			"reason": string(reason),
			"delay":  s.reconnectDelay.String(),
		})
		if !s.pauseBeforeReconnect(ctx) {
			return
		}
	}
}

// consume processes one session attempt's events. It returns the disconnect
// reason and whether the channel ended without an explicit Disconnected.
func (s *Supervisor) consume(ctx context.Context, events <-chan Event) (DisconnectReason, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case ev, ok := <-events:
			if !ok {
				return "", true
			}
			switch e := ev.(type) {
			case PairingChallenge:
				s.set(StateAwaitingPairing, "", e.Payload)
				logger.InfoC("session", "Pairing challenge received, scan to link")
			case Connected:
				s.set(StateConnected, e.PhoneNumber, "")
				logger.InfoCF("session", "Session connected", map[string]any{
					"phone_number": e.PhoneNumber,
				})
			case MessageReceived:
				if err := s.bus.PublishInbound(ctx, e.Message); err != nil {
					logger.ErrorCF("session", "Failed to enqueue inbound message", map[string]any{
						"message_id": e.Message.MessageID,
						"error":      err.Error(),
					})
				}
			case Disconnected:
				return e.Reason, false
			}
		}
	}
}

// pauseBeforeReconnect waits out the reconnect delay. It reports false when
// the context ended during the wait.
func (s *Supervisor) pauseBeforeReconnect(ctx context.Context) bool {
	s.set(StateDisconnected, "", "")
	select {
	case <-time.After(s.reconnectDelay):
	case <-ctx.Done():
		s.markStoppedIfRunning()
		return false
	}
	s.set(StateInitializing, "", "")
	return true
}

// markStoppedIfRunning records a context-driven stop unless Disconnect
// already moved the machine to its terminal state.
func (s *Supervisor) markStoppedIfRunning() {
	s.mu.Lock()
	if s.state != StateLoggedOut {
		s.setLocked(StateDisconnected, "", "")
	}
	s.mu.Unlock()
}
