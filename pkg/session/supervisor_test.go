package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/wabridge/pkg/bus"
)

type fakeTransport struct {
	mu       sync.Mutex
	attempts int
	logouts  int
	sent     []bus.OutboundMessage
	presence []Presence

	sessions chan chan Event
}

func newFakeTransport(sessionCount int) *fakeTransport {
	return &fakeTransport{sessions: make(chan chan Event, sessionCount)}
}

func (f *fakeTransport) addSession() chan Event {
	ch := make(chan Event, 16)
	f.sessions <- ch
	return ch
}

func (f *fakeTransport) Connect(ctx context.Context) (<-chan Event, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	select {
	case ch := <-f.sessions:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) SendText(ctx context.Context, address, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, bus.OutboundMessage{Address: address, Text: text})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendPresence(ctx context.Context, address string, p Presence) error {
	f.mu.Lock()
	f.presence = append(f.presence, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logouts++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorPairingFlow(t *testing.T) {
	ft := newFakeTransport(1)
	events := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb, WithReconnectDelay(10*time.Millisecond))
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	events <- PairingChallenge{Payload: "QR-PAYLOAD"}
	waitFor(t, "awaiting pairing", func() bool {
		st := s.GetStatus()
		return st.State == StateAwaitingPairing && st.QRCode == "QR-PAYLOAD"
	})
	if !s.IsInitializing() {
		t.Error("expected IsInitializing during pairing")
	}

	events <- Connected{PhoneNumber: "15551234567"}
	waitFor(t, "connected", func() bool {
		st := s.GetStatus()
		return st.Connected && st.PhoneNumber == "15551234567"
	})
	if qr := s.GetStatus().QRCode; qr != "" {
		t.Errorf("QR code still exposed after pairing: %q", qr)
	}
	if s.IsInitializing() {
		t.Error("IsInitializing true while connected")
	}
}

func TestSupervisorInitializeIsIdempotent(t *testing.T) {
	ft := newFakeTransport(1)
	events := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb)
	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	events <- Connected{PhoneNumber: "1"}
	waitFor(t, "connected", func() bool { return s.GetStatus().Connected })

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := ft.attemptCount(); got != 1 {
		t.Errorf("connect attempts = %d, want 1", got)
	}
}

func TestSupervisorInitializeNoOpDuringReconnectPause(t *testing.T) {
	ft := newFakeTransport(2)
	first := ft.addSession()
	second := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb, WithReconnectDelay(300*time.Millisecond))
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first <- Connected{PhoneNumber: "1"}
	waitFor(t, "connected", func() bool { return s.GetStatus().Connected })

	first <- Disconnected{Reason: ReasonStreamError}
	close(first)
	waitFor(t, "reconnect pause", func() bool { return s.GetStatus().State == StateDisconnected })

	// The run loop owns the pause; a second Initialize here must not spawn
	// a second loop.
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize during pause: %v", err)
	}

	waitFor(t, "second attempt", func() bool { return ft.attemptCount() >= 2 })
	second <- Connected{PhoneNumber: "1"}
	waitFor(t, "reconnected", func() bool { return s.GetStatus().Connected })

	time.Sleep(100 * time.Millisecond)
	if got := ft.attemptCount(); got != 2 {
		t.Errorf("connect attempts = %d, want 2 (initial + one resumed loop)", got)
	}

	// The surviving loop must still answer Disconnect.
	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if st := s.GetStatus(); st.State != StateLoggedOut {
		t.Errorf("state = %v, want logged out", st.State)
	}
}

func TestSupervisorPublishesInboundMessages(t *testing.T) {
	ft := newFakeTransport(1)
	events := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	events <- Connected{PhoneNumber: "1"}
	events <- MessageReceived{Message: bus.InboundMessage{
		MessageID: "m1",
		Address:   "15551234567@s.whatsapp.net",
		Text:      "status?",
	}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Text != "status?" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestSupervisorReconnectsAfterStreamError(t *testing.T) {
	ft := newFakeTransport(2)
	first := ft.addSession()
	second := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb, WithReconnectDelay(10*time.Millisecond))
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	first <- Connected{PhoneNumber: "1"}
	waitFor(t, "first connect", func() bool { return s.GetStatus().Connected })

	first <- Disconnected{Reason: ReasonStreamError}
	close(first)

	waitFor(t, "second attempt", func() bool { return ft.attemptCount() == 2 })
	second <- Connected{PhoneNumber: "1"}
	waitFor(t, "reconnected", func() bool { return s.GetStatus().Connected })
}

func TestSupervisorRemoteLogoutIsTerminal(t *testing.T) {
	ft := newFakeTransport(1)
	events := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb, WithReconnectDelay(10*time.Millisecond))
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	events <- Connected{PhoneNumber: "1"}
	waitFor(t, "connected", func() bool { return s.GetStatus().Connected })

	events <- Disconnected{Reason: ReasonLoggedOut}
	close(events)

	waitFor(t, "logged out", func() bool { return s.GetStatus().State == StateLoggedOut })
	time.Sleep(50 * time.Millisecond)
	if got := ft.attemptCount(); got != 1 {
		t.Errorf("connect attempts after logout = %d, want 1", got)
	}
}

func TestSupervisorDisconnectClearsSession(t *testing.T) {
	ft := newFakeTransport(1)
	events := ft.addSession()
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	events <- Connected{PhoneNumber: "15551234567"}
	waitFor(t, "connected", func() bool { return s.GetStatus().Connected })

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	st := s.GetStatus()
	if st.State != StateLoggedOut || st.Connected || st.PhoneNumber != "" {
		t.Errorf("status after disconnect = %+v", st)
	}
	if ft.logouts != 1 {
		t.Errorf("logouts = %d, want 1", ft.logouts)
	}
}

func TestSupervisorDisconnectWhileInitializing(t *testing.T) {
	// No session available: Connect blocks until the context ends.
	ft := newFakeTransport(0)
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	waitFor(t, "initializing", func() bool { return s.IsInitializing() })

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if st := s.GetStatus(); st.State != StateLoggedOut {
		t.Errorf("state = %v, want logged out", st.State)
	}
}

func TestSupervisorSendRequiresConnection(t *testing.T) {
	ft := newFakeTransport(0)
	mb := bus.NewMessageBus()
	defer mb.Close()

	s := NewSupervisor(ft, mb)
	if err := s.SendText(context.Background(), "a", "b"); err != ErrNotConnected {
		t.Errorf("SendText error = %v, want ErrNotConnected", err)
	}
	if err := s.SendPresence(context.Background(), "a", PresenceComposing); err != ErrNotConnected {
		t.Errorf("SendPresence error = %v, want ErrNotConnected", err)
	}
}
