// Package wsrelay implements session.Transport against a session relay
// daemon reached over a websocket.
//
// The relay owns the actual network connection and pairing credential store;
// this client speaks a small JSON frame protocol with it. Server frames:
// qr, connected, disconnected, message. Client frames: send_text, presence,
// logout.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/logger"
	"github.com/tinyland-inc/wabridge/pkg/session"
)

// ErrNoSession is returned by send operations while no relay connection is
// live.
var ErrNoSession = errors.New("no live relay session")

// frame is one JSON message in either direction.
type frame struct {
	Type string `json:"type"`

	// Server to client.
	QR          string              `json:"qr,omitempty"`
	PhoneNumber string              `json:"phone_number,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Message     *bus.InboundMessage `json:"message,omitempty"`

	// Client to server.
	Address  string `json:"address,omitempty"`
	Text     string `json:"text,omitempty"`
	Presence string `json:"presence,omitempty"`
}

type Client struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(cfg config.BridgeConfig) *Client {
	return &Client{url: dialURL(cfg)}
}

// dialURL carries the credential directory to the relay as a query parameter,
// so one relay daemon can serve bridges with distinct session stores.
func dialURL(cfg config.BridgeConfig) string {
	if cfg.AuthDir == "" {
		return cfg.RelayURL
	}
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return cfg.RelayURL
	}
	q := u.Query()
	q.Set("auth_dir", cfg.AuthDir)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the relay and starts translating its frames into session
// events. The returned channel closes when the relay connection ends.
func (c *Client) Connect(ctx context.Context) (<-chan session.Event, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial relay %s: %w", c.url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	events := make(chan session.Event, 32)
	stopped := make(chan struct{})
	go c.readLoop(conn, events, stopped)

	// Close the relay connection when the supervisor's context ends so the
	// read loop unblocks. Exits with its own connection, so reconnect cycles
	// against a flapping relay do not leave a watcher behind per attempt.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()

	return events, nil
}

func (c *Client) readLoop(conn *websocket.Conn, events chan<- session.Event, stopped chan<- struct{}) {
	defer func() {
		conn.Close()
		close(events)
		close(stopped)
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			// Drop the send path before reporting the disconnect so
			// observers never write into a dead connection.
			c.detach(conn)
			events <- session.Disconnected{Reason: session.ReasonStreamError}
			return
		}
		switch f.Type {
		case "qr":
			events <- session.PairingChallenge{Payload: f.QR}
		case "connected":
			events <- session.Connected{PhoneNumber: f.PhoneNumber}
		case "message":
			if f.Message != nil {
				events <- session.MessageReceived{Message: *f.Message}
			}
		case "disconnected":
			c.detach(conn)
			events <- session.Disconnected{Reason: disconnectReason(f.Reason)}
			return
		default:
			logger.DebugCF("wsrelay", "Ignoring unknown frame", map[string]any{
				"type": f.Type,
			})
		}
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func disconnectReason(reason string) session.DisconnectReason {
	switch reason {
	case "logged_out":
		return session.ReasonLoggedOut
	case "network":
		return session.ReasonNetwork
	default:
		return session.ReasonStreamError
	}
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNoSession
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write relay frame: %w", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, address, text string) error {
	return c.send(frame{Type: "send_text", Address: address, Text: text})
}

func (c *Client) SendPresence(ctx context.Context, address string, p session.Presence) error {
	return c.send(frame{Type: "presence", Address: address, Presence: string(p)})
}

// Logout asks the relay to unlink the device and discard its credential
// store. With no live session it dials briefly just for the logout.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.send(frame{Type: "logout"}); err == nil {
		return nil
	} else if !errors.Is(err, ErrNoSession) {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial relay for logout: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	if err := conn.WriteJSON(frame{Type: "logout"}); err != nil {
		return fmt.Errorf("write logout frame: %w", err)
	}
	return nil
}
