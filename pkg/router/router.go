// Package router turns inbound messages into backend dispatches and replies.
//
// Pipeline per message: filter (self, group, empty) -> resolve identity ->
// authorize -> dispatch -> reply. Each message is handled on its own
// goroutine; replies go out as dispatches finish, in whatever order that is.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tinyland-inc/wabridge/pkg/authz"
	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/dispatch"
	"github.com/tinyland-inc/wabridge/pkg/identity"
	"github.com/tinyland-inc/wabridge/pkg/logger"
	"github.com/tinyland-inc/wabridge/pkg/session"
	"github.com/tinyland-inc/wabridge/pkg/toolconfig"
)

// registrationReply is the fixed reply for unregistered senders. The resolved
// identifier is embedded so an administrator can copy it into the registry.
const registrationReply = "This number isn't registered with the bridge yet. " +
	"Ask your administrator to add the identifier %s to the user registry."

// genericFailureReply is the only failure text ever sent back. Raw backend
// errors stay in the logs.
const genericFailureReply = "Sorry, something went wrong while processing your request. Please try again."

// PresenceSender sends typing indicators. Satisfied by session.Supervisor.
type PresenceSender interface {
	SendPresence(ctx context.Context, address string, p session.Presence) error
}

// Router consumes inbound messages and produces outbound replies. All
// collaborators are injected at construction.
type Router struct {
	bus        *bus.MessageBus
	authz      authz.Lookup
	dispatcher dispatch.Dispatcher
	tools      toolconfig.Generator
	presence   PresenceSender

	wg sync.WaitGroup
}

func New(mb *bus.MessageBus, lookup authz.Lookup, d dispatch.Dispatcher, tools toolconfig.Generator, presence PresenceSender) *Router {
	return &Router{
		bus:        mb,
		authz:      lookup,
		dispatcher: d,
		tools:      tools,
		presence:   presence,
	}
}

// Run consumes inbound messages until the context ends or the bus closes.
// Each message gets its own goroutine; nothing caps how many run at once and
// replies are not reordered to match arrival.
func (r *Router) Run(ctx context.Context) {
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		r.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer r.wg.Done()
			r.handle(ctx, msg)
		}(msg)
	}
}

// Wait blocks until all in-flight message handlers finish.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.FromSelf {
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	id, err := identity.Resolve(msg.Address)
	if err != nil {
		if errors.Is(err, identity.ErrGroupAddress) {
			// Group chats are out of scope; stay silent.
			return
		}
		logger.WarnCF("router", "Dropping message with unresolvable address", map[string]any{
			"message_id": msg.MessageID,
			"address":    msg.Address,
			"error":      err.Error(),
		})
		return
	}

	grant, registered, err := r.authz.Lookup(id.ExternalID)
	if err != nil {
		logger.ErrorCF("router", "Authorization lookup failed", map[string]any{
			"external_id": id.ExternalID,
			"error":       err.Error(),
		})
		r.reply(ctx, msg.Address, genericFailureReply)
		return
	}
	if !registered {
		logger.InfoCF("router", "Unregistered sender", map[string]any{
			"external_id": id.ExternalID,
		})
		r.reply(ctx, msg.Address, fmt.Sprintf(registrationReply, id.ExternalID))
		return
	}

	// Typing indicators are cosmetic; failures never block the dispatch.
	if err := r.presence.SendPresence(ctx, msg.Address, session.PresenceComposing); err != nil {
		logger.DebugCF("router", "Composing presence failed", map[string]any{"error": err.Error()})
	}

	toolPath, err := r.tools.Generate()
	if err != nil {
		logger.WarnCF("router", "Tool config generation failed, dispatching without tools", map[string]any{
			"error": err.Error(),
		})
		toolPath = ""
	}

	res := r.dispatcher.Dispatch(ctx, dispatch.Request{
		Question:       msg.Text,
		SystemPrompt:   systemPrompt(grant, id.ExternalID),
		ToolConfigPath: toolPath,
	})

	if err := r.presence.SendPresence(ctx, msg.Address, session.PresencePaused); err != nil {
		logger.DebugCF("router", "Paused presence failed", map[string]any{"error": err.Error()})
	}

	if res.Outcome == dispatch.OutcomeSuccess {
		r.reply(ctx, msg.Address, res.Text)
		return
	}
	logger.ErrorCF("router", "Dispatch failed", map[string]any{
		"message_id":  msg.MessageID,
		"external_id": id.ExternalID,
		"outcome":     string(res.Outcome),
		"exit_code":   res.ExitCode,
	})
	r.reply(ctx, msg.Address, genericFailureReply)
}

func (r *Router) reply(ctx context.Context, address, text string) {
	if err := r.bus.PublishOutbound(ctx, bus.OutboundMessage{Address: address, Text: text}); err != nil {
		logger.ErrorCF("router", "Failed to enqueue reply", map[string]any{
			"address": address,
			"error":   err.Error(),
		})
	}
}

// systemPrompt scopes the backend to the authorized user and their project.
func systemPrompt(g authz.Grant, externalID string) string {
	return fmt.Sprintf(
		"You are a project assistant reached over a chat bridge. "+
			"You are assisting user %s (messaging identifier %s) working on %s. "+
			"Answers are delivered as chat messages, so keep them short and plain.",
		g.UserID, externalID, g.ProjectContext,
	)
}
