// Package sched dispatches configured prompts on cron schedules and delivers
// the answers to a fixed conversation address, with no inbound message
// involved.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/dispatch"
	"github.com/tinyland-inc/wabridge/pkg/logger"
)

const scheduledSystemPrompt = "You are running a scheduled task for a chat bridge. " +
	"Produce the requested report as a short chat message."

// Scheduler evaluates cron expressions once per minute and fires due prompts
// through the dispatcher.
type Scheduler struct {
	prompts    []config.ScheduledPrompt
	dispatcher dispatch.Dispatcher
	bus        *bus.MessageBus
	gron       *gronx.Gronx
}

func NewScheduler(prompts []config.ScheduledPrompt, d dispatch.Dispatcher, mb *bus.MessageBus) (*Scheduler, error) {
	g := gronx.New()
	for i, p := range prompts {
		if !g.IsValid(p.Cron) {
			return nil, fmt.Errorf("schedule[%d]: invalid cron expression %q", i, p.Cron)
		}
		if p.Address == "" {
			return nil, fmt.Errorf("schedule[%d]: address is required", i)
		}
	}
	return &Scheduler{prompts: prompts, dispatcher: d, bus: mb, gron: g}, nil
}

// Run ticks once per minute until the context ends. With no prompts
// configured it returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.prompts) == 0 {
		return
	}
	logger.InfoCF("sched", "Scheduler running", map[string]any{
		"prompts": len(s.prompts),
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

// runDue fires every prompt whose expression matches ref.
func (s *Scheduler) runDue(ctx context.Context, ref time.Time) {
	for _, p := range s.prompts {
		due, err := s.gron.IsDue(p.Cron, ref)
		if err != nil {
			logger.ErrorCF("sched", "Cron evaluation failed", map[string]any{
				"cron":  p.Cron,
				"error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		go s.fire(ctx, p)
	}
}

func (s *Scheduler) fire(ctx context.Context, p config.ScheduledPrompt) {
	logger.InfoCF("sched", "Firing scheduled prompt", map[string]any{
		"cron":    p.Cron,
		"address": p.Address,
	})

	res := s.dispatcher.Dispatch(ctx, dispatch.Request{
		Question:     p.Prompt,
		SystemPrompt: scheduledSystemPrompt,
	})
	if res.Outcome != dispatch.OutcomeSuccess {
		logger.ErrorCF("sched", "Scheduled dispatch failed", map[string]any{
			"cron":    p.Cron,
			"outcome": string(res.Outcome),
		})
		return
	}

	if err := s.bus.PublishOutbound(ctx, bus.OutboundMessage{Address: p.Address, Text: res.Text}); err != nil {
		logger.ErrorCF("sched", "Failed to enqueue scheduled reply", map[string]any{
			"address": p.Address,
			"error":   err.Error(),
		})
	}
}
