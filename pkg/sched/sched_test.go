package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/dispatch"
)

type scriptedDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	result   dispatch.Result
}

func (s *scriptedDispatcher) Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.result
}

func (s *scriptedDispatcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func TestNewSchedulerRejectsInvalidCron(t *testing.T) {
	_, err := NewScheduler(
		[]config.ScheduledPrompt{{Cron: "not a cron", Prompt: "p", Address: "a@s.whatsapp.net"}},
		&scriptedDispatcher{}, bus.NewMessageBus(),
	)
	assert.ErrorContains(t, err, "invalid cron")
}

func TestNewSchedulerRequiresAddress(t *testing.T) {
	_, err := NewScheduler(
		[]config.ScheduledPrompt{{Cron: "* * * * *", Prompt: "p"}},
		&scriptedDispatcher{}, bus.NewMessageBus(),
	)
	assert.ErrorContains(t, err, "address")
}

func TestRunDueFiresMatchingPrompt(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	d := &scriptedDispatcher{result: dispatch.Result{Outcome: dispatch.OutcomeSuccess, Text: "daily report"}}

	s, err := NewScheduler(
		[]config.ScheduledPrompt{{Cron: "0 9 * * *", Prompt: "summarize", Address: "15551234567@s.whatsapp.net"}},
		d, mb,
	)
	require.NoError(t, err)

	nineAM := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	s.runDue(context.Background(), nineAM)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "15551234567@s.whatsapp.net", out.Address)
	assert.Equal(t, "daily report", out.Text)
	assert.Equal(t, 1, d.count())
}

func TestRunDueSkipsNonMatchingTime(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	d := &scriptedDispatcher{result: dispatch.Result{Outcome: dispatch.OutcomeSuccess, Text: "x"}}

	s, err := NewScheduler(
		[]config.ScheduledPrompt{{Cron: "0 9 * * *", Prompt: "summarize", Address: "a@s.whatsapp.net"}},
		d, mb,
	)
	require.NoError(t, err)

	tenAM := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.runDue(context.Background(), tenAM)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, d.count())
}

func TestFailedScheduledDispatchSendsNothing(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	d := &scriptedDispatcher{result: dispatch.Result{Outcome: dispatch.OutcomeTimedOut}}

	s, err := NewScheduler(
		[]config.ScheduledPrompt{{Cron: "* * * * *", Prompt: "p", Address: "a@s.whatsapp.net"}},
		d, mb,
	)
	require.NoError(t, err)

	s.runDue(context.Background(), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := mb.SubscribeOutbound(ctx)
	assert.False(t, ok, "failed dispatch must not produce an outbound message")
}
