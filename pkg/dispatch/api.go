package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/logger"
)

// Completer is the API-mode backend surface. Satisfied by
// anthropicprovider.Provider.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, question string) (string, error)
}

// APIDispatcher answers questions through the Messages API instead of a
// subprocess. Outcome classification mirrors CLIDispatcher: empty answers are
// failures, a deadline hit is a timeout.
type APIDispatcher struct {
	*tracker
	provider Completer
	model    string
	timeout  time.Duration
}

func NewAPIDispatcher(provider Completer, cfg config.BackendConfig) *APIDispatcher {
	return &APIDispatcher{
		tracker:  newTracker(),
		provider: provider,
		model:    cfg.Model,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (d *APIDispatcher) Dispatch(ctx context.Context, req Request) Result {
	id := uuid.NewString()
	d.add(Active{ID: id, StartedAt: time.Now(), Question: req.Question})
	defer d.remove(id)

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	answer, err := d.provider.Complete(runCtx, d.model, req.SystemPrompt, req.Question)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.WarnCF("dispatch", "API call timed out", map[string]any{
				"dispatch_id": id,
				"timeout":     d.timeout.String(),
			})
			return Result{Outcome: OutcomeTimedOut}
		}
		logger.ErrorCF("dispatch", "API call failed", map[string]any{
			"dispatch_id": id,
			"error":       err.Error(),
		})
		return Result{Outcome: OutcomeProcessFailure, Stderr: err.Error()}
	}

	text := strings.TrimSpace(answer)
	if text == "" {
		return Result{Outcome: OutcomeProcessFailure, Stderr: genericProcessFailure}
	}
	return Result{Outcome: OutcomeSuccess, Text: text}
}
