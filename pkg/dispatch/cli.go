package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/logger"
)

// genericProcessFailure is reported when the backend fails without writing
// anything useful to stderr.
const genericProcessFailure = "backend process failed without diagnostic output"

// CLIDispatcher spawns the backend binary once per question in
// non-interactive print mode.
type CLIDispatcher struct {
	*tracker
	binary   string
	model    string
	maxTurns int
	timeout  time.Duration
}

func NewCLIDispatcher(cfg config.BackendConfig) *CLIDispatcher {
	return &CLIDispatcher{
		tracker:  newTracker(),
		binary:   cfg.Binary,
		model:    cfg.Model,
		maxTurns: cfg.MaxTurns,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (d *CLIDispatcher) buildArgs(req Request) []string {
	args := []string{
		"--print",
		"--model", d.model,
		"--dangerously-skip-permissions",
		"--system-prompt", req.SystemPrompt,
		"--max-turns", strconv.Itoa(d.maxTurns),
	}
	if req.ToolConfigPath != "" {
		args = append(args, "--mcp-config", req.ToolConfigPath)
	}
	// "--" so a question starting with a dash is never parsed as a flag.
	return append(args, "--", req.Question)
}

func (d *CLIDispatcher) Dispatch(ctx context.Context, req Request) Result {
	id := uuid.NewString()
	d.add(Active{ID: id, StartedAt: time.Now(), Question: req.Question})
	defer d.remove(id)

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.Command(d.binary, d.buildArgs(req)...)
	// Own process group so a timeout kill reaches backend children too,
	// not just the top-level process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Stdin left nil: the backend reads EOF immediately and never blocks
	// waiting for interactive input.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		logger.ErrorCF("dispatch", "Backend spawn failed", map[string]any{
			"dispatch_id": id,
			"binary":      d.binary,
			"error":       err.Error(),
		})
		return Result{Outcome: OutcomeSpawnError, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return d.classify(id, err, stdout.String(), stderr.String())
	case <-runCtx.Done():
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			logger.ErrorCF("dispatch", "Failed to kill backend process group", map[string]any{
				"dispatch_id": id,
				"pid":         cmd.Process.Pid,
				"error":       err.Error(),
			})
		}
		<-waitErr // reap the killed process
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			// Caller cancellation (shutdown), not the backend blowing its
			// budget.
			logger.InfoCF("dispatch", "Dispatch canceled", map[string]any{
				"dispatch_id": id,
			})
			return Result{Outcome: OutcomeProcessFailure, Stderr: "dispatch canceled"}
		}
		logger.WarnCF("dispatch", "Backend timed out", map[string]any{
			"dispatch_id": id,
			"timeout":     d.timeout.String(),
		})
		return Result{Outcome: OutcomeTimedOut}
	}
}

func (d *CLIDispatcher) classify(id string, waitErr error, stdout, stderr string) Result {
	text := strings.TrimSpace(stdout)
	if waitErr == nil && text != "" {
		logger.DebugCF("dispatch", "Backend answered", map[string]any{
			"dispatch_id": id,
			"bytes":       len(text),
		})
		return Result{Outcome: OutcomeSuccess, Text: text}
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = genericProcessFailure
	}
	logger.ErrorCF("dispatch", "Backend process failed", map[string]any{
		"dispatch_id": id,
		"exit_code":   exitCode,
		"stderr":      detail,
	})
	return Result{Outcome: OutcomeProcessFailure, ExitCode: exitCode, Stderr: detail}
}
