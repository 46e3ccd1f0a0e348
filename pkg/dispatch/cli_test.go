package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tinyland-inc/wabridge/pkg/config"
)

func stubBackend(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func cliConfig(binary string, timeoutSeconds int) config.BackendConfig {
	return config.BackendConfig{
		Mode:           "cli",
		Binary:         binary,
		Model:          "sonnet",
		MaxTurns:       5,
		TimeoutSeconds: timeoutSeconds,
	}
}

func TestCLIDispatchSuccessTrimsOutput(t *testing.T) {
	bin := stubBackend(t, `echo "  Project X is idle  "`)
	d := NewCLIDispatcher(cliConfig(bin, 10))

	res := d.Dispatch(context.Background(), Request{Question: "status?"})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success (stderr: %s)", res.Outcome, res.Stderr)
	}
	if res.Text != "Project X is idle" {
		t.Errorf("text = %q, want trimmed answer", res.Text)
	}
}

func TestCLIDispatchNonZeroExit(t *testing.T) {
	bin := stubBackend(t, `echo "model overloaded" >&2; exit 3`)
	d := NewCLIDispatcher(cliConfig(bin, 10))

	res := d.Dispatch(context.Background(), Request{Question: "q"})
	if res.Outcome != OutcomeProcessFailure {
		t.Fatalf("outcome = %v, want process failure", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "model overloaded" {
		t.Errorf("stderr = %q, want captured stderr", res.Stderr)
	}
}

func TestCLIDispatchEmptyOutputIsFailure(t *testing.T) {
	bin := stubBackend(t, `exit 0`)
	d := NewCLIDispatcher(cliConfig(bin, 10))

	res := d.Dispatch(context.Background(), Request{Question: "q"})
	if res.Outcome != OutcomeProcessFailure {
		t.Fatalf("outcome = %v, want process failure on empty stdout", res.Outcome)
	}
	if res.Stderr != genericProcessFailure {
		t.Errorf("stderr = %q, want generic diagnostic", res.Stderr)
	}
}

func TestCLIDispatchSpawnError(t *testing.T) {
	d := NewCLIDispatcher(cliConfig(filepath.Join(t.TempDir(), "no-such-binary"), 10))

	res := d.Dispatch(context.Background(), Request{Question: "q"})
	if res.Outcome != OutcomeSpawnError {
		t.Fatalf("outcome = %v, want spawn error", res.Outcome)
	}
	if res.Err == nil {
		t.Error("expected spawn error detail")
	}
}

func TestCLIDispatchTimeout(t *testing.T) {
	bin := stubBackend(t, `sleep 30`)
	d := NewCLIDispatcher(cliConfig(bin, 1))

	start := time.Now()
	res := d.Dispatch(context.Background(), Request{Question: "q"})
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %v, want timed out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("dispatch took %v, kill did not reap promptly", elapsed)
	}
}

func TestCLIDispatchCallerCancelIsNotTimeout(t *testing.T) {
	bin := stubBackend(t, `sleep 30`)
	d := NewCLIDispatcher(cliConfig(bin, 60))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- d.Dispatch(ctx, Request{Question: "q"}) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	res := <-done
	if res.Outcome == OutcomeTimedOut {
		t.Fatal("caller cancellation reported as a backend timeout")
	}
	if res.Outcome != OutcomeProcessFailure {
		t.Fatalf("outcome = %v, want process failure", res.Outcome)
	}
}

func TestCLIBuildArgs(t *testing.T) {
	d := NewCLIDispatcher(cliConfig("claude", 120))

	got := d.buildArgs(Request{
		Question:       "status?",
		SystemPrompt:   "You assist u-arlo.",
		ToolConfigPath: "/tmp/mcp.json",
	})
	want := []string{
		"--print",
		"--model", "sonnet",
		"--dangerously-skip-permissions",
		"--system-prompt", "You assist u-arlo.",
		"--max-turns", "5",
		"--mcp-config", "/tmp/mcp.json",
		"--", "status?",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestCLIBuildArgsOmitsToolConfigWhenEmpty(t *testing.T) {
	d := NewCLIDispatcher(cliConfig("claude", 120))

	got := d.buildArgs(Request{Question: "-starts with dash", SystemPrompt: "s"})
	for _, a := range got {
		if a == "--mcp-config" {
			t.Fatal("mcp-config flag present with no tool config")
		}
	}
	if got[len(got)-2] != "--" || got[len(got)-1] != "-starts with dash" {
		t.Errorf("question not terminated after --: %v", got)
	}
}

func TestCLIActiveDispatchesSnapshot(t *testing.T) {
	bin := stubBackend(t, `sleep 1; echo ok`)
	d := NewCLIDispatcher(cliConfig(bin, 10))

	done := make(chan Result, 1)
	go func() { done <- d.Dispatch(context.Background(), Request{Question: "slow"}) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.ActiveDispatches()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	active := d.ActiveDispatches()
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1 while dispatch runs", len(active))
	}
	if active[0].Question != "slow" {
		t.Errorf("active question = %q", active[0].Question)
	}

	res := <-done
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if len(d.ActiveDispatches()) != 0 {
		t.Error("dispatch still listed active after completion")
	}
}
