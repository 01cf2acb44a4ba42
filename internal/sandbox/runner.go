// Package sandbox executes oracle-generated code in a child process with a
// hard wall-clock timeout. The child deliberately inherits the parent's
// environment: the agent's own code is expected to reach the same network
// and credentials as the session (trusted-agent model, not hostile-code
// isolation).
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"quiznerd/internal/config"

	"go.uber.org/zap"
)

// Result captures one execution. Err-level failures (timeout, non-zero exit)
// live here, not in the error return: execution failure is fatal to the
// step, never to the session.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

// Runner executes scripts with the configured interpreter.
type Runner struct {
	interpreter string
	timeout     time.Duration
	outputCap   int
	log         *zap.Logger
}

func NewRunner(cfg config.SandboxConfig, log *zap.Logger) *Runner {
	interp := cfg.Interpreter
	if interp == "" {
		interp = "python3"
	}
	return &Runner{
		interpreter: interp,
		timeout:     cfg.ExecTimeout(),
		outputCap:   cfg.OutputCap(),
		log:         log,
	}
}

// Run writes code to a temp file and executes it, blocking until completion
// or timeout expiry. The returned error covers setup failures only.
func (r *Runner) Run(ctx context.Context, code string) (Result, error) {
	dir, err := os.MkdirTemp("", "quiznerd-exec-")
	if err != nil {
		return Result{}, fmt.Errorf("create exec dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "script.py")
	if err := os.WriteFile(script, []byte(code), 0o644); err != nil {
		return Result{}, fmt.Errorf("write script: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.interpreter, script)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout:  truncate(stdout.String(), r.outputCap),
		Stderr:  truncate(stderr.String(), r.outputCap),
		Elapsed: elapsed,
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		r.log.Warn("code execution timed out", zap.Duration("timeout", r.timeout))
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Interpreter missing or not startable counts as a step failure,
			// reported through Stderr like any other.
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = runErr.Error()
			}
		}
	default:
		result.ExitCode = 0
	}

	r.log.Debug("code execution finished",
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n[output truncated]"
}
