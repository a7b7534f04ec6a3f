// Package runner executes the external helper programs the toolkit relies on
// (Ghostscript, pdftoppm, lp, xdg-open).
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// maxLogOutputBytes limits how much command output is copied into a log line.
	maxLogOutputBytes = 1024
	// maxCaptureBytes caps captured stdout and stderr.
	maxCaptureBytes = 10 * 1024 * 1024
	// waitDelay bounds how long Run waits for output pipes after the process is killed.
	waitDelay = time.Second
)

var (
	// ErrCommand is the base error for every failure of an external command.
	ErrCommand = errors.New("external command failed")
	// ErrCommandNotFound indicates the executable is not installed or not in PATH.
	ErrCommandNotFound = errors.New("command not found")
	// ErrCommandTimeout indicates the command was cancelled or exceeded its timeout.
	ErrCommandTimeout = errors.New("command cancelled or timed out")
	// ErrCommandNonZeroExit indicates the command exited with a non-zero status.
	ErrCommandNonZeroExit = errors.New("command exited non-zero")
)

// WrapError wraps specific with ErrCommand and a formatted message.
func WrapError(specific error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %w", ErrCommand, fmt.Sprintf(format, args...), specific)
}

// ExecRunner runs commands with os/exec. Arguments are passed directly, never
// through a shell.
type ExecRunner struct {
	logger   *slog.Logger
	timeout  time.Duration
	lookPath func(string) (string, error)
}

// NewExecRunner creates a runner. A positive timeout bounds every command.
func NewExecRunner(loggerHandler slog.Handler, timeout time.Duration) *ExecRunner {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &ExecRunner{
		logger:   slog.New(loggerHandler).With(slog.String("component", "commandRunner")),
		timeout:  timeout,
		lookPath: exec.LookPath,
	}
}

// Available reports whether name resolves to an executable.
func (r *ExecRunner) Available(name string) bool {
	_, err := r.lookPath(name)
	return err == nil
}

// Run executes name with args and returns its stdout.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logArgs := []any{slog.String("command", name)}
	if name == "" {
		return nil, WrapError(ErrCommandNotFound, "empty command")
	}
	path, err := r.lookPath(name)
	if err != nil {
		r.logger.Debug("Command not available", append(logArgs, slog.String("error", err.Error()))...)
		return nil, WrapError(ErrCommandNotFound, "%s", name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &limitedWriter{w: &stdout, remaining: maxCaptureBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, remaining: maxCaptureBytes}
	cmd.WaitDelay = waitDelay

	r.logger.Debug("Running command", append(logArgs, slog.String("args", strings.Join(args, " ")))...)
	start := time.Now()
	waitErr := cmd.Run()
	stderrText := strings.TrimSpace(stderr.String())
	if len(stderrText) > maxLogOutputBytes {
		stderrText = stderrText[:maxLogOutputBytes] + "... (truncated)"
	}
	logArgs = append(logArgs, slog.Duration("elapsed", time.Since(start)))

	if ctx.Err() != nil {
		r.logger.Warn("Command cancelled or timed out", append(logArgs, slog.Any("error", ctx.Err()))...)
		return nil, WrapError(ErrCommandTimeout, "%s: %v", name, ctx.Err())
	}
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if stderrText != "" {
			logArgs = append(logArgs, slog.String("stderr", stderrText))
		}
		r.logger.Warn("Command failed", append(logArgs, slog.Int("exitCode", exitCode))...)
		if exitCode >= 0 {
			return stdout.Bytes(), WrapError(ErrCommandNonZeroExit, "%s exited with code %d: %s", name, exitCode, stderrText)
		}
		return stdout.Bytes(), WrapError(waitErr, "%s", name)
	}
	r.logger.Debug("Command finished", logArgs...)
	return stdout.Bytes(), nil
}

// limitedWriter discards writes beyond its limit without failing the command.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if l.remaining <= 0 {
		return n, nil
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	written, err := l.w.Write(p)
	l.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
