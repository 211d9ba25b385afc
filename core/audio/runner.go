package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"KeyShift/logger"
)

// maxStderrInError bounds how much captured stderr is folded into an error.
const maxStderrInError = 2048

// ProcessResult is what an external tool leaves behind.
type ProcessResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ProcessError reports a tool that started but exited non-zero.
type ProcessError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > maxStderrInError {
		stderr = "..." + stderr[len(stderr)-maxStderrInError:]
	}
	if stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, stderr)
}

// ExitCodeOf extracts the exit code from err, or -1 when err is not a ProcessError.
func ExitCodeOf(err error) int {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.ExitCode
	}
	return -1
}

// Runner executes one external program to completion.
//
// A nil error means exit code 0. A non-zero exit yields both the result and a
// *ProcessError; failing to start yields a nil result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*ProcessResult, error)
}

// ExecRunner runs real binaries via os/exec.
type ExecRunner struct{}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*ProcessResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("executing external tool",
		logger.String("cmd", name),
		logger.String("args", strings.Join(args, " ")))

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		res := &ProcessResult{ExitCode: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s interrupted after %s: %w", name, elapsed.Round(time.Millisecond), ctxErr)
		}
		return res, &ProcessError{Name: name, ExitCode: res.ExitCode, Stderr: stderr.String()}
	}

	logger.Debug("external tool finished",
		logger.String("cmd", name),
		logger.Duration("elapsed", elapsed),
		logger.Int("stdoutBytes", stdout.Len()))

	return &ProcessResult{ExitCode: 0, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}
