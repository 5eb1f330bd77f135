// Package authz obtains authorization tokens that let the editor write files
// the invoking user could not write alone.
package authz

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const defaultHelperTimeout = 5 * time.Second

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, &helperError{err: err, stderr: strings.TrimSpace(stderr.String())}
	}
	return out, err
}

type helperError struct {
	err    error
	stderr string
}

func (e *helperError) Error() string { return e.err.Error() + ": " + e.stderr }

func (e *helperError) Unwrap() error { return e.err }

// HelperAuthorizer asks an external helper for a token. The helper gets the
// right name as its last argument and prints the token on stdout.
type HelperAuthorizer struct {
	command []string
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

func NewHelperAuthorizer(command []string, logger *slog.Logger) *HelperAuthorizer {
	return NewHelperAuthorizerWithRunner(command, OSRunner{}, logger)
}

func NewHelperAuthorizerWithRunner(command []string, runner Runner, logger *slog.Logger) *HelperAuthorizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HelperAuthorizer{
		command: append([]string(nil), command...),
		runner:  runner,
		timeout: defaultHelperTimeout,
		logger:  logger,
	}
}

// ObtainRight never fails loudly: any problem simply means no token.
func (a *HelperAuthorizer) ObtainRight(ctx context.Context, right string) (string, bool) {
	if a == nil || len(a.command) == 0 || strings.TrimSpace(right) == "" {
		return "", false
	}
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	args := append(append([]string(nil), a.command[1:]...), right)
	out, err := a.runner.Run(runCtx, a.command[0], args...)
	if err != nil {
		a.logger.Debug("authorization helper failed", "right", right, "err", err)
		return "", false
	}
	token := strings.TrimSpace(string(out))
	if token == "" || strings.ContainsAny(token, "\r\n") {
		a.logger.Debug("authorization helper returned unusable token", "right", right)
		return "", false
	}
	return token, true
}
