package render

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/dbus"
)

// RunFunc executes name with args and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError describes a failed display command.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandRenderer displays notifications by running an external command.
type CommandRenderer struct {
	logger  *slog.Logger
	format  *formatter
	command string
	timeout time.Duration
	run     RunFunc
}

// NewCommandRenderer creates a CommandRenderer from cfg.
func NewCommandRenderer(cfg *config.DaemonConfig, logger *slog.Logger) (*CommandRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := newFormatter(cfg)
	if err != nil {
		return nil, err
	}
	return &CommandRenderer{
		logger:  logger,
		format:  f,
		command: cfg.Renderer.Command,
		timeout: cfg.Renderer.Timeout.Duration(),
		run:     runCommand,
	}, nil
}

// SetRunFunc replaces the function used to execute the command.
func (r *CommandRenderer) SetRunFunc(run RunFunc) {
	r.run = run
}

// Args returns the command arguments for n.
func (r *CommandRenderer) Args(n *dbus.Notification) ([]string, error) {
	args, _, err := r.format.argv(n)
	return args, err
}

// Render implements dbus.Renderer. The command is killed once the
// configured timeout elapses.
func (r *CommandRenderer) Render(ctx context.Context, n *dbus.Notification) error {
	args, data, err := r.format.argv(n)
	if err != nil {
		return err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debug("running display command", "command", r.command, "args", args, "duration_ms", data.DurationMS)
	out, err := r.run(ctx, r.command, args...)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w after %s", ctx.Err(), r.timeout)
		}
		return &CommandError{
			Command: r.command,
			Output:  strings.TrimSpace(string(out)),
			Err:     err,
		}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
