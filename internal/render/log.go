package render

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/dbus"
)

// LogRenderer writes notifications to the log instead of displaying them.
type LogRenderer struct {
	logger *slog.Logger
	format *formatter
}

// NewLogRenderer creates a LogRenderer from cfg.
func NewLogRenderer(cfg *config.DaemonConfig, logger *slog.Logger) (*LogRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := newFormatter(cfg)
	if err != nil {
		return nil, err
	}
	return &LogRenderer{logger: logger, format: f}, nil
}

// Render implements dbus.Renderer.
func (r *LogRenderer) Render(_ context.Context, n *dbus.Notification) error {
	d, err := r.format.data(n)
	if err != nil {
		return err
	}
	r.logger.Info("notification", "message", d.Message, "duration_ms", d.DurationMS)
	return nil
}
