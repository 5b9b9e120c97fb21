// Package render turns incoming notifications into calls of an external
// display command such as hyprctl.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/dbus"
)

// TemplateData is the data available to message and argument templates.
type TemplateData struct {
	AppName       string
	Summary       string
	Body          string
	AppIcon       string
	Message       string // Rendered message template; empty while rendering the message itself
	Urgency       string
	Color         string
	DurationMS    int64
	ExpireTimeout int32
	WordCount     int
}

// Argument presets. The first argument is the subcommand of the display tool.
var (
	urgencyFirstArgs  = []string{"notify", "{{.Urgency}}", "{{.DurationMS}}", "{{.Color}}", "{{.Message}}"}
	durationFirstArgs = []string{"notify", "{{.DurationMS}}", "{{.Urgency}}", "{{.Color}}", "{{.Message}}"}
)

// ArgTemplates returns the argument templates selected by cfg.
func ArgTemplates(cfg config.RendererConfig) []string {
	switch cfg.ArgOrder {
	case config.ArgOrderDurationFirst:
		return durationFirstArgs
	case config.ArgOrderCustom:
		return cfg.Args
	default:
		return urgencyFirstArgs
	}
}

// formatter expands templates for a single notification.
type formatter struct {
	message  *template.Template
	args     []*template.Template
	renderer config.RendererConfig
	duration config.DurationConfig
}

func newFormatter(cfg *config.DaemonConfig) (*formatter, error) {
	msg, err := config.ParseTemplate("message", cfg.Renderer.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}

	f := &formatter{
		message:  msg,
		renderer: cfg.Renderer,
		duration: cfg.Duration,
	}
	for i, text := range ArgTemplates(cfg.Renderer) {
		tmpl, err := config.ParseTemplate(fmt.Sprintf("arg%d", i), text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse renderer arg %d: %w", i, err)
		}
		f.args = append(f.args, tmpl)
	}
	return f, nil
}

// data builds the template data for n, with Message rendered.
func (f *formatter) data(n *dbus.Notification) (TemplateData, error) {
	d := TemplateData{
		AppName:       n.AppName,
		Summary:       n.Summary,
		Body:          n.Body,
		AppIcon:       n.AppIcon,
		Urgency:       f.renderer.Urgency,
		Color:         f.renderer.Color,
		DurationMS:    Duration(f.duration, n).Milliseconds(),
		ExpireTimeout: n.ExpireTimeout,
		WordCount:     n.WordCount(),
	}

	msg, err := execute(f.message, d)
	if err != nil {
		return TemplateData{}, fmt.Errorf("failed to render message: %w", err)
	}
	d.Message = msg
	return d, nil
}

// argv expands the argument templates for n.
func (f *formatter) argv(n *dbus.Notification) ([]string, TemplateData, error) {
	d, err := f.data(n)
	if err != nil {
		return nil, d, err
	}

	args := make([]string, 0, len(f.args))
	for i, tmpl := range f.args {
		s, err := execute(tmpl, d)
		if err != nil {
			return nil, d, fmt.Errorf("failed to render arg %d: %w", i, err)
		}
		args = append(args, s)
	}
	return args, d, nil
}

func execute(tmpl *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// New creates the renderer selected by cfg.
func New(cfg *config.DaemonConfig, logger *slog.Logger) (dbus.Renderer, error) {
	switch cfg.Renderer.Kind {
	case config.RendererLog:
		return NewLogRenderer(cfg, logger)
	case config.RendererCommand, "":
		return NewCommandRenderer(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown renderer kind %q", cfg.Renderer.Kind)
	}
}
