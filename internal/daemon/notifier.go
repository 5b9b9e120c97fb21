package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/jmylchreest/notibus/internal/dbus"
)

// Urgency hint values of the notification protocol.
const (
	urgencyLow    byte = 0
	urgencyNormal byte = 1
)

// notice is one kind of notification notibusd shows about itself.
type notice struct {
	key     string // rate limit key
	summary string
	urgency byte
}

var (
	noticeStartup     = notice{key: "startup", summary: "notibusd Started", urgency: urgencyLow}
	noticeReloaded    = notice{key: "config-reload", summary: "Configuration Reloaded", urgency: urgencyLow}
	noticeConfigError = notice{key: "config-error", summary: "Configuration Error", urgency: urgencyNormal}
)

// icon returns the freedesktop icon name for the notice.
func (n notice) icon() string {
	if n.urgency == urgencyLow {
		return "dialog-information"
	}
	return "dialog-warning"
}

// InternalNotifier shows notifications about notibusd's own events through
// the active renderer. Each kind is shown at most once per minimum interval.
type InternalNotifier struct {
	mu     sync.Mutex
	logger *slog.Logger

	handler     func(ctx context.Context, n *dbus.Notification)
	enabled     bool
	minInterval time.Duration
	lastShown   map[string]time.Time
}

// NewInternalNotifier creates a new InternalNotifier. It starts disabled.
func NewInternalNotifier(logger *slog.Logger) *InternalNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalNotifier{
		logger:      logger,
		minInterval: 5 * time.Second,
		lastShown:   make(map[string]time.Time),
	}
}

// SetNotifyHandler sets the function that displays a notification.
func (in *InternalNotifier) SetNotifyHandler(handler func(ctx context.Context, n *dbus.Notification)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handler = handler
}

// SetEnabled enables or disables internal notifications.
func (in *InternalNotifier) SetEnabled(enabled bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.enabled = enabled
}

// SetMinInterval sets how long a notice of one kind suppresses repeats.
func (in *InternalNotifier) SetMinInterval(interval time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.minInterval = interval
}

// NotifyStartup reports that the daemon has claimed the notification name.
func (in *InternalNotifier) NotifyStartup(ctx context.Context, version string) {
	in.show(ctx, noticeStartup, "Notification bus v"+version+" is now running.")
}

// NotifyConfigReloaded reports a successfully applied configuration.
func (in *InternalNotifier) NotifyConfigReloaded(ctx context.Context) {
	in.show(ctx, noticeReloaded, "notibusd configuration has been successfully reloaded.")
}

// NotifyConfigError reports a configuration that was rejected.
func (in *InternalNotifier) NotifyConfigError(ctx context.Context, err error) {
	in.show(ctx, noticeConfigError, "Failed to reload configuration: "+err.Error())
}

// handlerFor returns the handler to show nt with, or nil when nt is
// disabled, has no handler, or was shown too recently. A non-nil result
// counts as shown.
func (in *InternalNotifier) handlerFor(nt notice) func(ctx context.Context, n *dbus.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.enabled || in.handler == nil {
		return nil
	}
	now := time.Now()
	if last, ok := in.lastShown[nt.key]; ok && now.Sub(last) < in.minInterval {
		in.logger.Debug("internal notification rate-limited", "key", nt.key)
		return nil
	}
	in.lastShown[nt.key] = now
	return in.handler
}

func (in *InternalNotifier) show(ctx context.Context, nt notice, body string) {
	handler := in.handlerFor(nt)
	if handler == nil {
		return
	}

	in.logger.Debug("showing internal notification", "key", nt.key, "summary", nt.summary)
	handler(ctx, &dbus.Notification{
		AppName: "notibusd",
		AppIcon: nt.icon(),
		Summary: nt.summary,
		Body:    body,
		Hints: map[string]godbus.Variant{
			"urgency":   godbus.MakeVariant(nt.urgency),
			"transient": godbus.MakeVariant(true),
		},
		ExpireTimeout: 5000,
	})
}
