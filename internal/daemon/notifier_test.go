package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/notibus/internal/dbus"
)

func newRecordingNotifier() (*InternalNotifier, *[]*dbus.Notification) {
	var got []*dbus.Notification
	n := NewInternalNotifier(testLogger())
	n.SetNotifyHandler(func(_ context.Context, notification *dbus.Notification) {
		got = append(got, notification)
	})
	n.SetEnabled(true)
	return n, &got
}

func TestInternalNotifierDisabledByDefault(t *testing.T) {
	n := NewInternalNotifier(nil)
	called := false
	n.SetNotifyHandler(func(context.Context, *dbus.Notification) { called = true })

	n.NotifyStartup(context.Background(), "1.0.0")
	assert.False(t, called)
}

func TestInternalNotifierNotices(t *testing.T) {
	n, got := newRecordingNotifier()

	n.NotifyStartup(context.Background(), "1.0.0")
	n.NotifyConfigError(context.Background(), errors.New("bad policy"))

	require.Len(t, *got, 2)
	startup, cfgErr := (*got)[0], (*got)[1]

	assert.Equal(t, "notibusd", startup.AppName)
	assert.Equal(t, "notibusd Started", startup.Summary)
	assert.Equal(t, "dialog-information", startup.AppIcon)
	assert.Equal(t, byte(0), startup.Hints["urgency"].Value())
	assert.Equal(t, true, startup.Hints["transient"].Value())
	assert.Contains(t, startup.Body, "v1.0.0")

	assert.Equal(t, "Configuration Error", cfgErr.Summary)
	assert.Equal(t, "dialog-warning", cfgErr.AppIcon)
	assert.Equal(t, byte(1), cfgErr.Hints["urgency"].Value())
	assert.Contains(t, cfgErr.Body, "bad policy")
	assert.Equal(t, int32(5000), cfgErr.ExpireTimeout)
}

func TestInternalNotifierRateLimit(t *testing.T) {
	n, got := newRecordingNotifier()

	n.NotifyConfigReloaded(context.Background())
	n.NotifyConfigReloaded(context.Background())
	assert.Len(t, *got, 1)

	// Another kind is limited separately.
	n.NotifyConfigError(context.Background(), errors.New("bad policy"))
	assert.Len(t, *got, 2)

	n.SetMinInterval(time.Nanosecond)
	time.Sleep(time.Millisecond)
	n.NotifyConfigReloaded(context.Background())
	assert.Len(t, *got, 3)
}

func TestInternalNotifierNoHandler(t *testing.T) {
	n := NewInternalNotifier(testLogger())
	n.SetEnabled(true)
	assert.NotPanics(t, func() {
		n.NotifyStartup(context.Background(), "1.0.0")
	})

	// Nothing was shown, so a handler set later still gets the notice.
	var got []*dbus.Notification
	n.SetNotifyHandler(func(_ context.Context, notification *dbus.Notification) {
		got = append(got, notification)
	})
	n.NotifyStartup(context.Background(), "1.0.0")
	assert.Len(t, got, 1)
}
