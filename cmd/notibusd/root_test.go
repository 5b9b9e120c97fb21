package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/daemon"
	"github.com/jmylchreest/notibus/internal/dbus"
	"github.com/jmylchreest/notibus/internal/dbus/dbustest"
)

// resetFlags restores every flag of cmd and its children to its default,
// since the command tree is shared between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notibusd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigShowTOML(t *testing.T) {
	path := writeConfigFile(t, `
[duration]
policy = "word-count"
`)

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[renderer]")

	parsed, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, config.DurationWordCount, parsed.Duration.Policy)
	assert.Equal(t, config.DefaultCommand, parsed.Renderer.Command)
}

func TestConfigShowYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	out, err := execute(t, "--config", path, "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "command: hyprctl")
	assert.Contains(t, out, "fixed: 10s")
	assert.Contains(t, out, "system: false")
}

func TestConfigShowOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	out, err := execute(t, "--config", path, "--system", "--dry-run", "config", "show", "-f", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "system: true")
	assert.Contains(t, out, "kind: log")
}

func TestConfigShowUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	_, err := execute(t, "--config", path, "config", "show", "--format", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "json"`)
}

func TestConfigInvalidFile(t *testing.T) {
	path := writeConfigFile(t, `
[duration]
policy = "forever"
`)

	_, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestConfigInitRepairsInvalidFile(t *testing.T) {
	path := writeConfigFile(t, `
[duration]
policy = "forever"
`)

	out, err := execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DurationFixed, loaded.Duration.Policy)
}

func TestOverridesLeaveFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	_, err := execute(t, "--config", path, "--system", "--dry-run", "config", "show")
	require.NoError(t, err)

	assert.True(t, cfg.Bus.System)
	assert.Equal(t, config.RendererLog, cfg.Renderer.Kind)
	assert.Equal(t, config.DefaultDaemonConfig(), fileCfg)
}

type recordingReloader struct {
	mu      sync.Mutex
	configs []*config.DaemonConfig
	errs    []error
}

func (r *recordingReloader) Reload(c *config.DaemonConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, c)
}

func (r *recordingReloader) ReloadFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReloader) reloads() []*config.DaemonConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*config.DaemonConfig(nil), r.configs...)
}

func TestWatchConfigAppliesOverridesToCopies(t *testing.T) {
	content := "[renderer]\ncommand = \"notify-send\"\n"
	path := writeConfigFile(t, content)

	_, err := execute(t, "--config", path, "--dry-run", "config", "show")
	require.NoError(t, err)

	r := &recordingReloader{}
	w, err := watchConfig(context.Background(), configShowCmd.Flags(), r)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	// Rewriting the same content is not a change, overrides or not.
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	assert.Never(t, func() bool { return len(r.reloads()) > 0 },
		3*config.DefaultDebounce, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\ncommand = \"dunstify\"\n"), 0o600))
	require.Eventually(t, func() bool { return len(r.reloads()) == 1 },
		2*time.Second, 20*time.Millisecond)

	got := r.reloads()[0]
	assert.Equal(t, "dunstify", got.Renderer.Command)
	assert.Equal(t, config.RendererLog, got.Renderer.Kind)
	assert.Equal(t, config.RendererCommand, w.Current().Renderer.Kind)
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")

	out, err := execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notibus", "notibusd.toml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDaemonConfig(), loaded)

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestIntrospect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	out, err := execute(t, "--config", path, "introspect")
	require.NoError(t, err)
	assert.Contains(t, out, `<interface name="org.freedesktop.Notifications">`)
	assert.Contains(t, out, `<method name="Notify">`)
	assert.Contains(t, out, `<method name="Introspect">`)
}

func TestIntrospectDisabled(t *testing.T) {
	path := writeConfigFile(t, `
[server]
introspection = false
`)

	_, err := execute(t, "--config", path, "introspect")
	assert.ErrorContains(t, err, "introspection is disabled")
}

func TestSendRequiresArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	_, err := execute(t, "--config", path, "send", "Mail", "New message")
	assert.Error(t, err)
}

func TestBusFlagsApply(t *testing.T) {
	var b busFlags
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	b.AddFlags(flagSet)

	c := config.DefaultDaemonConfig()
	c.Bus.System = true
	require.NoError(t, flagSet.Parse(nil))
	b.Apply(c, flagSet)
	assert.True(t, c.Bus.System, "unset flag must not override the config file")

	require.NoError(t, flagSet.Parse([]string{"--system=false"}))
	b.Apply(c, flagSet)
	assert.False(t, c.Bus.System)
}

func TestPrintProbe(t *testing.T) {
	var buf bytes.Buffer
	printProbe(&buf, dbus.ProbeResult{
		Outcome: dbus.PeerDetected,
		Peer:    dbus.ServerInfo{Name: "dunst", Vendor: "knopwob", Version: "1.9.0", SpecVersion: "1.2"},
	})
	assert.Equal(t, "running: dunst (knopwob) v1.9.0, spec 1.2\n", buf.String())

	buf.Reset()
	printProbe(&buf, dbus.ProbeResult{Outcome: dbus.PeerAbsent, Reason: context.DeadlineExceeded})
	assert.Equal(t, "no server: context deadline exceeded\n", buf.String())
}

type recordingRenderer struct {
	mu  sync.Mutex
	got []*dbus.Notification
}

func (r *recordingRenderer) Render(_ context.Context, n *dbus.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingRenderer) notifications() []*dbus.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*dbus.Notification(nil), r.got...)
}

func TestSendNotification(t *testing.T) {
	bus := dbustest.NewBus()
	server := bus.NewConn()
	t.Cleanup(func() { _ = server.Close() })

	c := config.DefaultDaemonConfig()
	c.Bus.Probe = false
	c.Bus.PollInterval = config.Duration(20 * time.Millisecond)

	renderer := &recordingRenderer{}
	svc := daemon.NewService(server, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetRendererFactory(func(*config.DaemonConfig, *slog.Logger) (dbus.Renderer, error) {
		return renderer, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state, err := svc.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, daemon.StateServing, state)

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	client := bus.NewConn()
	id, err := sendNotification(context.Background(), client, &dbus.Notification{
		AppName:       "Mail",
		Summary:       "New message",
		Body:          "You have 2 unread items",
		Hints:         map[string]godbus.Variant{"urgency": godbus.MakeVariant(uint8(2))},
		ExpireTimeout: 3000,
	})
	require.NoError(t, err)
	assert.Equal(t, dbus.PlaceholderID, id)

	got := renderer.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "Mail", got[0].AppName)
	assert.Equal(t, "You have 2 unread items", got[0].Body)
	assert.Equal(t, int32(3000), got[0].ExpireTimeout)
	assert.Equal(t, byte(2), got[0].Hints["urgency"].Value())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestSendNotificationNoServer(t *testing.T) {
	client := dbustest.NewBus().NewConn()

	_, err := sendNotification(context.Background(), client, &dbus.Notification{AppName: "Mail"})
	require.Error(t, err)

	var dbusErr godbus.Error
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.ServiceUnknown", dbusErr.Name)
}
