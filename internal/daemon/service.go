package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	godbus "github.com/godbus/dbus/v5"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/dbus"
	"github.com/jmylchreest/notibus/internal/render"
)

// InboxSize is the capacity of the channel the bus connection delivers
// incoming messages on. It is drained continuously into an unbounded
// backlog, so it only has to absorb scheduling delays.
const InboxSize = 64

var (
	// ErrNameTaken is returned when the bus refuses to make us the primary
	// owner of the notification name.
	ErrNameTaken = errors.New("notification service name is owned by another connection")
	// ErrConnectionClosed is returned by Run when the bus connection goes away.
	ErrConnectionClosed = errors.New("bus connection closed")
)

// State is the lifecycle state of a Service.
type State int

const (
	// StateProbing is the initial state, before the name has been claimed.
	StateProbing State = iota
	// StateServing means the name is owned and calls are being dispatched.
	StateServing
	// StateYielded means another server was detected and nothing was claimed.
	StateYielded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateServing:
		return "serving"
	case StateYielded:
		return "yielded"
	default:
		return "unknown"
	}
}

// RendererFactory creates the renderer for a configuration.
type RendererFactory func(cfg *config.DaemonConfig, logger *slog.Logger) (dbus.Renderer, error)

// reloadEvent carries either a new configuration or the reason a reload failed.
type reloadEvent struct {
	cfg *config.DaemonConfig
	err error
}

// Service owns the bus name and the dispatch loop.
//
// Start and Run must be called from the same goroutine, which then owns the
// dispatcher and renderer. Reload, ReloadFailed and State are safe to call
// from any goroutine.
type Service struct {
	mu     sync.RWMutex
	state  State
	logger *slog.Logger

	conn         dbus.Conn
	cfg          *config.DaemonConfig
	buildVersion string
	newRenderer  RendererFactory

	dispatcher *dbus.Dispatcher
	notifier   *InternalNotifier
	inbox      *inbox
	reloads    chan reloadEvent

	startedAt time.Time
	handled   uint64
}

// NewService creates a Service that serves over conn using cfg.
func NewService(conn dbus.Conn, cfg *config.DaemonConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultDaemonConfig()
	}
	return &Service{
		logger:       logger,
		conn:         conn,
		cfg:          cfg,
		buildVersion: "dev",
		newRenderer:  render.New,
		notifier:     NewInternalNotifier(logger),
		reloads:      make(chan reloadEvent, 1),
	}
}

// SetBuildVersion sets the version reported when the config leaves it empty.
func (s *Service) SetBuildVersion(version string) {
	s.buildVersion = version
}

// SetRendererFactory replaces the function used to build renderers.
func (s *Service) SetRendererFactory(f RendererFactory) {
	s.newRenderer = f
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Dispatcher returns the dispatcher built by Start, or nil before that.
func (s *Service) Dispatcher() *dbus.Dispatcher {
	return s.dispatcher
}

// Options builds the dispatcher options for cfg.
func Options(cfg *config.DaemonConfig, buildVersion string) dbus.Options {
	version := cfg.Server.Version
	if version == "" {
		version = buildVersion
	}
	return dbus.Options{
		ServerInfo: dbus.ServerInfo{
			Name:        cfg.Server.Name,
			Vendor:      cfg.Server.Vendor,
			Version:     version,
			SpecVersion: cfg.Server.SpecVersion,
		},
		Capabilities:  cfg.Server.Capabilities,
		Introspection: cfg.Server.Introspection,
		UnknownPolicy: dbus.UnknownPolicy(cfg.Bus.UnknownMethods),
	}
}

// Start probes for another notification server and, if none answers,
// claims the name and subscribes to calls. It returns StateYielded without
// touching the name when a peer is detected.
func (s *Service) Start(ctx context.Context) (State, error) {
	s.setState(StateProbing)

	renderer, err := s.newRenderer(s.cfg, s.logger)
	if err != nil {
		return StateProbing, fmt.Errorf("failed to create renderer: %w", err)
	}
	d, err := dbus.NewDispatcher(s.conn, renderer, Options(s.cfg, s.buildVersion), s.logger)
	if err != nil {
		return StateProbing, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	s.dispatcher = d
	s.notifier.SetNotifyHandler(s.renderInternal)
	s.notifier.SetEnabled(s.cfg.Server.InternalNotifications)

	if s.cfg.Bus.Probe {
		res := dbus.Probe(ctx, s.conn, s.cfg.Bus.ProbeTimeout.Duration())
		if res.Outcome == dbus.PeerDetected {
			s.logger.Info("notification server already running, yielding", "peer", res.Peer.String())
			s.setState(StateYielded)
			return StateYielded, nil
		}
		s.logger.Debug("no notification server answered", "outcome", res.Outcome.String(), "reason", res.Reason)
	}

	reply, err := s.conn.RequestName(dbus.BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return StateProbing, fmt.Errorf("failed to request name %s: %w", dbus.BusName, err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner && reply != godbus.RequestNameReplyAlreadyOwner {
		return StateProbing, fmt.Errorf("%w: %s (reply %d)", ErrNameTaken, dbus.BusName, reply)
	}

	if err := s.conn.AddMatch(dbus.MatchRule()); err != nil {
		s.releaseName()
		return StateProbing, fmt.Errorf("failed to subscribe to %s: %w", dbus.ObjectPath, err)
	}

	s.inbox = newInbox(InboxSize)
	s.conn.Subscribe(s.inbox.in)

	s.startedAt = time.Now()
	s.setState(StateServing)
	s.logger.Info("serving notifications", "name", dbus.BusName, "methods", d.Members())
	s.notifier.NotifyStartup(ctx, Options(s.cfg, s.buildVersion).ServerInfo.Version)
	return StateServing, nil
}

// Run dispatches incoming calls one at a time, in delivery order, until ctx
// is cancelled or the connection closes. On cancellation the name is
// released and nil is returned.
func (s *Service) Run(ctx context.Context) error {
	if s.State() != StateServing {
		return fmt.Errorf("cannot run in state %s", s.State())
	}

	for {
		if err := s.process(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.shutdown()
				return nil
			}
			return err
		}
	}
}

// process waits at most one poll interval for something to do and does it.
func (s *Service) process(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.Bus.PollInterval.Duration())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()

	case ev := <-s.reloads:
		s.applyReload(ctx, ev)
		return nil

	case msg, ok := <-s.inbox.Messages():
		if !ok {
			return ErrConnectionClosed
		}
		s.dispatcher.Dispatch(ctx, msg)
		s.handled++
		return nil

	case <-timer.C:
		return nil
	}
}

func (s *Service) shutdown() {
	s.conn.Subscribe(nil)
	s.inbox.Stop()
	s.releaseName()
	s.logger.Info("stopped serving",
		"handled", humanize.Comma(int64(s.handled)),
		"started", humanize.Time(s.startedAt),
	)
}

func (s *Service) releaseName() {
	reply, err := s.conn.ReleaseName(dbus.BusName)
	if err != nil {
		s.logger.Warn("failed to release name", "name", dbus.BusName, "error", err)
		return
	}
	if reply != godbus.ReleaseNameReplyReleased {
		s.logger.Debug("name was not released", "name", dbus.BusName, "reply", reply)
	}
}

// Reload queues cfg to be applied between messages. Only the most recent
// pending configuration is kept.
func (s *Service) Reload(cfg *config.DaemonConfig) {
	s.queue(reloadEvent{cfg: cfg})
}

// ReloadFailed reports a configuration that could not be loaded.
func (s *Service) ReloadFailed(err error) {
	s.queue(reloadEvent{err: err})
}

func (s *Service) queue(ev reloadEvent) {
	for {
		select {
		case s.reloads <- ev:
			return
		default:
		}
		select {
		case <-s.reloads:
		default:
		}
	}
}

func (s *Service) applyReload(ctx context.Context, ev reloadEvent) {
	if ev.err != nil {
		s.notifier.NotifyConfigError(ctx, ev.err)
		return
	}
	if err := s.applyConfig(ev.cfg); err != nil {
		s.logger.Error("failed to apply configuration, keeping current", "error", err)
		s.notifier.NotifyConfigError(ctx, err)
		return
	}
	s.notifier.NotifyConfigReloaded(ctx)
}

// applyConfig swaps in the renderer and protocol options of next. Bus
// settings that are only read at startup keep their current values.
func (s *Service) applyConfig(next *config.DaemonConfig) error {
	if s.cfg.RestartRequired(next) {
		s.logger.Warn("bus settings changed, restart required for them to take effect")
	}

	renderer, err := s.newRenderer(next, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	if err := s.dispatcher.Configure(Options(next, s.buildVersion)); err != nil {
		return err
	}
	s.dispatcher.SetRenderer(renderer)

	applied := *next
	applied.Bus.System = s.cfg.Bus.System
	applied.Bus.Probe = s.cfg.Bus.Probe
	applied.Bus.ProbeTimeout = s.cfg.Bus.ProbeTimeout
	s.cfg = &applied

	s.notifier.SetEnabled(applied.Server.InternalNotifications)
	s.logger.Info("configuration applied", "renderer", applied.Renderer.Kind, "duration_policy", applied.Duration.Policy)
	return nil
}

// renderInternal displays a notification generated by the daemon itself.
func (s *Service) renderInternal(ctx context.Context, n *dbus.Notification) {
	r := s.dispatcher.Renderer()
	if r == nil {
		return
	}
	if err := r.Render(ctx, n); err != nil {
		s.logger.Warn("failed to render internal notification", "summary", n.Summary, "error", err)
	}
}
