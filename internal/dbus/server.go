package dbus

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/oklog/ulid/v2"
)

// Renderer displays a notification. Render is called synchronously from the
// dispatching goroutine, so a slow renderer delays every later call.
type Renderer interface {
	Render(ctx context.Context, n *Notification) error
}

// UnknownPolicy decides what happens to calls for members the server does
// not implement.
type UnknownPolicy string

const (
	// UnknownIgnore acknowledges unknown calls without any reply.
	UnknownIgnore UnknownPolicy = "ignore"
	// UnknownAck answers unknown calls with an empty method return.
	UnknownAck UnknownPolicy = "ack"
)

// Options configures the protocol surface of a Dispatcher.
type Options struct {
	ServerInfo    ServerInfo
	Capabilities  []string
	Introspection bool
	UnknownPolicy UnknownPolicy
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ServerInfo:    DefaultServerInfo(),
		Capabilities:  slices.Clone(DefaultCapabilities),
		Introspection: true,
		UnknownPolicy: UnknownIgnore,
	}
}

// Dispatcher routes org.freedesktop.Notifications method calls to their
// handlers and sends the replies.
//
// A Dispatcher is owned by a single goroutine: Dispatch, Configure and
// SetRenderer must not be called concurrently.
type Dispatcher struct {
	conn     Conn
	renderer Renderer
	logger   *slog.Logger

	opts   Options
	routes map[string]route
	xml    string
}

type route struct {
	spec   methodSpec
	handle handlerFunc
}

// request is a single method call being handled.
type request struct {
	msg    *dbus.Message
	logger *slog.Logger
}

type handlerFunc func(ctx context.Context, req *request) ([]any, *dbus.Error)

// NewDispatcher creates a Dispatcher that replies over conn and hands
// notifications to renderer, which may be nil.
func NewDispatcher(conn Conn, renderer Renderer, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		conn:     conn,
		renderer: renderer,
		logger:   logger,
	}
	if err := d.Configure(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure replaces the protocol options and rebuilds the route table.
func (d *Dispatcher) Configure(opts Options) error {
	if opts.UnknownPolicy == "" {
		opts.UnknownPolicy = UnknownIgnore
	}
	if opts.Capabilities == nil {
		opts.Capabilities = []string{}
	}

	handlers := map[string]handlerFunc{
		MethodGetServerInformation: d.getServerInformation,
		MethodGetCapabilities:      d.getCapabilities,
		MethodNotify:               d.notify,
		MethodCloseNotification:    d.closeNotification,
		MethodIntrospect:           d.introspect,
	}

	var specs []methodSpec
	routes := make(map[string]route)
	for _, s := range methodSpecs() {
		if s.method.Name == MethodIntrospect && !opts.Introspection {
			continue
		}
		specs = append(specs, s)
		routes[s.method.Name] = route{spec: s, handle: handlers[s.method.Name]}
	}

	doc, err := introspectionXML(specs)
	if err != nil {
		return err
	}

	d.opts = opts
	d.routes = routes
	d.xml = doc
	return nil
}

// SetRenderer replaces the renderer used by Notify.
func (d *Dispatcher) SetRenderer(r Renderer) {
	d.renderer = r
}

// Renderer returns the current renderer.
func (d *Dispatcher) Renderer() Renderer {
	return d.renderer
}

// Members returns the routed member names, sorted.
func (d *Dispatcher) Members() []string {
	members := make([]string, 0, len(d.routes))
	for m := range d.routes {
		members = append(members, m)
	}
	slices.Sort(members)
	return members
}

// IntrospectionXML returns the document served by Introspect.
func (d *Dispatcher) IntrospectionXML() string {
	return d.xml
}

// Dispatch handles a single incoming message. Method calls on ObjectPath
// are routed by member name, method calls on any other path get an
// UnknownObject error, and everything else is skipped. The return value
// tells the caller whether to keep processing and is always true.
//
// Every routed call that expects a reply gets exactly one, an error reply
// when decoding or handling fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *dbus.Message) bool {
	if msg.Type != dbus.TypeMethodCall {
		return true
	}
	if path := Path(msg); path != ObjectPath {
		d.unknownObject(msg, path)
		return true
	}

	member := Member(msg)
	req := &request{
		msg: msg,
		logger: d.logger.With(
			"call_id", newCallID(),
			"member", member,
			"sender", Sender(msg),
			"serial", msg.Serial(),
		),
	}
	req.logger.Debug("method call received")

	r, ok := d.routes[member]
	if !ok {
		d.unknown(req)
		return true
	}

	body, dbusErr := d.invoke(ctx, r, req)
	if msg.Flags&dbus.FlagNoReplyExpected != 0 {
		req.logger.Debug("caller expects no reply")
		return true
	}

	if dbusErr != nil {
		req.logger.Warn("replying with error", "error_name", dbusErr.Name, "error", dbusErr)
		d.send(req, NewErrorReply(msg, dbusErr))
		return true
	}
	d.send(req, NewMethodReturn(msg, body...))
	return true
}

// invoke runs a handler, turning a panic into a Failed error so that the
// caller still gets a reply.
func (d *Dispatcher) invoke(ctx context.Context, r route, req *request) (body []any, dbusErr *dbus.Error) {
	defer func() {
		if p := recover(); p != nil {
			req.logger.Error("handler panicked", "panic", p)
			body = nil
			dbusErr = dbus.MakeFailedError(fmt.Errorf("internal error while handling %s", r.spec.method.Name))
		}
	}()
	return r.handle(ctx, req)
}

func (d *Dispatcher) unknown(req *request) {
	switch d.opts.UnknownPolicy {
	case UnknownAck:
		req.logger.Debug("acknowledging unknown method")
		if req.msg.Flags&dbus.FlagNoReplyExpected == 0 {
			d.send(req, NewMethodReturn(req.msg))
		}
	default:
		req.logger.Debug("ignoring unknown method")
	}
}

// unknownObject answers a call for a path nothing is exported on.
func (d *Dispatcher) unknownObject(msg *dbus.Message, path dbus.ObjectPath) {
	req := &request{
		msg:    msg,
		logger: d.logger.With("member", Member(msg), "sender", Sender(msg), "path", string(path)),
	}
	req.logger.Debug("call for unknown object")
	if msg.Flags&dbus.FlagNoReplyExpected != 0 {
		return
	}
	d.send(req, NewErrorReply(msg, dbus.NewError(ErrorUnknownObject, []any{
		fmt.Sprintf("No such object path '%s'", path),
	})))
}

// send delivers a reply. Failures are logged and otherwise ignored.
func (d *Dispatcher) send(req *request, reply *dbus.Message) bool {
	if err := d.conn.Send(reply); err != nil {
		req.logger.Warn("failed to send reply", "error", err)
		return false
	}
	req.logger.Debug("reply sent", "type", reply.Type.String())
	return true
}

// getServerInformation handles GetServerInformation() -> (ssss).
func (d *Dispatcher) getServerInformation(_ context.Context, _ *request) ([]any, *dbus.Error) {
	return d.opts.ServerInfo.values(), nil
}

// getCapabilities handles GetCapabilities() -> as.
func (d *Dispatcher) getCapabilities(_ context.Context, _ *request) ([]any, *dbus.Error) {
	return []any{d.opts.Capabilities}, nil
}

// notify handles Notify(susssasa{sv}i) -> u.
func (d *Dispatcher) notify(ctx context.Context, req *request) ([]any, *dbus.Error) {
	n, err := ParseNotify(req.msg.Body)
	if err != nil {
		return nil, dbus.NewError(ErrorInvalidArgs, []any{err.Error()})
	}

	req.logger.Info("notification received",
		"app_name", n.AppName,
		"summary", n.Summary,
		"expire_timeout", n.ExpireTimeout,
	)

	if d.renderer != nil {
		start := time.Now()
		if err := d.renderer.Render(ctx, n); err != nil {
			req.logger.Error("failed to render notification", "error", err, "elapsed", time.Since(start))
		} else {
			req.logger.Debug("notification rendered", "elapsed", time.Since(start))
		}
	}

	return []any{PlaceholderID}, nil
}

// closeNotification handles CloseNotification(u). Nothing is tracked, so
// there is nothing to close.
func (d *Dispatcher) closeNotification(_ context.Context, req *request) ([]any, *dbus.Error) {
	if len(req.msg.Body) > 0 {
		if id, ok := req.msg.Body[0].(uint32); ok {
			req.logger.Debug("close requested", "id", id)
		}
	}
	return nil, nil
}

// introspect handles org.freedesktop.DBus.Introspectable.Introspect() -> s.
func (d *Dispatcher) introspect(_ context.Context, _ *request) ([]any, *dbus.Error) {
	return []any{d.xml}, nil
}

// newCallID returns a sortable id used to correlate log lines of one call.
func newCallID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
