package dbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Conn is the part of a bus connection the notification server uses.
// *BusConn implements it on top of godbus; tests use dbustest.Conn.
type Conn interface {
	// Call performs a blocking method call and returns the reply body.
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, flags dbus.Flags, args ...any) ([]any, error)
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	AddMatch(rule string) error
	// Subscribe routes every incoming message to ch without further
	// processing. Passing nil restores normal processing, which is needed
	// before making further calls.
	Subscribe(ch chan<- *dbus.Message)
	// Send transmits a message without waiting for any reply.
	Send(msg *dbus.Message) error
	Close() error
}

// BusConn is a private connection to the session or system bus.
type BusConn struct {
	conn *dbus.Conn
}

// Connect opens a private connection to the system bus when system is true,
// otherwise to the session bus.
func Connect(system bool) (*BusConn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if system {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", BusKind(system), err)
	}
	return &BusConn{conn: conn}, nil
}

// BusKind names the bus selected by the system flag.
func BusKind(system bool) string {
	if system {
		return "system"
	}
	return "session"
}

// MatchRule returns the subscription filter for method calls addressed to
// ObjectPath, regardless of interface or member.
func MatchRule() string {
	return fmt.Sprintf("type='method_call',path='%s'", ObjectPath)
}

// Call implements Conn.
func (c *BusConn) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, flags dbus.Flags, args ...any) ([]any, error) {
	call := c.conn.Object(dest, path).CallWithContext(ctx, method, flags, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}

// RequestName implements Conn.
func (c *BusConn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return c.conn.RequestName(name, flags)
}

// ReleaseName implements Conn.
func (c *BusConn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	return c.conn.ReleaseName(name)
}

// AddMatch implements Conn.
func (c *BusConn) AddMatch(rule string) error {
	err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err
	if err != nil {
		return fmt.Errorf("failed to add match rule %q: %w", rule, err)
	}
	return nil
}

// Subscribe implements Conn using godbus eavesdropping, which hands over
// method calls unprocessed. Messages are dropped if ch is full.
func (c *BusConn) Subscribe(ch chan<- *dbus.Message) {
	c.conn.Eavesdrop(ch)
}

// Send implements Conn.
func (c *BusConn) Send(msg *dbus.Message) error {
	return c.conn.Send(msg, nil).Err
}

// UniqueName returns the connection's unique bus name.
func (c *BusConn) UniqueName() string {
	names := c.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Close implements Conn. The subscribed channel, if any, is closed.
func (c *BusConn) Close() error {
	return c.conn.Close()
}
