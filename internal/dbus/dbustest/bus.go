// Package dbustest provides an in-process message bus for tests.
//
// Messages are routed between connections by destination, with the bus
// assigning serials and sender names the way a real bus daemon does. Every
// message passes through the godbus wire encoder and decoder, so bodies
// arrive with the same Go types a real connection would produce.
package dbustest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("dbustest: connection closed")

// Bus routes messages between its connections.
type Bus struct {
	mu     sync.Mutex
	next   int
	conns  map[string]*Conn
	owners map[string]*Conn
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		conns:  make(map[string]*Conn),
		owners: make(map[string]*Conn),
	}
}

// NewConn connects a new client to the bus.
func (b *Bus) NewConn() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	c := &Conn{
		bus:     b,
		name:    fmt.Sprintf(":1.%d", b.next),
		pending: make(map[uint32]chan *dbus.Message),
	}
	b.conns[c.name] = c
	return c
}

// Owner returns the unique name owning name, or "" if it is unowned.
func (b *Bus) Owner(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.owners[name]; ok {
		return c.name
	}
	return ""
}

func (b *Bus) lookup(dest string) *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.HasPrefix(dest, ":") {
		return b.conns[dest]
	}
	return b.owners[dest]
}

// route delivers msg to its destination. Calls to a missing destination fail
// with ServiceUnknown; replies to a vanished caller are dropped.
func (b *Bus) route(msg *dbus.Message) error {
	dest, _ := msg.Headers[dbus.FieldDestination].Value().(string)
	target := b.lookup(dest)
	if target == nil {
		if msg.Type == dbus.TypeMethodCall {
			return dbus.Error{
				Name: "org.freedesktop.DBus.Error.ServiceUnknown",
				Body: []any{fmt.Sprintf("The name %s was not provided by any .service files", dest)},
			}
		}
		return nil
	}
	target.deliver(msg)
	return nil
}

// Conn is one client connection to a Bus.
type Conn struct {
	bus  *Bus
	name string

	mu           sync.Mutex
	serial       uint32
	pending      map[uint32]chan *dbus.Message
	inbox        chan<- *dbus.Message
	matches      []string
	sent         []*dbus.Message
	requestNames int
	closed       bool
}

// UniqueName returns the connection's unique bus name.
func (c *Conn) UniqueName() string {
	return c.name
}

func (c *Conn) nextSerial() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	return c.serial
}

// deliver hands msg to a waiting Call when it answers one, otherwise to the
// subscribed channel. Like godbus, a full channel drops the message.
func (c *Conn) deliver(msg *dbus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if msg.Type == dbus.TypeMethodReply || msg.Type == dbus.TypeError {
		rs, _ := msg.Headers[dbus.FieldReplySerial].Value().(uint32)
		if ch, ok := c.pending[rs]; ok {
			delete(c.pending, rs)
			ch <- msg
			return
		}
	}
	if c.inbox == nil {
		return
	}
	select {
	case c.inbox <- msg:
	default:
	}
}

// Call implements dbus.Conn.
func (c *Conn) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, flags dbus.Flags, args ...any) ([]any, error) {
	i := strings.LastIndex(method, ".")
	if i < 0 {
		return nil, fmt.Errorf("dbustest: method %q has no interface", method)
	}
	msg := &dbus.Message{
		Type:  dbus.TypeMethodCall,
		Flags: flags,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldDestination: dbus.MakeVariant(dest),
			dbus.FieldPath:        dbus.MakeVariant(path),
			dbus.FieldInterface:   dbus.MakeVariant(method[:i]),
			dbus.FieldMember:      dbus.MakeVariant(method[i+1:]),
		},
		Body: args,
	}
	if len(args) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(args...))
	}

	sealed, err := c.seal(msg)
	if err != nil {
		return nil, err
	}

	done := make(chan *dbus.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[sealed.Serial()] = done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, sealed.Serial())
		c.mu.Unlock()
	}()

	if err := c.bus.route(sealed); err != nil {
		return nil, err
	}

	select {
	case reply := <-done:
		if reply.Type == dbus.TypeError {
			name, _ := reply.Headers[dbus.FieldErrorName].Value().(string)
			return nil, dbus.Error{Name: name, Body: reply.Body}
		}
		return reply.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements dbus.Conn. The sealed message, carrying the serial and
// sender assigned by the bus, is recorded for Sent.
func (c *Conn) Send(msg *dbus.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	sealed, err := c.seal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sent = append(c.sent, sealed)
	c.mu.Unlock()

	return c.bus.route(sealed)
}

// RequestName implements dbus.Conn. Queueing is not modelled: without
// NameFlagDoNotQueue a taken name reports InQueue but is never handed over.
func (c *Conn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	c.mu.Lock()
	c.requestNames++
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	switch owner := c.bus.owners[name]; {
	case owner == nil:
		c.bus.owners[name] = c
		return dbus.RequestNameReplyPrimaryOwner, nil
	case owner == c:
		return dbus.RequestNameReplyAlreadyOwner, nil
	case flags&dbus.NameFlagDoNotQueue != 0:
		return dbus.RequestNameReplyExists, nil
	default:
		return dbus.RequestNameReplyInQueue, nil
	}
}

// ReleaseName implements dbus.Conn.
func (c *Conn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	switch owner := c.bus.owners[name]; {
	case owner == nil:
		return dbus.ReleaseNameReplyNonExistent, nil
	case owner != c:
		return dbus.ReleaseNameReplyNotOwner, nil
	default:
		delete(c.bus.owners, name)
		return dbus.ReleaseNameReplyReleased, nil
	}
}

// AddMatch implements dbus.Conn. Rules are recorded, not enforced.
func (c *Conn) AddMatch(rule string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.matches = append(c.matches, rule)
	return nil
}

// Subscribe implements dbus.Conn.
func (c *Conn) Subscribe(ch chan<- *dbus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = ch
}

// Close implements dbus.Conn. Owned names are released and the subscribed
// channel is closed.
func (c *Conn) Close() error {
	c.bus.mu.Lock()
	for name, owner := range c.bus.owners {
		if owner == c {
			delete(c.bus.owners, name)
		}
	}
	delete(c.bus.conns, c.name)
	c.bus.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.inbox != nil {
		close(c.inbox)
		c.inbox = nil
	}
	return nil
}

// Sent returns the messages sent with Send, in order.
func (c *Conn) Sent() []*dbus.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*dbus.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// Matches returns the match rules added so far.
func (c *Conn) Matches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.matches))
	copy(out, c.matches)
	return out
}

// RequestNameCalls returns how many times RequestName was called.
func (c *Conn) RequestNameCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestNames
}

// seal stamps msg with this connection's sender name and a fresh serial and
// round-trips it through the wire format.
func (c *Conn) seal(msg *dbus.Message) (*dbus.Message, error) {
	return Seal(msg, c.name, c.nextSerial())
}

// Seal returns a copy of msg as a bus would deliver it: with sender and
// serial set, and with the body decoded from the wire format.
func Seal(msg *dbus.Message, sender string, serial uint32) (*dbus.Message, error) {
	m := &dbus.Message{
		Type:    msg.Type,
		Flags:   msg.Flags,
		Headers: make(map[dbus.HeaderField]dbus.Variant, len(msg.Headers)+1),
		Body:    msg.Body,
	}
	for k, v := range msg.Headers {
		m.Headers[k] = v
	}
	if sender != "" {
		m.Headers[dbus.FieldSender] = dbus.MakeVariant(sender)
	}

	var buf bytes.Buffer
	if err := m.EncodeTo(&buf, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("dbustest: failed to encode message: %w", err)
	}
	// The serial sits at a fixed offset in the header: byte order, type,
	// flags and version bytes, then the body length.
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[8:12], serial)

	out, err := dbus.DecodeMessage(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("dbustest: failed to decode message: %w", err)
	}
	return out, nil
}

// NewCall builds a sealed method call on path from sender, as a server
// would receive it.
func NewCall(sender string, serial uint32, path dbus.ObjectPath, iface, member string, args ...any) *dbus.Message {
	msg := &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:   dbus.MakeVariant(path),
			dbus.FieldMember: dbus.MakeVariant(member),
		},
		Body: args,
	}
	if iface != "" {
		msg.Headers[dbus.FieldInterface] = dbus.MakeVariant(iface)
	}
	if len(args) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(args...))
	}
	sealed, err := Seal(msg, sender, serial)
	if err != nil {
		panic(err)
	}
	return sealed
}
