package dbus

import (
	"github.com/godbus/dbus/v5"
)

// Sender returns the unique name of the connection that sent msg.
func Sender(msg *dbus.Message) string {
	s, _ := msg.Headers[dbus.FieldSender].Value().(string)
	return s
}

// Member returns the member name of a method call or signal.
func Member(msg *dbus.Message) string {
	s, _ := msg.Headers[dbus.FieldMember].Value().(string)
	return s
}

// Path returns the object path a message is addressed to.
func Path(msg *dbus.Message) dbus.ObjectPath {
	p, _ := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)
	return p
}

// ReplySerial returns the serial of the call a reply answers, or 0.
func ReplySerial(msg *dbus.Message) uint32 {
	s, _ := msg.Headers[dbus.FieldReplySerial].Value().(uint32)
	return s
}

// NewMethodReturn builds a method return for call carrying values.
// The reply is addressed to the caller and correlated by serial.
func NewMethodReturn(call *dbus.Message, values ...any) *dbus.Message {
	reply := newReply(call, dbus.TypeMethodReply)
	reply.Body = values
	if len(values) > 0 {
		reply.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(values...))
	}
	return reply
}

// NewErrorReply builds an error reply for call.
func NewErrorReply(call *dbus.Message, e *dbus.Error) *dbus.Message {
	reply := newReply(call, dbus.TypeError)
	reply.Headers[dbus.FieldErrorName] = dbus.MakeVariant(e.Name)
	reply.Body = e.Body
	if len(e.Body) > 0 {
		reply.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(e.Body...))
	}
	return reply
}

func newReply(call *dbus.Message, typ dbus.Type) *dbus.Message {
	reply := &dbus.Message{
		Type:    typ,
		Headers: make(map[dbus.HeaderField]dbus.Variant),
	}
	if sender := Sender(call); sender != "" {
		reply.Headers[dbus.FieldDestination] = dbus.MakeVariant(sender)
	}
	reply.Headers[dbus.FieldReplySerial] = dbus.MakeVariant(call.Serial())
	return reply
}
