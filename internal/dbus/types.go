package dbus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	// BusName is the well-known name claimed by the notification server.
	BusName = "org.freedesktop.Notifications"
	// ObjectPath is the object path all notification calls are addressed to.
	ObjectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	// Interface is the notification interface name.
	Interface = "org.freedesktop.Notifications"
	// IntrospectableInterface is the standard introspection interface name.
	IntrospectableInterface = "org.freedesktop.DBus.Introspectable"

	// PlaceholderID is returned from every Notify call. Notification ids
	// are not tracked, so the same value is handed out regardless of input.
	PlaceholderID uint32 = 2
)

// Method names routed by the Dispatcher.
const (
	MethodGetServerInformation = "GetServerInformation"
	MethodGetCapabilities      = "GetCapabilities"
	MethodNotify               = "Notify"
	MethodCloseNotification    = "CloseNotification"
	MethodIntrospect           = "Introspect"
)

// D-Bus error names used in error replies.
const (
	ErrorInvalidArgs    = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorFailed         = "org.freedesktop.DBus.Error.Failed"
	ErrorServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrorUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
)

// ErrInvalidArgs is wrapped by argument decoding failures.
var ErrInvalidArgs = errors.New("invalid arguments")

// Notification represents an incoming Notify call.
// It contains the positional parameters of org.freedesktop.Notifications.Notify.
type Notification struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // -1 = server default, 0 = never expire
}

// ParseNotify decodes the arguments of a Notify(susssasa{sv}i) call.
//
// The app name, summary and body are required. The remaining positions are
// taken when present with the expected type and defaulted otherwise, since
// nothing downstream depends on them.
func ParseNotify(body []any) (*Notification, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("%w: Notify expects 8 arguments, got %d", ErrInvalidArgs, len(body))
	}

	n := &Notification{ExpireTimeout: -1}

	var err error
	if n.AppName, err = stringArg(body, 0, "app_name"); err != nil {
		return nil, err
	}
	if n.Summary, err = stringArg(body, 3, "summary"); err != nil {
		return nil, err
	}
	if n.Body, err = stringArg(body, 4, "body"); err != nil {
		return nil, err
	}

	if v, ok := body[1].(uint32); ok {
		n.ReplacesID = v
	}
	if v, ok := body[2].(string); ok {
		n.AppIcon = v
	}
	if len(body) > 5 {
		if v, ok := body[5].([]string); ok {
			n.Actions = v
		}
	}
	if len(body) > 6 {
		if v, ok := body[6].(map[string]dbus.Variant); ok {
			n.Hints = v
		}
	}
	if len(body) > 7 {
		if v, ok := body[7].(int32); ok {
			n.ExpireTimeout = v
		}
	}

	return n, nil
}

func stringArg(body []any, pos int, name string) (string, error) {
	s, ok := body[pos].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s (position %d) must be a string, got %T", ErrInvalidArgs, name, pos, body[pos])
	}
	return s, nil
}

// WordCount returns the number of whitespace-separated words in the body.
func (n *Notification) WordCount() int {
	return len(strings.Fields(n.Body))
}

// DefaultCapabilities lists the capabilities advertised by default.
var DefaultCapabilities = []string{
	"actions", // Accepts the actions argument
	"body",    // Shows body text
}

// ServerInfo contains information about the notification server.
type ServerInfo struct {
	Name        string
	Vendor      string
	Version     string
	SpecVersion string
}

// DefaultServerInfo returns the default server information.
func DefaultServerInfo() ServerInfo {
	return ServerInfo{
		Name:        "notibus",
		Vendor:      "jmylchreest",
		Version:     "dev",
		SpecVersion: "1.2",
	}
}

// values returns the GetServerInformation reply body.
func (i ServerInfo) values() []any {
	return []any{i.Name, i.Vendor, i.Version, i.SpecVersion}
}

// String returns a one-line description for logs and CLI output.
func (i ServerInfo) String() string {
	return fmt.Sprintf("%s (%s) v%s, spec %s", i.Name, i.Vendor, i.Version, i.SpecVersion)
}

// parseServerInfo decodes a GetServerInformation reply body.
func parseServerInfo(body []any) (ServerInfo, error) {
	if len(body) != 4 {
		return ServerInfo{}, fmt.Errorf("%w: expected 4 values, got %d", ErrMalformedPeer, len(body))
	}
	var fields [4]string
	for i, v := range body {
		s, ok := v.(string)
		if !ok {
			return ServerInfo{}, fmt.Errorf("%w: value %d is %T, not a string", ErrMalformedPeer, i, v)
		}
		fields[i] = s
	}
	return ServerInfo{
		Name:        fields[0],
		Vendor:      fields[1],
		Version:     fields[2],
		SpecVersion: fields[3],
	}, nil
}
