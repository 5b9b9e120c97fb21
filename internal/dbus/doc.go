// Package dbus implements the org.freedesktop.Notifications D-Bus protocol:
// the startup probe for an already-running server, the dispatcher that routes
// raw method calls to protocol handlers, and the replies those handlers send
// back to callers. The bus transport itself is github.com/godbus/dbus/v5.
package dbus
