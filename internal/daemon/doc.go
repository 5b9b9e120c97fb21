// Package daemon runs notibusd: it probes for a running notification
// server, claims org.freedesktop.Notifications when there is none, and
// dispatches calls from a single goroutine while applying configuration
// reloads between messages.
package daemon
