package dbus

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"
)

// DefaultProbeTimeout bounds the startup GetServerInformation call.
const DefaultProbeTimeout = 500 * time.Millisecond

// ErrMalformedPeer indicates the current name owner answered the probe with
// something other than four strings.
var ErrMalformedPeer = errors.New("malformed GetServerInformation reply")

// Outcome is the result of probing for another notification server.
type Outcome int

const (
	// PeerAbsent means no usable server answered; the name can be claimed.
	PeerAbsent Outcome = iota
	// PeerDetected means another server answered and must be left alone.
	PeerDetected
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case PeerAbsent:
		return "peer-absent"
	case PeerDetected:
		return "peer-detected"
	default:
		return "unknown"
	}
}

// ProbeResult carries the probe outcome. Peer is set when a server was
// detected; Reason explains why it was considered absent.
type ProbeResult struct {
	Outcome Outcome
	Peer    ServerInfo
	Reason  error
}

// Probe asks the current owner of BusName, if any, for its server
// information. Any failure, including a timeout or a malformed reply, is
// reported as PeerAbsent rather than as an error.
//
// The call carries NoAutoStart so that probing never activates another
// daemon through a bus service file.
func Probe(ctx context.Context, conn Conn, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := conn.Call(ctx, BusName, ObjectPath, Interface+"."+MethodGetServerInformation, dbus.FlagNoAutoStart)
	if err != nil {
		return ProbeResult{Outcome: PeerAbsent, Reason: err}
	}

	info, err := parseServerInfo(body)
	if err != nil {
		return ProbeResult{Outcome: PeerAbsent, Reason: err}
	}
	return ProbeResult{Outcome: PeerDetected, Peer: info}
}
