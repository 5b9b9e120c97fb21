package dbus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notifyBody() []any {
	return []any{
		"Mail",
		uint32(0),
		"mail-icon",
		"New message",
		"You have 2 unread items",
		[]string{"default", "Open"},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		int32(5000),
	}
}

func TestParseNotify(t *testing.T) {
	n, err := ParseNotify(notifyBody())
	require.NoError(t, err)

	assert.Equal(t, "Mail", n.AppName)
	assert.Equal(t, uint32(0), n.ReplacesID)
	assert.Equal(t, "mail-icon", n.AppIcon)
	assert.Equal(t, "New message", n.Summary)
	assert.Equal(t, "You have 2 unread items", n.Body)
	assert.Equal(t, []string{"default", "Open"}, n.Actions)
	assert.Contains(t, n.Hints, "urgency")
	assert.Equal(t, int32(5000), n.ExpireTimeout)
}

func TestParseNotifyLenient(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body []any) []any
		check  func(t *testing.T, n *Notification)
	}{
		{
			name:   "only required positions",
			mutate: func(body []any) []any { return body[:5] },
			check: func(t *testing.T, n *Notification) {
				assert.Equal(t, int32(-1), n.ExpireTimeout)
				assert.Nil(t, n.Actions)
				assert.Nil(t, n.Hints)
			},
		},
		{
			name: "wrong type replaces_id",
			mutate: func(body []any) []any {
				body[1] = "seven"
				return body
			},
			check: func(t *testing.T, n *Notification) {
				assert.Equal(t, uint32(0), n.ReplacesID)
				assert.Equal(t, "Mail", n.AppName)
			},
		},
		{
			name: "wrong type expire_timeout",
			mutate: func(body []any) []any {
				body[7] = uint32(10)
				return body
			},
			check: func(t *testing.T, n *Notification) {
				assert.Equal(t, int32(-1), n.ExpireTimeout)
			},
		},
		{
			name: "empty strings",
			mutate: func(body []any) []any {
				body[0], body[3], body[4] = "", "", ""
				return body
			},
			check: func(t *testing.T, n *Notification) {
				assert.Empty(t, n.AppName)
				assert.Empty(t, n.Summary)
				assert.Empty(t, n.Body)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNotify(tt.mutate(notifyBody()))
			require.NoError(t, err)
			tt.check(t, n)
		})
	}
}

func TestParseNotifyInvalid(t *testing.T) {
	tests := []struct {
		name string
		body []any
	}{
		{"empty", nil},
		{"too few", []any{"Mail", uint32(0), "", "summary"}},
		{"app_name not a string", []any{int32(1), uint32(0), "", "summary", "body"}},
		{"summary not a string", []any{"Mail", uint32(0), "", uint32(3), "body"}},
		{"body not a string", []any{"Mail", uint32(0), "", "summary", []string{"body"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotify(tt.body)
			assert.ErrorIs(t, err, ErrInvalidArgs)
		})
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		body     string
		expected int
	}{
		{"", 0},
		{"   ", 0},
		{"hello", 1},
		{"one two three four", 4},
		{"  tabs\tand\nnewlines  count ", 4},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			n := &Notification{Body: tt.body}
			assert.Equal(t, tt.expected, n.WordCount())
		})
	}
}

func TestParseServerInfo(t *testing.T) {
	info, err := parseServerInfo([]any{"dunst", "knopwob", "1.9.0", "1.2"})
	require.NoError(t, err)
	assert.Equal(t, ServerInfo{Name: "dunst", Vendor: "knopwob", Version: "1.9.0", SpecVersion: "1.2"}, info)
	assert.Equal(t, "dunst (knopwob) v1.9.0, spec 1.2", info.String())

	_, err = parseServerInfo([]any{"dunst", "knopwob", "1.9.0"})
	assert.ErrorIs(t, err, ErrMalformedPeer)

	_, err = parseServerInfo([]any{"dunst", "knopwob", uint32(1), "1.2"})
	assert.ErrorIs(t, err, ErrMalformedPeer)
}

func TestServerInfoValues(t *testing.T) {
	info := DefaultServerInfo()
	values := info.values()
	require.Len(t, values, 4)

	parsed, err := parseServerInfo(values)
	require.NoError(t, err)
	assert.Equal(t, info, parsed)
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{PeerAbsent, "peer-absent"},
		{PeerDetected, "peer-detected"},
		{Outcome(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.outcome.String())
		})
	}
}
