package daemon

import (
	"strconv"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/notibus/internal/dbus"
)

func numberedCall(i int) *godbus.Message {
	return &godbus.Message{
		Type: godbus.TypeMethodCall,
		Headers: map[godbus.HeaderField]godbus.Variant{
			godbus.FieldMember: godbus.MakeVariant(strconv.Itoa(i)),
		},
	}
}

// fill pushes n messages into ib while nothing reads its output.
func fill(t *testing.T, ib *inbox, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case ib.in <- numberedCall(i):
		case <-time.After(time.Second):
			t.Fatalf("subscription channel blocked after %d messages", i)
		}
	}
}

func TestInboxKeepsBacklogInOrder(t *testing.T) {
	ib := newInbox(1)
	defer ib.Stop()

	const n = 10 * InboxSize
	fill(t, ib, n)
	close(ib.in)

	for i := 0; i < n; i++ {
		select {
		case msg, ok := <-ib.Messages():
			require.True(t, ok, "closed after %d messages", i)
			assert.Equal(t, strconv.Itoa(i), dbus.Member(msg))
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}

	_, ok := <-ib.Messages()
	assert.False(t, ok)
}

func TestInboxStopDiscardsBacklog(t *testing.T) {
	ib := newInbox(1)
	fill(t, ib, 5)

	ib.Stop()
	ib.Stop()

	for range ib.Messages() {
	}
}
