package daemon

import (
	godbus "github.com/godbus/dbus/v5"
)

// inbox sits between the bus connection and the dispatch loop. The
// connection drops messages once its channel is full, so a forwarding
// goroutine drains that channel as soon as anything arrives and holds the
// backlog in an unbounded FIFO until the loop is ready for it.
type inbox struct {
	in     chan *godbus.Message // handed to Conn.Subscribe
	out    chan *godbus.Message // read by the dispatch loop
	stopCh chan struct{}
	doneCh chan struct{}
}

// newInbox creates an inbox whose subscription channel holds size messages
// and starts its forwarding goroutine.
func newInbox(size int) *inbox {
	ib := &inbox{
		in:     make(chan *godbus.Message, size),
		out:    make(chan *godbus.Message),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go ib.forward()
	return ib
}

// Messages returns the channel the dispatch loop reads. It is closed once
// the subscription channel has been closed and the backlog delivered.
func (ib *inbox) Messages() <-chan *godbus.Message {
	return ib.out
}

// Stop ends forwarding, discarding any backlog, and waits for the
// forwarding goroutine to exit. It is safe to call more than once.
func (ib *inbox) Stop() {
	select {
	case <-ib.stopCh:
	default:
		close(ib.stopCh)
	}
	<-ib.doneCh
}

func (ib *inbox) forward() {
	defer close(ib.doneCh)
	defer close(ib.out)

	in := ib.in
	var backlog []*godbus.Message
	for in != nil || len(backlog) > 0 {
		var (
			out  chan *godbus.Message
			next *godbus.Message
		)
		if len(backlog) > 0 {
			out = ib.out
			next = backlog[0]
		}

		select {
		case <-ib.stopCh:
			return
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			backlog = append(backlog, msg)
		case out <- next:
			backlog[0] = nil
			backlog = backlog[1:]
		}
	}
}
