// Package notifytest provides bus subscribers for tests.
package notifytest

import "cacheful/internal/notify"

// Chan records events into a buffered channel. Events that do not fit are
// dropped so a test never blocks the publisher.
type Chan struct {
	C chan notify.Event
}

// NewChan returns a recorder with the given capacity (8 when <= 0).
func NewChan(buffer int) *Chan {
	if buffer <= 0 {
		buffer = 8
	}
	return &Chan{C: make(chan notify.Event, buffer)}
}

func (c *Chan) Notify(e notify.Event) {
	select {
	case c.C <- e:
	default:
	}
}

// Drain returns every buffered event without waiting.
func (c *Chan) Drain() []notify.Event {
	var out []notify.Event
	for {
		select {
		case e := <-c.C:
			out = append(out, e)
		default:
			return out
		}
	}
}
