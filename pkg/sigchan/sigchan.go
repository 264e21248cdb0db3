// Package sigchan provides a non-blocking signal channel for waking a
// consumer without carrying data. Emitting into a full channel is a no-op,
// so producers never block and coalesced signals collapse into one wake.
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit signals the channel without blocking. If a signal is already
// pending the new one is dropped; the consumer will wake either way.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for select loops.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
