package workers

import (
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/protocol"
)

// outcome is the single terminal value of a pending call.
type outcome struct {
	payload protocol.Payload
	err     error
}

// pendingCall is one in-flight request on a handle, keyed by call id in the
// handle's pending map. Exactly one of resolve/reject/destroy terminates it;
// a second terminal call is a bookkeeping bug and panics.
//
// All terminal methods must be called with the owning handle's mutex held,
// after the call has been removed from the pending map.
type pendingCall struct {
	id         uint32
	done       chan outcome // buffered; terminal methods never block
	timer      *time.Timer
	terminated bool
}

func newPendingCall(id uint32) *pendingCall {
	return &pendingCall{
		id:   id,
		done: make(chan outcome, 1),
	}
}

// start arms the timeout timer. A timeout of zero or less means the call's
// duration is unbounded by design (mining, signing passes).
func (c *pendingCall) start(timeout time.Duration, onTimeout func()) {
	if timeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(timeout, onTimeout)
}

func (c *pendingCall) resolve(payload protocol.Payload) {
	c.terminate(outcome{payload: payload})
}

func (c *pendingCall) reject(err error) {
	c.terminate(outcome{err: err})
}

// destroy force-terminates the call when its handle dies underneath it.
func (c *pendingCall) destroy(err error) {
	c.terminate(outcome{err: err})
}

func (c *pendingCall) terminate(o outcome) {
	if c.terminated {
		panic(fmt.Sprintf("workers: pending call %d terminated twice", c.id))
	}
	c.terminated = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.done <- o
}
