package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/protocol"
)

var (
	// ErrCallTimeout rejects a call whose timer fired before its response.
	ErrCallTimeout = errors.New("workers: call timed out")

	// ErrHandleClosed rejects calls sent to (or outstanding on) a handle
	// whose process is gone.
	ErrHandleClosed = errors.New("workers: worker handle closed")
)

// Handle owns one worker process: the outbound encoder, the inbound frame
// stream, and the table of outstanding calls keyed by call id. Frames that
// carry a call id terminate the matching pending call; the rest are
// forwarded to the pool's notifier.
type Handle struct {
	slot     int
	proc     Process
	enc      *protocol.Encoder
	notifier Notifier
	onExit   func(slot int, h *Handle)
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	nextID  uint32
	closed  bool
}

// newHandle spawns a worker process into the given slot and sends the
// env-init handshake before any job traffic. The handshake is
// fire-and-forget: frames on one pipe are delivered in write order, so the
// worker is guaranteed to see it first.
func newHandle(slot int, spawner Spawner, env *protocol.EnvInit, notifier Notifier, onExit func(int, *Handle)) (*Handle, error) {
	proc, err := spawner.Spawn()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		slot:     slot,
		proc:     proc,
		enc:      protocol.NewEncoder(proc),
		notifier: notifier,
		onExit:   onExit,
		logger:   log.WithComponent("workers").With("slot", slot),
		pending:  make(map[uint32]*pendingCall),
	}

	if err := h.enc.Encode(0, env); err != nil {
		_ = proc.Kill()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	go h.run()

	notifier.HandleSpawned(slot)
	return h, nil
}

// Slot returns the handle's slot index.
func (h *Handle) Slot() int { return h.slot }

// InFlight returns the number of outstanding calls.
func (h *Handle) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// execute sends one request and blocks until its pending call terminates.
// A timeout of zero or less means no timeout. Cancelling ctx rejects the
// call locally; the worker keeps computing until its next job.
func (h *Handle) execute(ctx context.Context, req protocol.Payload, timeout time.Duration) (protocol.Payload, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHandleClosed
	}
	id := h.allocIDLocked()
	pc := newPendingCall(id)
	h.pending[id] = pc
	pc.start(timeout, func() {
		h.failCall(id, fmt.Errorf("%w after %s", ErrCallTimeout, timeout))
	})
	h.mu.Unlock()

	if err := h.enc.Encode(id, req); err != nil {
		h.failCall(id, err)
	}

	select {
	case o := <-pc.done:
		return o.payload, o.err
	case <-ctx.Done():
		h.failCall(id, ctx.Err())
		// The response may have won the race; either way done carries
		// exactly one outcome.
		o := <-pc.done
		return o.payload, o.err
	}
}

// allocIDLocked assigns the next call id. Ids only need to be unique among
// this handle's outstanding calls; a collision means the counter lapped
// billions of still-pending calls, which is a programming error, not a
// recoverable condition.
func (h *Handle) allocIDLocked() uint32 {
	h.nextID++
	id := h.nextID
	if _, exists := h.pending[id]; exists {
		panic(fmt.Sprintf("workers: call id %d collision on slot %d", id, h.slot))
	}
	return id
}

// failCall rejects one outstanding call. A miss is fine: the response (or
// another terminator) won the race.
func (h *Handle) failCall(id uint32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.pending[id]
	if !ok {
		return
	}
	delete(h.pending, id)
	pc.reject(err)
}

// sendEvent writes an out-of-band event frame (no call id).
func (h *Handle) sendEvent(name string, args map[string]any) error {
	return h.enc.Encode(0, &protocol.Event{Name: name, Args: args})
}

// run owns the process lifetime: it drains the frame stream first and only
// then reaps the process. Reaping while the stream is still being read could
// discard a final response frame written just before exit.
func (h *Handle) run() {
	h.readLoop()
	code := h.proc.Wait()
	h.forceClose(fmt.Errorf("worker exited with code %d", code))
	h.notifier.HandleExited(h.slot, code)
	if h.onExit != nil {
		h.onExit(h.slot, h)
	}
}

func (h *Handle) readLoop() {
	dec := protocol.NewDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, err := h.proc.Stdout().Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			for _, f := range frames {
				h.dispatch(f)
			}
			if derr != nil {
				h.violation(derr)
				return
			}
		}
		if err != nil {
			// EOF or broken pipe; run reaps the process next.
			return
		}
	}
}

// dispatch routes one decoded frame. Payload kinds form a closed set: log
// and event frames go up to the notifier, everything else must name an
// outstanding call.
func (h *Handle) dispatch(f protocol.Frame) {
	switch p := f.Payload.(type) {
	case *protocol.Log:
		h.notifier.WorkerLog(h.slot, p.Level, p.Message)
	case *protocol.Event:
		h.notifier.WorkerEvent(h.slot, p.Name, p.Args)
	case *protocol.ErrorResult:
		if !h.completeCall(f.ID, nil, errors.New(p.Message)) {
			h.violation(fmt.Errorf("error result for unknown call id %d", f.ID))
		}
	case *protocol.EnvInit, *protocol.CheckTx, *protocol.SignTx, *protocol.CheckInput,
		*protocol.SignInput, *protocol.VerifySig, *protocol.Sign, *protocol.Mine,
		*protocol.DeriveKey:
		h.violation(fmt.Errorf("unexpected %s frame from worker", f.Payload.Kind()))
	default:
		if !h.completeCall(f.ID, f.Payload, nil) {
			h.violation(fmt.Errorf("%s result for unknown call id %d", f.Payload.Kind(), f.ID))
		}
	}
}

// completeCall terminates the pending call named by id. Returns false when
// no such call is outstanding (late or duplicate response).
func (h *Handle) completeCall(id uint32, payload protocol.Payload, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.pending[id]
	if !ok {
		return false
	}
	delete(h.pending, id)
	if err != nil {
		pc.reject(err)
	} else {
		pc.resolve(payload)
	}
	return true
}

// violation handles a protocol-level failure: the stream is no longer
// trustworthy, so every outstanding call is rejected and the process is
// terminated. The pool frees the slot through the ordinary exit path.
func (h *Handle) violation(err error) {
	err = fmt.Errorf("protocol violation on slot %d: %w", h.slot, err)
	h.logger.Error("worker protocol violation", "error", err)
	h.notifier.HandleError(h.slot, err)
	h.forceClose(err)
	_ = h.proc.Kill()
}

// forceClose marks the handle closed and destroys every outstanding call.
// Safe to call from multiple paths; only the first wins.
func (h *Handle) forceClose(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, pc := range h.pending {
		delete(h.pending, id)
		pc.destroy(fmt.Errorf("%w: %v", ErrHandleClosed, cause))
	}
}

// destroy terminates the worker. Outstanding calls are rejected here
// synchronously rather than waiting on the exit event, so callers are never
// left hanging if the exit never surfaces.
func (h *Handle) destroy() {
	h.forceClose(errors.New("handle destroyed"))
	_ = h.proc.Kill()
}
