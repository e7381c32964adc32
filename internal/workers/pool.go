// Package workers supervises a bounded pool of worker processes that execute
// CPU-bound jobs over a framed stdio protocol. Calls are assigned to slots by
// round robin, workers are spawned lazily and respawned after a crash, and
// when the pool is disabled every job runs in-process through the same entry
// points the worker binary uses.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/chain"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/joblog"
	"github.com/quarrylabs/quarry/internal/jobs"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/protocol"
)

// DefaultTimeout selects the pool's configured default timeout for a call.
const DefaultTimeout time.Duration = -1

// ErrPoolClosed rejects calls issued after Close.
var ErrPoolClosed = errors.New("workers: pool closed")

// Options are the pool's optional collaborators.
type Options struct {
	// Spawner creates worker processes. Nil with an enabled config selects
	// the exec spawner for the configured worker binary.
	Spawner Spawner

	// Notifier receives pool-level notifications. Nil means discard.
	Notifier Notifier

	// JobLog, when set, journals every completed call.
	JobLog *joblog.Store
}

// Pool owns up to Size worker handles indexed 0..Size-1.
type Pool struct {
	cfg      config.WorkersConfig
	network  string
	session  string
	spawner  Spawner
	notifier Notifier
	journal  *joblog.Store
	logger   *slog.Logger

	mu      sync.Mutex
	slots   []*Handle
	counter uint64
	closed  bool
}

// New validates the configuration and returns a pool. No worker is spawned
// until its slot is first allocated.
func New(cfg config.WorkersConfig, network string, opts Options) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	spawner := opts.Spawner
	if spawner == nil && cfg.IsEnabled() {
		spawner = NewExecSpawner(cfg.Exec)
	}
	if !cfg.IsEnabled() {
		spawner = nil
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	p := &Pool{
		cfg:      cfg,
		network:  network,
		session:  uuid.NewString(),
		spawner:  spawner,
		notifier: notifier,
		journal:  opts.JobLog,
		logger:   log.WithComponent("workers"),
		slots:    make([]*Handle, cfg.Size),
	}
	p.logger.Info("worker pool configured",
		"size", cfg.Size, "enabled", spawner != nil, "exec", cfg.Exec)
	return p, nil
}

// Size returns the configured slot count.
func (p *Pool) Size() int { return p.cfg.Size }

// SlotStatus describes one slot for observers.
type SlotStatus struct {
	Slot     int  `json:"slot"`
	Spawned  bool `json:"spawned"`
	InFlight int  `json:"in_flight"`
}

// Status snapshots the pool for the status API.
type Status struct {
	Size     int          `json:"size"`
	Enabled  bool         `json:"enabled"`
	Network  string       `json:"network"`
	Session  string       `json:"session"`
	Allocs   uint64       `json:"allocs"`
	Slots    []SlotStatus `json:"slots"`
	InFlight int          `json:"in_flight"`
}

// Status returns a point-in-time snapshot.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Size:    p.cfg.Size,
		Enabled: p.spawner != nil,
		Network: p.network,
		Session: p.session,
		Allocs:  p.counter,
		Slots:   make([]SlotStatus, len(p.slots)),
	}
	for i, h := range p.slots {
		st.Slots[i] = SlotStatus{Slot: i}
		if h != nil {
			st.Slots[i].Spawned = true
			st.Slots[i].InFlight = h.InFlight()
			st.InFlight += st.Slots[i].InFlight
		}
	}
	return st
}

// execute routes one request: fallback in-process when workers are
// unavailable, otherwise round-robin to a handle. timeout DefaultTimeout
// resolves to the configured default; zero or less means no timeout.
func (p *Pool) execute(ctx context.Context, req protocol.Payload, timeout time.Duration) (protocol.Payload, error) {
	start := time.Now()

	var res protocol.Payload
	var err error
	slot := -1

	if p.spawner == nil {
		res, err = p.executeFallback(ctx, req)
	} else {
		if timeout == DefaultTimeout {
			timeout = p.cfg.Timeout
		}
		var h *Handle
		h, err = p.alloc()
		if err == nil {
			slot = h.Slot()
			res, err = h.execute(ctx, req, timeout)
		}
	}

	p.record(req.Kind(), slot, time.Since(start), err)
	return res, err
}

// executeFallback runs the job in-process on a fresh goroutine so the call
// completes asynchronously and the signature stays uniform with the worker
// path.
func (p *Pool) executeFallback(ctx context.Context, req protocol.Payload) (protocol.Payload, error) {
	done := make(chan outcome, 1)
	go func() {
		res, err := jobs.Execute(req)
		done <- outcome{payload: res, err: err}
	}()

	select {
	case o := <-done:
		return o.payload, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// alloc picks a slot by round robin, spawning a worker if the slot is
// unpopulated. A slot vacated by a crashed worker respawns transparently on
// its next allocation.
func (p *Pool) alloc() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	slot := int(p.counter % uint64(len(p.slots)))
	p.counter++

	if h := p.slots[slot]; h != nil {
		return h, nil
	}

	h, err := newHandle(slot, p.spawner, p.envInit(), p.notifier, p.dropSlot)
	if err != nil {
		return nil, fmt.Errorf("spawn worker %d: %w", slot, err)
	}
	p.slots[slot] = h
	p.logger.Debug("worker spawned", "slot", slot)
	return h, nil
}

// dropSlot frees a slot when its handle's process exits.
func (p *Pool) dropSlot(slot int, h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots[slot] == h {
		p.slots[slot] = nil
	}
}

func (p *Pool) envInit() *protocol.EnvInit {
	return &protocol.EnvInit{
		Network:   p.network,
		SessionID: p.session,
		Terminal:  isTerminal(),
		Ignore:    true,
	}
}

func isTerminal() bool {
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

func (p *Pool) record(kind protocol.Kind, slot int, dur time.Duration, err error) {
	if p.journal == nil {
		return
	}
	rec := joblog.Record{
		Slot:     slot,
		Kind:     kind.String(),
		Status:   "ok",
		Duration: dur,
	}
	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
	}
	if jerr := p.journal.Record(context.Background(), rec); jerr != nil {
		p.logger.Warn("joblog record failed", "error", jerr)
	}
}

// resultAs asserts the result payload's concrete type. A mismatch means the
// worker answered with the wrong result kind for the request.
func resultAs[T protocol.Payload](res protocol.Payload) (T, error) {
	out, ok := res.(T)
	if !ok {
		return out, fmt.Errorf("workers: unexpected result kind %s", res.Kind())
	}
	return out, nil
}

// CheckTransaction verifies every input signature of tx against the view.
// Uses the pool's default timeout.
func (p *Pool) CheckTransaction(ctx context.Context, tx *chain.Transaction, view *chain.CoinView, flags chain.VerifyFlags) error {
	_, err := p.execute(ctx, &protocol.CheckTx{Tx: tx, View: view, Flags: flags}, DefaultTimeout)
	return err
}

// SignTransaction signs tx's unsigned inputs with the ring keys, injects the
// produced signatures back into the caller's tx, and returns how many inputs
// were newly signed. Signing has no timeout: its duration is unbounded by
// design.
func (p *Pool) SignTransaction(ctx context.Context, tx *chain.Transaction, view *chain.CoinView, keys [][]byte) (int, error) {
	res, err := p.execute(ctx, &protocol.SignTx{Tx: tx, View: view, Keys: keys}, 0)
	if err != nil {
		return 0, err
	}
	r, err := resultAs[*protocol.SignTxResult](res)
	if err != nil {
		return 0, err
	}
	if r.Tx != nil {
		tx.Inputs = r.Tx.Inputs
	}
	return r.Signed, nil
}

// CheckInput verifies a single input. Uses the pool's default timeout.
func (p *Pool) CheckInput(ctx context.Context, tx *chain.Transaction, index int, coin *chain.Coin, flags chain.VerifyFlags) error {
	_, err := p.execute(ctx, &protocol.CheckInput{Tx: tx, Index: index, Coin: coin, Flags: flags}, DefaultTimeout)
	return err
}

// SignInput signs one input if key controls the spent coin, injecting the
// signature into the caller's tx. No timeout.
func (p *Pool) SignInput(ctx context.Context, tx *chain.Transaction, index int, coin *chain.Coin, key []byte) (bool, error) {
	res, err := p.execute(ctx, &protocol.SignInput{Tx: tx, Index: index, Coin: coin, Key: key}, 0)
	if err != nil {
		return false, err
	}
	r, err := resultAs[*protocol.SignInputResult](res)
	if err != nil {
		return false, err
	}
	if r.Tx != nil && index >= 0 && index < len(tx.Inputs) && index < len(r.Tx.Inputs) {
		tx.Inputs[index] = r.Tx.Inputs[index]
	}
	return r.Signed, nil
}

// VerifySignature checks a DER signature over a 32-byte digest. No timeout.
func (p *Pool) VerifySignature(ctx context.Context, digest, signature, pubKey []byte) (bool, error) {
	res, err := p.execute(ctx, &protocol.VerifySig{Digest: digest, Signature: signature, PubKey: pubKey}, 0)
	if err != nil {
		return false, err
	}
	r, err := resultAs[*protocol.VerifySigResult](res)
	if err != nil {
		return false, err
	}
	return r.Valid, nil
}

// Sign produces a DER signature over a 32-byte digest. No timeout.
func (p *Pool) Sign(ctx context.Context, digest, key []byte) ([]byte, error) {
	res, err := p.execute(ctx, &protocol.Sign{Digest: digest, Key: key}, 0)
	if err != nil {
		return nil, err
	}
	r, err := resultAs[*protocol.SignResult](res)
	if err != nil {
		return nil, err
	}
	return r.Signature, nil
}

// MineHeader searches for a nonce meeting the target within rounds attempts.
// On success the nonce is copied into the caller's header buffer at its
// fixed offset. Mining has no timeout.
func (p *Pool) MineHeader(ctx context.Context, header, target []byte, rounds uint32) (uint32, bool, error) {
	if err := chain.CheckHeaderLen(header); err != nil {
		return 0, false, err
	}
	res, err := p.execute(ctx, &protocol.Mine{Header: header, Target: target, Rounds: rounds}, 0)
	if err != nil {
		return 0, false, err
	}
	r, err := resultAs[*protocol.MineResult](res)
	if err != nil {
		return 0, false, err
	}
	if r.Found {
		chain.PutHeaderNonce(header, r.Nonce)
	}
	return r.Nonce, r.Found, nil
}

// DeriveKey runs scrypt in a worker. No timeout.
func (p *Pool) DeriveKey(ctx context.Context, password, salt []byte, n, r, kp, keyLen int) ([]byte, error) {
	res, err := p.execute(ctx, &protocol.DeriveKey{Password: password, Salt: salt, N: n, R: r, P: kp, KeyLen: keyLen}, 0)
	if err != nil {
		return nil, err
	}
	out, err := resultAs[*protocol.DeriveKeyResult](res)
	if err != nil {
		return nil, err
	}
	return out.Key, nil
}

// Broadcast sends an out-of-band event to every currently populated handle.
// A failed write on one handle does not abort delivery to the others; the
// returned error joins the per-handle failures, nil meaning every handle
// accepted the write.
func (p *Pool) Broadcast(name string, args map[string]any) error {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.slots))
	for _, h := range p.slots {
		if h != nil {
			handles = append(handles, h)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.sendEvent(name, args); err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", h.Slot(), err))
		}
	}
	return errors.Join(errs...)
}

// Close destroys every populated handle. In-flight calls are force-rejected;
// Close does not wait for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := make([]*Handle, 0, len(p.slots))
	for i, h := range p.slots {
		if h != nil {
			handles = append(handles, h)
			p.slots[i] = nil
		}
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.destroy()
	}
	p.logger.Info("worker pool closed", "destroyed", len(handles))
}
