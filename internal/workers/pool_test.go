package workers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/chain"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/jobs"
	"github.com/quarrylabs/quarry/internal/protocol"
)

const waitTick = 10 * time.Millisecond

type respondFunc func(id uint32, p protocol.Payload)

type handlerFunc func(f protocol.Frame, respond respondFunc)

// echoHandler answers a job frame the way the real worker binary does: run
// the job in-process and send back its result or an error frame.
func echoHandler(f protocol.Frame, respond respondFunc) {
	res, err := jobs.Execute(f.Payload)
	if err != nil {
		respond(f.ID, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	respond(f.ID, res)
}

// silentHandler swallows job frames so their calls never complete.
func silentHandler(protocol.Frame, respondFunc) {}

// fakeProc is an in-memory worker process. Frames written by the handle are
// decoded and recorded; job frames are dispatched to the handler, whose
// responses flow back through a pipe the handle's read loop consumes.
type fakeProc struct {
	handler handlerFunc

	outR *io.PipeReader
	outW *io.PipeWriter
	enc  *protocol.Encoder
	dec  *protocol.Decoder

	mu       sync.Mutex
	frames   []protocol.Frame
	writeErr error

	exitOnce sync.Once
	exited   chan int
}

func newFakeProc(handler handlerFunc) *fakeProc {
	r, w := io.Pipe()
	p := &fakeProc{
		handler: handler,
		outR:    r,
		outW:    w,
		dec:     protocol.NewDecoder(),
		exited:  make(chan int, 1),
	}
	p.enc = protocol.NewEncoder(w)
	return p
}

func (p *fakeProc) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	frames, err := p.dec.Feed(b)
	p.frames = append(p.frames, frames...)
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	for _, f := range frames {
		switch f.Payload.(type) {
		case *protocol.EnvInit, *protocol.Event, *protocol.Log:
			// control frames have no response
		default:
			go p.handler(f, p.respond)
		}
	}
	return len(b), nil
}

func (p *fakeProc) respond(id uint32, payload protocol.Payload) {
	_ = p.enc.Encode(id, payload)
}

func (p *fakeProc) Stdout() io.Reader { return p.outR }

func (p *fakeProc) Wait() int { return <-p.exited }

func (p *fakeProc) Kill() error {
	p.exit(137)
	return nil
}

// exit simulates process termination: the exit code is delivered to Wait and
// the output pipe closes, ending the handle's read loop.
func (p *fakeProc) exit(code int) {
	p.exitOnce.Do(func() {
		p.exited <- code
		_ = p.outW.Close()
	})
}

func (p *fakeProc) setWriteErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *fakeProc) recorded() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

// jobFrames returns the recorded frames that carry a call id.
func (p *fakeProc) jobFrames() []protocol.Frame {
	var out []protocol.Frame
	for _, f := range p.recorded() {
		if f.ID != 0 {
			out = append(out, f)
		}
	}
	return out
}

// fakeSpawner hands out fakeProcs. Handlers queued in order are consumed one
// per spawn; spawns past the queue get the echo handler.
type fakeSpawner struct {
	mu    sync.Mutex
	queue []handlerFunc
	procs []*fakeProc
	err   error
}

func (s *fakeSpawner) Spawn() (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	handler := handlerFunc(echoHandler)
	if len(s.queue) > 0 {
		handler = s.queue[0]
		s.queue = s.queue[1:]
	}
	p := newFakeProc(handler)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

// recordingNotifier captures pool notifications for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	spawned []int
	exits   []int
	errs    []error
	logs    []string
	events  []string
}

func (n *recordingNotifier) HandleSpawned(slot int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spawned = append(n.spawned, slot)
}

func (n *recordingNotifier) HandleExited(_ int, code int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exits = append(n.exits, code)
}

func (n *recordingNotifier) HandleError(_ int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) WorkerLog(_ int, _ string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, message)
}

func (n *recordingNotifier) WorkerEvent(_ int, name string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, name)
}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func (n *recordingNotifier) exitCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.exits)
}

func (n *recordingNotifier) logMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.logs...)
}

func (n *recordingNotifier) eventNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func testPool(t *testing.T, size int, timeout time.Duration, spawner Spawner, notifier Notifier) *Pool {
	t.Helper()
	cfg := config.WorkersConfig{Size: size, Timeout: timeout, Exec: "quarry-worker"}
	p, err := New(cfg, "testnet", Options{Spawner: spawner, Notifier: notifier})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func disabledPool(t *testing.T) *Pool {
	t.Helper()
	enabled := false
	cfg := config.WorkersConfig{Size: 2, Timeout: time.Minute, Enabled: &enabled, Exec: "quarry-worker"}
	p, err := New(cfg, "testnet", Options{})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// sigFixture produces a digest, a valid DER signature over it, and the
// compressed pubkey of the signing key.
func sigFixture(t *testing.T) (digest, sig, pub, raw []byte) {
	t.Helper()
	raw = bytes.Repeat([]byte{0x31}, 32)
	priv := secp256k1.PrivKeyFromBytes(raw)
	digest = bytes.Repeat([]byte{0x77}, chain.HashSize)
	sig, err := jobs.Sign(digest, raw)
	require.NoError(t, err)
	return digest, sig, priv.PubKey().SerializeCompressed(), raw
}

func waitForEmptySlot(t *testing.T, p *Pool, slot int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !p.Status().Slots[slot].Spawned
	}, 2*time.Second, waitTick, "slot %d was never freed", slot)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.WorkersConfig{Size: 0, Exec: "quarry-worker"}, "main", Options{})
	assert.Error(t, err)

	_, err = New(config.WorkersConfig{Size: 2}, "main", Options{})
	assert.Error(t, err)
}

func TestRoundRobinAllocation(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 2, time.Minute, spawner, NopNotifier{})
	digest, sig, pub, _ := sigFixture(t)

	for i := 0; i < 5; i++ {
		ok, err := pool.VerifySignature(context.Background(), digest, sig, pub)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Two slots, five calls: exactly two processes, split 3/2.
	require.Equal(t, 2, spawner.spawnCount())
	assert.Len(t, spawner.proc(0).jobFrames(), 3)
	assert.Len(t, spawner.proc(1).jobFrames(), 2)

	st := pool.Status()
	assert.Equal(t, uint64(5), st.Allocs)
	assert.True(t, st.Slots[0].Spawned)
	assert.True(t, st.Slots[1].Spawned)
	assert.NotEmpty(t, st.Session)
}

func TestHandshakeIsFirstFrame(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})
	digest, sig, pub, _ := sigFixture(t)

	_, err := pool.VerifySignature(context.Background(), digest, sig, pub)
	require.NoError(t, err)

	frames := spawner.proc(0).recorded()
	require.NotEmpty(t, frames)
	env, ok := frames[0].Payload.(*protocol.EnvInit)
	require.True(t, ok, "first frame must be the handshake, got %s", frames[0].Payload.Kind())
	assert.Zero(t, frames[0].ID)
	assert.Equal(t, "testnet", env.Network)
	assert.NotEmpty(t, env.SessionID)
	assert.True(t, env.Ignore)
}

func TestOutOfOrderCompletion(t *testing.T) {
	release := make(chan struct{})
	handler := func(f protocol.Frame, respond respondFunc) {
		if f.ID == 1 {
			<-release
		}
		respond(f.ID, &protocol.MineResult{Found: true, Nonce: f.ID})
		if f.ID == 2 {
			close(release)
		}
	}
	spawner := &fakeSpawner{queue: []handlerFunc{handler}}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	target := bytes.Repeat([]byte{0xff}, chain.HashSize)

	firstDone := make(chan uint32, 1)
	go func() {
		nonce, found, err := pool.MineHeader(context.Background(), make([]byte, chain.HeaderSize), target, 10)
		if err != nil || !found {
			firstDone <- 0
			return
		}
		firstDone <- nonce
	}()

	// Wait for the first call to be on the wire so ids are deterministic.
	require.Eventually(t, func() bool {
		return spawner.spawnCount() == 1 && len(spawner.proc(0).jobFrames()) == 1
	}, 2*time.Second, waitTick)

	// The second call completes before the first even though it was issued
	// later; responses correlate by id, not arrival order.
	nonce, found, err := pool.MineHeader(context.Background(), make([]byte, chain.HeaderSize), target, 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(2), nonce)

	select {
	case nonce := <-firstDone:
		assert.Equal(t, uint32(1), nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("first call never completed")
	}
}

func TestCallTimeoutAndLateResponseViolation(t *testing.T) {
	type captured struct {
		id      uint32
		respond respondFunc
	}
	reqs := make(chan captured, 1)
	handler := func(f protocol.Frame, respond respondFunc) {
		reqs <- captured{f.ID, respond}
	}
	spawner := &fakeSpawner{queue: []handlerFunc{handler}}
	notifier := &recordingNotifier{}
	pool := testPool(t, 1, 50*time.Millisecond, spawner, notifier)

	tx := &chain.Transaction{Inputs: []chain.Input{{}}}
	err := pool.CheckInput(context.Background(), tx, 0, &chain.Coin{}, 0)
	require.ErrorIs(t, err, ErrCallTimeout)

	// Answering after the timeout names a call id that is no longer
	// outstanding: a protocol violation that kills the worker.
	req := <-reqs
	req.respond(req.id, &protocol.CheckInputResult{})

	require.Eventually(t, func() bool {
		return notifier.errorCount() == 1
	}, 2*time.Second, waitTick)
	waitForEmptySlot(t, pool, 0)

	// The slot respawns transparently on the next allocation.
	digest, sig, pub, _ := sigFixture(t)
	ok, err := pool.VerifySignature(context.Background(), digest, sig, pub)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, spawner.spawnCount())
}

func TestWorkerExitRejectsOutstandingCalls(t *testing.T) {
	spawner := &fakeSpawner{queue: []handlerFunc{silentHandler}}
	notifier := &recordingNotifier{}
	pool := testPool(t, 1, time.Minute, spawner, notifier)

	const calls = 3
	errCh := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
			errCh <- err
		}()
	}

	require.Eventually(t, func() bool {
		return spawner.spawnCount() == 1 && len(spawner.proc(0).jobFrames()) == calls
	}, 2*time.Second, waitTick)

	spawner.proc(0).exit(1)

	for i := 0; i < calls; i++ {
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrHandleClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("outstanding call not rejected after worker exit")
		}
	}

	require.Eventually(t, func() bool {
		return notifier.exitCount() == 1
	}, 2*time.Second, waitTick)
	waitForEmptySlot(t, pool, 0)

	// Self-healing: the next call on the slot spawns a fresh worker.
	digest, sig, pub, _ := sigFixture(t)
	ok, err := pool.VerifySignature(context.Background(), digest, sig, pub)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, spawner.spawnCount())
}

func TestResponseBeforeExitIsDelivered(t *testing.T) {
	// The worker answers and exits immediately. The stream must be drained
	// before the process is reaped, so the answer always reaches its call
	// instead of being discarded with the pipe.
	var spawner *fakeSpawner
	handler := func(f protocol.Frame, respond respondFunc) {
		respond(f.ID, &protocol.MineResult{Found: true, Nonce: f.ID})
		spawner.proc(0).exit(0)
	}
	spawner = &fakeSpawner{queue: []handlerFunc{handler}}
	notifier := &recordingNotifier{}
	pool := testPool(t, 1, time.Minute, spawner, notifier)

	target := bytes.Repeat([]byte{0xff}, chain.HashSize)
	nonce, found, err := pool.MineHeader(context.Background(), make([]byte, chain.HeaderSize), target, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(1), nonce)

	require.Eventually(t, func() bool {
		return notifier.exitCount() == 1
	}, 2*time.Second, waitTick)
	waitForEmptySlot(t, pool, 0)
}

func TestContextCancelRejectsCall(t *testing.T) {
	spawner := &fakeSpawner{queue: []handlerFunc{silentHandler}}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Sign(ctx, make([]byte, chain.HashSize), make([]byte, 32))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return spawner.spawnCount() == 1 && len(spawner.proc(0).jobFrames()) == 1
	}, 2*time.Second, waitTick)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("call not rejected after context cancel")
	}
}

func TestWorkerErrorResultRejectsCall(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	// The echo handler runs the real job, which rejects a short digest.
	_, err := pool.Sign(context.Background(), []byte{0x01}, make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad digest length")

	// Degenerate key material rejects the call instead of hanging it; the
	// signing path carries no timeout.
	_, err = pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestUnexpectedResultKindIsError(t *testing.T) {
	wrong := func(f protocol.Frame, respond respondFunc) {
		respond(f.ID, &protocol.VerifySigResult{Valid: true})
	}
	spawner := &fakeSpawner{queue: []handlerFunc{wrong}}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected result kind")
}

func TestRequestKindFromWorkerIsViolation(t *testing.T) {
	bad := func(f protocol.Frame, respond respondFunc) {
		respond(f.ID, &protocol.Mine{Header: make([]byte, chain.HeaderSize), Target: make([]byte, chain.HashSize)})
	}
	spawner := &fakeSpawner{queue: []handlerFunc{bad}}
	notifier := &recordingNotifier{}
	pool := testPool(t, 1, time.Minute, spawner, notifier)

	_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
	require.ErrorIs(t, err, ErrHandleClosed)

	require.Eventually(t, func() bool {
		return notifier.errorCount() >= 1
	}, 2*time.Second, waitTick)
}

func TestWorkerLogAndEventForwarding(t *testing.T) {
	chatty := func(f protocol.Frame, respond respondFunc) {
		respond(0, &protocol.Log{Level: "info", Message: "grinding"})
		respond(0, &protocol.Event{Name: "progress", Args: map[string]any{"pct": 50}})
		echoHandler(f, respond)
	}
	spawner := &fakeSpawner{queue: []handlerFunc{chatty}}
	notifier := &recordingNotifier{}
	pool := testPool(t, 1, time.Minute, spawner, notifier)

	digest, sig, pub, _ := sigFixture(t)
	_, err := pool.VerifySignature(context.Background(), digest, sig, pub)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(notifier.logMessages()) == 1 && len(notifier.eventNames()) == 1
	}, 2*time.Second, waitTick)
	assert.Equal(t, []string{"grinding"}, notifier.logMessages())
	assert.Equal(t, []string{"progress"}, notifier.eventNames())
}

func TestBroadcast(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 2, time.Minute, spawner, NopNotifier{})
	digest, sig, pub, _ := sigFixture(t)

	// Populate both slots.
	for i := 0; i < 2; i++ {
		_, err := pool.VerifySignature(context.Background(), digest, sig, pub)
		require.NoError(t, err)
	}

	require.NoError(t, pool.Broadcast("set-ignore", map[string]any{"ignore": false}))
	for i := 0; i < 2; i++ {
		frames := spawner.proc(i).recorded()
		last := frames[len(frames)-1]
		ev, ok := last.Payload.(*protocol.Event)
		require.True(t, ok, "proc %d: last frame is %s", i, last.Payload.Kind())
		assert.Equal(t, "set-ignore", ev.Name)
	}

	// A failed write on one handle does not abort delivery to the other.
	spawner.proc(0).setWriteErr(errors.New("broken pipe"))
	err := pool.Broadcast("set-ignore", map[string]any{"ignore": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 0")

	frames := spawner.proc(1).recorded()
	ev, ok := frames[len(frames)-1].Payload.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "set-ignore", ev.Name)
}

func TestSpawnFailure(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("exec: not found")}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn worker")
}

func TestCloseRejectsPendingAndFutureCalls(t *testing.T) {
	spawner := &fakeSpawner{queue: []handlerFunc{silentHandler}}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return spawner.spawnCount() == 1 && len(spawner.proc(0).jobFrames()) == 1
	}, 2*time.Second, waitTick)

	pool.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrHandleClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not rejected by Close")
	}

	_, err := pool.Sign(context.Background(), make([]byte, chain.HashSize), make([]byte, 32))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestDisabledPoolFallback(t *testing.T) {
	pool := disabledPool(t)
	assert.False(t, pool.Status().Enabled)

	digest, sig, pub, raw := sigFixture(t)

	ok, err := pool.VerifySignature(context.Background(), digest, sig, pub)
	require.NoError(t, err)
	assert.True(t, ok)

	// Signing mutates the caller's transaction just like the worker path.
	priv := secp256k1.PrivKeyFromBytes(raw)
	txid := bytes.Repeat([]byte{0x09}, 32)
	view := chain.NewCoinView()
	view.AddCoin(txid, 0, &chain.Coin{Value: 100, PubKey: priv.PubKey().SerializeCompressed()})
	tx := &chain.Transaction{
		Version: 1,
		Inputs:  []chain.Input{{PrevTxID: txid, PrevIndex: 0}},
		Outputs: []chain.Output{{Value: 90, PubKey: pub}},
	}

	signed, err := pool.SignTransaction(context.Background(), tx, view, [][]byte{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, signed)
	assert.NotEmpty(t, tx.Inputs[0].Signature)

	require.NoError(t, pool.CheckTransaction(context.Background(), tx, view, chain.StandardVerifyFlags))

	// Error surfaces match the worker path.
	_, err = pool.Sign(context.Background(), []byte{0x01}, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad digest length")
}

func TestSignTransactionInjectsSignatures(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	_, _, pub, raw := sigFixture(t)
	priv := secp256k1.PrivKeyFromBytes(raw)
	txid := bytes.Repeat([]byte{0x0a}, 32)
	view := chain.NewCoinView()
	view.AddCoin(txid, 0, &chain.Coin{Value: 100, PubKey: priv.PubKey().SerializeCompressed()})
	tx := &chain.Transaction{
		Version: 1,
		Inputs:  []chain.Input{{PrevTxID: txid, PrevIndex: 0}},
		Outputs: []chain.Output{{Value: 90, PubKey: pub}},
	}

	// The job runs on a copy across the process boundary; the caller still
	// observes the produced signature.
	signed, err := pool.SignTransaction(context.Background(), tx, view, [][]byte{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, signed)
	require.NotEmpty(t, tx.Inputs[0].Signature)

	require.NoError(t, pool.CheckTransaction(context.Background(), tx, view, chain.StandardVerifyFlags))
}

func TestMineHeaderWritesNonceBack(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	header := make([]byte, chain.HeaderSize)
	chain.PutHeaderNonce(header, 7)
	target := bytes.Repeat([]byte{0xff}, chain.HashSize)

	nonce, found, err := pool.MineHeader(context.Background(), header, target, 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(7), nonce)
	assert.Equal(t, nonce, chain.HeaderNonce(header))
	assert.True(t, chain.CheckProof(header, target))

	_, _, err = pool.MineHeader(context.Background(), make([]byte, 10), target, 10)
	assert.Error(t, err)
}

func TestDeriveKeyThroughPool(t *testing.T) {
	spawner := &fakeSpawner{}
	pool := testPool(t, 1, time.Minute, spawner, NopNotifier{})

	key, err := pool.DeriveKey(context.Background(), []byte("hunter2"), []byte("salt"), 1<<10, 8, 1, 32)
	require.NoError(t, err)

	want, err := jobs.DeriveKey([]byte("hunter2"), []byte("salt"), 1<<10, 8, 1, 32)
	require.NoError(t, err)
	assert.Equal(t, want, key)
}
