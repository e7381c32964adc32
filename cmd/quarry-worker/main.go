// quarry-worker is the pool's worker entry point. It speaks the framed
// protocol on stdin/stdout: an env-init frame arrives first, then job
// requests, each answered with a result frame (or an error frame) bearing
// the same call id. Jobs run concurrently; the shared encoder keeps response
// frames whole on the pipe.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/quarrylabs/quarry/internal/jobs"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/protocol"
)

func main() {
	log.Setup(os.Getenv("QUARRY_WORKER_LOG_LEVEL"))

	w := &worker{
		enc:    protocol.NewEncoder(os.Stdout),
		logger: log.WithComponent("quarry-worker"),
	}
	if err := w.run(os.Stdin); err != nil {
		w.logger.Error("worker stream failed", "error", err)
		os.Exit(1)
	}
}

type worker struct {
	enc    *protocol.Encoder
	logger *slog.Logger

	mu     sync.Mutex
	env    *protocol.EnvInit
	jobs   sync.WaitGroup
	ignore bool
}

// run drives the frame loop until stdin closes. A clean EOF drains in-flight
// jobs before returning so their responses still reach the pipe.
func (w *worker) run(r io.Reader) error {
	dec := protocol.NewDecoder()
	buf := make([]byte, 32*1024)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			for _, f := range frames {
				w.dispatch(f)
			}
			if derr != nil {
				return derr
			}
		}
		if err == io.EOF {
			w.jobs.Wait()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (w *worker) dispatch(f protocol.Frame) {
	switch p := f.Payload.(type) {
	case *protocol.EnvInit:
		w.mu.Lock()
		w.env = p
		w.ignore = p.Ignore
		w.mu.Unlock()
		w.logger.Debug("environment applied", "network", p.Network, "session", p.SessionID)
	case *protocol.Event:
		w.handleEvent(p)
	case *protocol.Log, *protocol.ErrorResult:
		// Supervisor-to-worker direction never carries these.
		w.logger.Warn("ignoring unexpected frame", "kind", f.Payload.Kind().String())
	default:
		w.jobs.Add(1)
		go func() {
			defer w.jobs.Done()
			w.runJob(f.ID, f.Payload)
		}()
	}
}

func (w *worker) handleEvent(ev *protocol.Event) {
	switch ev.Name {
	case "set-ignore":
		w.mu.Lock()
		if v, ok := ev.Args["ignore"].(bool); ok {
			w.ignore = v
		}
		w.mu.Unlock()
	default:
		w.mu.Lock()
		ignore := w.ignore
		w.mu.Unlock()
		if !ignore {
			_ = w.enc.Encode(0, &protocol.Log{
				Level:   "warn",
				Message: fmt.Sprintf("unknown broadcast event %q", ev.Name),
			})
		}
	}
}

func (w *worker) runJob(id uint32, req protocol.Payload) {
	defer func() {
		if r := recover(); r != nil {
			_ = w.enc.Encode(id, &protocol.ErrorResult{
				Message: fmt.Sprintf("job panicked: %v", r),
			})
		}
	}()

	res, err := jobs.Execute(req)
	if err != nil {
		if encErr := w.enc.Encode(id, &protocol.ErrorResult{Message: err.Error()}); encErr != nil {
			w.logger.Error("write error frame", "error", encErr)
		}
		return
	}
	if encErr := w.enc.Encode(id, res); encErr != nil {
		w.logger.Error("write result frame", "error", encErr)
	}
}
