package workers

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"

	"github.com/quarrylabs/quarry/internal/log"
)

// Process is one live worker process as the handle sees it: a write side for
// encoded frames, the frame stream coming back, and exit delivery. The
// process-spawning mechanics behind it are not the pool's concern.
type Process interface {
	// Write sends encoded frame bytes to the worker.
	io.Writer

	// Stdout is the worker's frame stream.
	Stdout() io.Reader

	// Wait blocks until the process exits and returns its exit code. It
	// must not be called while Stdout is still being read (os/exec's Wait
	// closes the stdout pipe); the handle drains the stream first.
	Wait() int

	// Kill terminates the process. It does not wait for exit.
	Kill() error
}

// Spawner creates worker processes. A nil spawner on the pool forces the
// synchronous fallback path.
type Spawner interface {
	Spawn() (Process, error)
}

// ExecSpawner spawns the worker entry point binary with stdio pipes. Worker
// stderr is streamed line by line into the supervisor's logger.
type ExecSpawner struct {
	Path string
	Args []string
}

// NewExecSpawner returns a spawner for the given worker binary path.
func NewExecSpawner(path string, args ...string) *ExecSpawner {
	return &ExecSpawner{Path: path, Args: args}
}

func (s *ExecSpawner) Spawn() (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	logger := log.WithComponent("worker-stderr").With("pid", cmd.Process.Pid)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug(scanner.Text())
		}
	}()

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

func (p *execProcess) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *execProcess) Kill() error {
	_ = p.stdin.Close()
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
