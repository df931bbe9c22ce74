//go:build !windows

// Package transport owns the command server subprocess and the pipes
// connected to its standard input and output.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrSpawn is returned when the subprocess could not be started.
	ErrSpawn = errors.New("spawning command server")
	// ErrServerAborted is returned when the server's stream ends or breaks
	// before a complete frame could be exchanged.
	ErrServerAborted = errors.New("command server aborted")
)

var (
	startProcessFn = os.StartProcess
	killFn         = unix.Kill
	wait4Fn        = unix.Wait4
)

// RepositoryFlag selects the repository the server operates on.
const RepositoryFlag = "--repository"

// Handle is one spawned command server.
type Handle struct {
	mu     sync.Mutex
	pid    int
	proc   *os.Process
	reader *os.File
	writer *os.File
	repo   string
	argv   []string
}

// Argv returns the full argument vector used to start the server.
func Argv(exe string, fixedArgs []string, repo string) []string {
	argv := make([]string, 0, len(fixedArgs)+3)
	argv = append(argv, exe)
	argv = append(argv, fixedArgs...)
	if repo != "" {
		argv = append(argv, RepositoryFlag, repo)
	}
	return argv
}

// Spawn starts exe with fixedArgs, selecting repo when it is not empty. env
// holds extra KEY=VALUE pairs added to the current environment. The child's
// stdin and stdout are connected to two fresh pipes; the ends owned by the
// child are closed in this process once it has started.
func Spawn(exe string, fixedArgs []string, repo string, env []string) (*Handle, error) {
	argv := Argv(exe, fixedArgs, repo)

	parentReader, childWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating output pipe: %w", ErrSpawn, err)
	}
	childReader, parentWriter, err := os.Pipe()
	if err != nil {
		parentReader.Close()
		childWriter.Close()
		return nil, fmt.Errorf("%w: creating input pipe: %w", ErrSpawn, err)
	}

	attr := &os.ProcAttr{
		Files: []*os.File{childReader, childWriter, os.Stderr},
	}
	if len(env) > 0 {
		attr.Env = append(os.Environ(), env...)
	}

	proc, err := startProcessFn(exe, argv, attr)
	childReader.Close()
	childWriter.Close()
	if err != nil {
		parentReader.Close()
		parentWriter.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, exe, err)
	}

	return &Handle{
		pid:    proc.Pid,
		proc:   proc,
		reader: parentReader,
		writer: parentWriter,
		repo:   repo,
		argv:   argv,
	}, nil
}

// Pid returns the server's process id, or 0 once stopped.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Repo returns the repository the server was started for.
func (h *Handle) Repo() string {
	return h.repo
}

// Args returns the argument vector the server was started with.
func (h *Handle) Args() []string {
	return append([]string(nil), h.argv...)
}

// ReadExact blocks until exactly n bytes have been read from the server.
// A stream that ends or is closed first yields ErrServerAborted.
func (h *Handle) ReadExact(n int) ([]byte, error) {
	h.mu.Lock()
	r := h.reader
	h.mu.Unlock()
	if r == nil {
		return nil, fmt.Errorf("%w: not running", ErrServerAborted)
	}
	return ReadExact(r, n)
}

// ReadExact reads exactly n bytes from r.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerAborted, err)
	}
	return buf, nil
}

// Write sends the complete buffer to the server.
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	w := h.writer
	h.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: not running", ErrServerAborted)
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrServerAborted, err)
	}
	return nil
}

// Stop closes both streams and terminates the server. It is safe to call
// more than once and never blocks on a server that ignores the signal.
func (h *Handle) Stop() error {
	h.mu.Lock()
	writer, reader := h.writer, h.reader
	h.writer, h.reader = nil, nil
	h.mu.Unlock()

	if writer != nil {
		_ = writer.Close()
	}
	if reader != nil {
		_ = reader.Close()
	}
	return h.Terminate()
}

// Terminate sends SIGTERM to the server and reaps it without blocking. If
// the server has not exited yet it is reaped in the background. The handle's
// process fields are cleared whether or not the process was still alive.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	pid, proc := h.pid, h.proc
	h.pid, h.proc = 0, nil
	h.mu.Unlock()

	if pid == 0 {
		return nil
	}
	if proc != nil {
		defer proc.Release() //nolint:errcheck
	}

	var errs []error
	if err := killFn(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		errs = append(errs, fmt.Errorf("signaling pid %d: %w", pid, err))
	}

	var status unix.WaitStatus
	wpid, err := wait4Fn(pid, &status, unix.WNOHANG, nil)
	switch {
	case err != nil && !errors.Is(err, unix.ECHILD):
		errs = append(errs, fmt.Errorf("reaping pid %d: %w", pid, err))
	case err == nil && wpid == 0:
		go reap(pid)
	}
	return errors.Join(errs...)
}

func reap(pid int) {
	var status unix.WaitStatus
	for {
		_, err := wait4Fn(pid, &status, 0, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}
