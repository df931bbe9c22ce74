//go:build !windows

package transport

import (
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/lydakis/hgx/internal/wire"
	"golang.org/x/sys/unix"
)

const helperEnv = "GO_WANT_HGX_TRANSPORT_HELPER"

func helperArgs(mode string) []string {
	return []string{"-test.run=TestTransportHelperProcess", "--", mode}
}

func TestArgvAppendsRepositoryFlag(t *testing.T) {
	got := Argv("/usr/bin/hg", []string{"serve", "--cmdserver", "pipe"}, "/src/repo")
	want := []string{"/usr/bin/hg", "serve", "--cmdserver", "pipe", "--repository", "/src/repo"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("Argv() = %q, want %q", got, want)
	}
}

func TestArgvWithoutRepository(t *testing.T) {
	got := Argv("hg", []string{"serve"}, "")
	if len(got) != 2 || got[1] != "serve" {
		t.Fatalf("Argv() = %q, want [hg serve]", got)
	}
}

func TestSpawnEchoRoundTrip(t *testing.T) {
	h, err := Spawn(os.Args[0], helperArgs("echo"), "/tmp/hgx-repo", []string{helperEnv + "=1"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer h.Stop() //nolint:errcheck

	if h.Pid() == 0 {
		t.Fatal("Pid() = 0 after Spawn")
	}
	if h.Repo() != "/tmp/hgx-repo" {
		t.Fatalf("Repo() = %q, want /tmp/hgx-repo", h.Repo())
	}

	hello := readFrame(t, h)
	if !strings.Contains(hello, "--repository /tmp/hgx-repo") {
		t.Fatalf("hello = %q, want argv with repository flag", hello)
	}

	if err := h.Write(wire.EncodeMessage([]byte("ping"))); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := readFrame(t, h); got != "ping" {
		t.Fatalf("echo = %q, want %q", got, "ping")
	}
}

func TestReadExactReportsAbortOnShortStream(t *testing.T) {
	h, err := Spawn(os.Args[0], helperArgs("truncated"), "", []string{helperEnv + "=1"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer h.Stop() //nolint:errcheck

	_, err = h.ReadExact(wire.HeaderSize)
	if !errors.Is(err, ErrServerAborted) {
		t.Fatalf("ReadExact() error = %v, want ErrServerAborted", err)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := Spawn("/nonexistent/hgx/hg", nil, "", nil)
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("Spawn() error = %v, want ErrSpawn", err)
	}
}

func TestStopIsIdempotentAndClearsHandle(t *testing.T) {
	h, err := Spawn(os.Args[0], helperArgs("echo"), "", []string{helperEnv + "=1"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	_ = readFrame(t, h)

	if err := h.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if h.Pid() != 0 {
		t.Fatalf("Pid() = %d after Stop, want 0", h.Pid())
	}
	if _, err := h.ReadExact(1); !errors.Is(err, ErrServerAborted) {
		t.Fatalf("ReadExact() after Stop error = %v, want ErrServerAborted", err)
	}
	if err := h.Write([]byte("x")); !errors.Is(err, ErrServerAborted) {
		t.Fatalf("Write() after Stop error = %v, want ErrServerAborted", err)
	}
}

func TestTerminateToleratesExitedProcess(t *testing.T) {
	restoreKill, restoreWait := killFn, wait4Fn
	defer func() {
		killFn, wait4Fn = restoreKill, restoreWait
	}()

	killFn = func(pid int, sig syscall.Signal) error { return unix.ESRCH }
	wait4Fn = func(pid int, status *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error) {
		return 0, unix.ECHILD
	}

	h := &Handle{pid: 4242}
	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if h.Pid() != 0 {
		t.Fatalf("Pid() = %d, want 0", h.Pid())
	}
}

func TestTerminateReapsInBackgroundWhenStillRunning(t *testing.T) {
	restoreKill, restoreWait := killFn, wait4Fn
	defer func() {
		killFn, wait4Fn = restoreKill, restoreWait
	}()

	var signaled syscall.Signal
	blockingReap := make(chan int, 1)
	killFn = func(pid int, sig syscall.Signal) error {
		signaled = sig
		return nil
	}
	wait4Fn = func(pid int, status *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error) {
		if options&unix.WNOHANG != 0 {
			return 0, nil
		}
		blockingReap <- pid
		return pid, nil
	}

	h := &Handle{pid: 4242}
	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if signaled != unix.SIGTERM {
		t.Fatalf("signal = %v, want SIGTERM", signaled)
	}
	if got := <-blockingReap; got != 4242 {
		t.Fatalf("background reap pid = %d, want 4242", got)
	}
}

func readFrame(t *testing.T, h *Handle) string {
	t.Helper()
	hdr, err := h.ReadExact(wire.HeaderSize)
	if err != nil {
		t.Fatalf("reading header: %v", err)
	}
	ch, n, err := wire.DecodeHeader(hdr)
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	if ch != wire.ChannelOutput {
		t.Fatalf("channel = %q, want o", ch)
	}
	payload, err := h.ReadExact(int(n))
	if err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	return string(payload)
}

// TestTransportHelperProcess is re-executed as the subprocess by the tests
// above. It is a no-op when run as a normal test.
func TestTransportHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	mode := ""
	for i, arg := range args {
		if arg == "--" && i+1 < len(args) {
			mode = args[i+1]
			break
		}
	}

	switch mode {
	case "truncated":
		_, _ = os.Stdout.Write([]byte{'o', 0})
	case "echo":
		_, _ = os.Stdout.Write(wire.EncodeFrame(wire.ChannelOutput, []byte(strings.Join(args, " "))))
		for {
			var size [4]byte
			if _, err := io.ReadFull(os.Stdin, size[:]); err != nil {
				return
			}
			n := int(size[0])<<24 | int(size[1])<<16 | int(size[2])<<8 | int(size[3])
			msg := make([]byte, n)
			if _, err := io.ReadFull(os.Stdin, msg); err != nil {
				return
			}
			_, _ = os.Stdout.Write(wire.EncodeFrame(wire.ChannelOutput, msg))
		}
	}
}
