// Package cmdservertest provides an in-memory command server for tests of
// code built on cmdserver.
package cmdservertest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/wire"
)

// DefaultHello is the greeting sent when Server.Hello is empty.
const DefaultHello = "capabilities: getencoding runcommand\nencoding: UTF-8\n"

// Reply is the server's answer to one command. A non-empty Error is sent on
// the error channel after Output.
type Reply struct {
	Output string
	Error  string
	Code   int32
	// Crash ends the stream after Output, as a dying server would.
	Crash bool
}

// Handler computes the reply for a command run against repo.
type Handler func(repo, command string, args []string) Reply

// Call records one command received by the server.
type Call struct {
	Repo    string
	Command string
	Args    []string
}

// Server hands out in-memory connections. Use Spawn with
// cmdserver.WithSpawner.
type Server struct {
	Hello   string
	Handler Handler

	mu     sync.Mutex
	spawns int
	stops  int
	calls  []Call
}

// NewServer returns a Server answering with handler.
func NewServer(handler Handler) *Server {
	return &Server{Handler: handler}
}

// Spawn starts a new in-memory connection for repo.
func (s *Server) Spawn(repo string) (cmdserver.Conn, error) {
	s.mu.Lock()
	s.spawns++
	pid := 1000 + s.spawns
	hello := s.Hello
	s.mu.Unlock()

	if hello == "" {
		hello = DefaultHello
	}
	c := &conn{srv: s, repo: repo, pid: pid}
	c.out.Write(wire.EncodeFrame(wire.ChannelOutput, []byte(hello)))
	return c, nil
}

// Spawns returns the number of connections started.
func (s *Server) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// Stops returns the number of connections stopped.
func (s *Server) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Calls returns the commands received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) handle(repo, command string, args []string) Reply {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Repo: repo, Command: command, Args: args})
	handler := s.Handler
	s.mu.Unlock()

	if handler == nil {
		return Reply{}
	}
	return handler(repo, command, args)
}

type conn struct {
	srv  *Server
	repo string
	pid  int

	mu      sync.Mutex
	out     bytes.Buffer
	crashed bool
	stopped bool
}

func (c *conn) ReadExact(n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.out.Len() < n {
		return nil, fmt.Errorf("%w: stream ended", cmdserver.ErrServerAborted)
	}
	return bytes.Clone(c.out.Next(n)), nil
}

func (c *conn) Write(p []byte) error {
	c.mu.Lock()
	if c.stopped || c.crashed {
		c.mu.Unlock()
		return fmt.Errorf("%w: broken pipe", cmdserver.ErrServerAborted)
	}
	c.mu.Unlock()

	command, args, err := parseCommand(p)
	if err != nil {
		return err
	}
	reply := c.srv.handle(c.repo, command, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	if reply.Output != "" {
		c.out.Write(wire.EncodeFrame(wire.ChannelOutput, []byte(reply.Output)))
	}
	if reply.Crash {
		c.crashed = true
		return nil
	}
	if reply.Error != "" {
		c.out.Write(wire.EncodeFrame(wire.ChannelError, []byte(reply.Error)))
	}
	c.out.Write(wire.EncodeFrame(wire.ChannelResult, wire.EncodeResult(reply.Code)))
	return nil
}

func (c *conn) Pid() int { return c.pid }

func (c *conn) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true

	c.srv.mu.Lock()
	c.srv.stops++
	c.srv.mu.Unlock()
	return nil
}

func parseCommand(p []byte) (string, []string, error) {
	rest, ok := bytes.CutPrefix(p, []byte(wire.CommandPreamble))
	if !ok || len(rest) < 4 {
		return "", nil, fmt.Errorf("cmdservertest: unsupported frame %q", p)
	}
	n := binary.BigEndian.Uint32(rest[:4])
	payload := rest[4:]
	if int(n) != len(payload) {
		return "", nil, fmt.Errorf("cmdservertest: frame length %d, payload %d bytes", n, len(payload))
	}
	parts := strings.Split(string(payload), "\x00")
	return parts[0], parts[1:], nil
}
