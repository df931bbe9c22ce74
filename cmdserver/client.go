package cmdserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lydakis/hgx/internal/paths"
	"github.com/lydakis/hgx/internal/transport"
	"github.com/lydakis/hgx/internal/wire"
	"github.com/lydakis/hgx/options"
)

// Conn is a running command server as seen by the Client.
type Conn interface {
	ReadExact(n int) ([]byte, error)
	Write(p []byte) error
	Pid() int
	Stop() error
}

// Spawner starts a command server for repo. An empty repo starts a server
// without a repository, which can only run global commands.
type Spawner func(repo string) (Conn, error)

// LineInputFunc supplies one line of input of at most max bytes.
type LineInputFunc func(max int) (string, error)

// ByteInputFunc supplies at most max bytes of input.
type ByteInputFunc func(max int) ([]byte, error)

// Option configures a Client.
type Option func(*Client)

// WithHgPath sets the hg executable used by the default spawner.
func WithHgPath(path string) Option {
	return func(c *Client) { c.hgPath = path }
}

// WithConfig adds "section.name=value" overrides passed to the server with
// --config.
func WithConfig(pairs ...string) Option {
	return func(c *Client) { c.configArgs = append(c.configArgs, pairs...) }
}

// WithEnv adds KEY=VALUE pairs to the server's environment.
func WithEnv(pairs ...string) Option {
	return func(c *Client) { c.env = append(c.env, pairs...) }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSpawner replaces the process spawner.
func WithSpawner(spawn Spawner) Option {
	return func(c *Client) { c.spawn = spawn }
}

// WithLineInput registers the line input provider.
func WithLineInput(fn LineInputFunc) Option {
	return func(c *Client) { c.lineInput = fn }
}

// WithByteInput registers the byte input provider.
func WithByteInput(fn ByteInputFunc) Option {
	return func(c *Client) { c.byteInput = fn }
}

// Client runs Mercurial commands through one command server process.
//
// The process is started lazily by the first Run. Run calls are serialized;
// Stop may be called at any time, including from another goroutine while a
// Run is blocked, which makes the blocked Run fail with ErrServerAborted.
type Client struct {
	repo       string
	id         string
	hgPath     string
	configArgs []string
	env        []string
	spawn      Spawner
	logger     *slog.Logger

	runMu   sync.Mutex // serializes commands on the pipe
	startMu sync.Mutex // serializes process startup

	mu        sync.Mutex
	conn      Conn
	hello     wire.Hello
	unsynced  bool // the last command returned before its result frame
	lineInput LineInputFunc
	byteInput ByteInputFunc
}

// New creates a Client for repo. An empty repo creates a client for global
// commands such as clone or version.
func New(repo string, opts ...Option) *Client {
	c := &Client{
		repo:   repo,
		id:     uuid.NewString(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("client", c.id)
	if c.repo != "" {
		c.logger = c.logger.With("repo", c.repo)
	}
	if c.spawn == nil {
		c.spawn = c.spawnProcess
	}
	return c
}

// ServerArgs returns the arguments passed to hg to start a command server,
// with each config pair inserted as a --config option.
func ServerArgs(configPairs ...string) []string {
	args := []string{"--config", "ui.interactive=True"}
	for _, pair := range configPairs {
		args = append(args, "--config", pair)
	}
	return append(args, "serve", "--cmdserver", "pipe")
}

func (c *Client) spawnProcess(repo string) (Conn, error) {
	exe := paths.HgExecutable(c.hgPath)
	h, err := transport.Spawn(exe, ServerArgs(c.configArgs...), repo, c.env)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("spawned command server", "pid", h.Pid(), "argv", strings.Join(h.Args(), " "))
	return h, nil
}

// Repo returns the repository the client targets.
func (c *Client) Repo() string { return c.repo }

// ID returns the identifier used to correlate this client's log records.
func (c *Client) ID() string { return c.id }

// IsStarted reports whether a command server process is running.
func (c *Client) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Pid returns the server's process id, or 0 when not started.
func (c *Client) Pid() int {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0
	}
	return conn.Pid()
}

// Hello returns the greeting of the running server.
func (c *Client) Hello() wire.Hello {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// OnLineInput registers the provider used when the server asks for a line
// of input. The last registration wins.
func (c *Client) OnLineInput(fn LineInputFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lineInput = fn
}

// OnByteInput registers the provider used when the server asks for raw
// bytes. The last registration wins.
func (c *Client) OnByteInput(fn ByteInputFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byteInput = fn
}

// RegisterInputReader serves both kinds of input requests from r.
func (c *Client) RegisterInputReader(r io.Reader) {
	br := bufio.NewReader(r)
	c.OnLineInput(func(int) (string, error) {
		line, err := br.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return line, err
	})
	c.OnByteInput(func(max int) ([]byte, error) {
		buf := make([]byte, max)
		n, err := io.ReadFull(br, buf)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = nil
		}
		return buf[:n], err
	})
}

// Start spawns the command server and consumes its greeting. It does
// nothing if the server is already running.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.IsStarted() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Debug("starting command server")
	conn, err := c.spawn(c.repo)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	hello, err := c.readHello(conn)
	if err != nil {
		_ = c.Stop()
		return err
	}

	c.mu.Lock()
	c.hello = hello
	c.mu.Unlock()
	return nil
}

func (c *Client) readHello(conn Conn) (wire.Hello, error) {
	ch, data, err := readFrame(conn, "")
	if err != nil {
		return wire.Hello{}, fmt.Errorf("reading greeting: %w", err)
	}
	c.logger.Debug("command server greeting", "channel", ch.String(), "message", string(data))

	hello := wire.ParseHello(data)
	if len(hello.Capabilities) > 0 && !hello.HasCapability("runcommand") {
		return wire.Hello{}, fmt.Errorf("%w: server does not support runcommand (capabilities: %s)",
			ErrProtocol, strings.Join(hello.Capabilities, " "))
	}
	return hello, nil
}

// Stop closes the pipes and terminates the server. It does nothing if the
// server is not running and is safe to call repeatedly.
func (c *Client) Stop() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.stopConn(conn)
}

// stopConn terminates conn and forgets it if it is still the client's
// server. A newer server started in the meantime is left alone.
func (c *Client) stopConn(conn Conn) error {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.hello = wire.Hello{}
		c.unsynced = false
	}
	c.mu.Unlock()

	c.logger.Debug("stopping command server", "pid", conn.Pid())
	return conn.Stop()
}

// Run runs command with args and opts and returns the chunks the server
// wrote to its output channel, in order. Empty positional arguments are
// dropped; option flags follow the positional arguments.
//
// A command error or a missing input provider is returned as soon as the
// server reports it. The rest of that reply is discarded by the next Run.
//
// If ctx is canceled while the command is in flight, the server is stopped
// and Run returns the context's error.
func (c *Client) Run(ctx context.Context, command string, args []string, opts options.Set) ([][]byte, error) {
	flags, err := options.Encode(opts)
	if err != nil {
		return nil, err
	}
	argv := make([]string, 0, len(args)+len(flags))
	for _, arg := range args {
		if arg != "" {
			argv = append(argv, arg)
		}
	}
	argv = append(argv, flags...)

	c.runMu.Lock()
	defer c.runMu.Unlock()

	conn, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	lineInput, byteInput := c.lineInput, c.byteInput
	c.mu.Unlock()

	r := &run{
		client:    c,
		conn:      conn,
		command:   command,
		lineInput: lineInput,
		byteInput: byteInput,
	}
	var output [][]byte
	err = c.guard(ctx, conn, command, func() error {
		var err error
		output, err = r.do(argv)
		return err
	})
	if r.unfinished {
		c.markUnsynced(conn)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", command, ctxErr)
		}
		return nil, err
	}
	return output, nil
}

// ready starts the server if needed and discards the rest of a reply the
// previous command returned early from. A server that cannot be brought
// back in sync is replaced.
func (c *Client) ready(ctx context.Context) (Conn, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn, unsynced := c.conn, c.unsynced
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotStarted
	}
	if !unsynced {
		return conn, nil
	}

	err := c.guard(ctx, conn, "resync", func() error { return c.discardReply(conn) })
	if err == nil {
		c.mu.Lock()
		if c.conn == conn {
			c.unsynced = false
		}
		c.mu.Unlock()
		return conn, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	c.logger.Debug("restarting command server after unreadable reply", "error", err)
	_ = c.stopConn(conn)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	conn = c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotStarted
	}
	return conn, nil
}

// discardReply drops frames up to the next result frame, answering input
// requests with end of input.
func (c *Client) discardReply(conn Conn) error {
	for {
		ch, n, err := readHeader(conn, "")
		if err != nil {
			return err
		}
		if ch.IsInputRequest() {
			if err := conn.Write(wire.EncodeMessage(nil)); err != nil {
				return err
			}
			continue
		}
		if _, err := conn.ReadExact(int(n)); err != nil {
			return err
		}
		switch {
		case ch == wire.ChannelResult:
			return nil
		case ch.Mandatory():
			return &ProtocolError{Channel: ch}
		}
	}
}

func (c *Client) markUnsynced(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.unsynced = true
	}
}

// guard runs fn and stops conn if ctx is done first. It does not return
// until such a stop has finished.
func (c *Client) guard(ctx context.Context, conn Conn, command string, fn func() error) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		c.logger.Debug("context done; stopping command server", "command", command)
		_ = c.stopConn(conn)
	})

	err := fn()
	if !stop() {
		<-done
	}
	return err
}

// RunString runs a command and returns its output as one string.
func (c *Client) RunString(ctx context.Context, command string, args []string, opts options.Set) (string, error) {
	chunks, err := c.Run(ctx, command, args, opts)
	if err != nil {
		return "", err
	}
	return Join(chunks), nil
}

// Join concatenates output chunks.
func Join(chunks [][]byte) string {
	var b strings.Builder
	for _, chunk := range chunks {
		b.Write(chunk)
	}
	return b.String()
}

// run is the state of one command in flight.
type run struct {
	client    *Client
	conn      Conn
	command   string
	lineInput LineInputFunc
	byteInput ByteInputFunc

	// unfinished is set when do returns before reading the result frame
	// while the stream is still usable.
	unfinished bool
}

func (r *run) do(argv []string) ([][]byte, error) {
	log := r.client.logger
	log.Debug("running command", "command", r.command, "args", argv)

	if err := r.conn.Write(wire.EncodeCommand(r.command, argv)); err != nil {
		return nil, r.abort(err)
	}

	var output [][]byte
	for {
		ch, n, err := readHeader(r.conn, r.command)
		if err != nil {
			return nil, r.abort(err)
		}
		log.Debug("read frame", "channel", ch.String(), "length", n)

		if ch.IsInputRequest() {
			if err := r.answer(ch, int(n)); err != nil {
				return nil, err
			}
			continue
		}

		data, err := r.conn.ReadExact(int(n))
		if err != nil {
			return nil, r.abort(err)
		}

		switch {
		case ch == wire.ChannelOutput:
			output = append(output, data)
		case ch == wire.ChannelResult:
			if code, ok := wire.DecodeResult(data); ok {
				log.Debug("command finished", "command", r.command, "code", code)
			}
			return output, nil
		case ch == wire.ChannelError:
			log.Debug("command error", "command", r.command, "message", string(data))
			r.unfinished = true
			return nil, NewCommandError(r.command, string(data))
		case ch.Mandatory():
			log.Warn("unexpected channel", "command", r.command, "channel", ch.String())
			return nil, r.abort(&ProtocolError{Command: r.command, Channel: ch})
		default:
			log.Debug("ignoring optional channel", "channel", ch.String())
		}
	}
}

// answer services an input request. When no provider can serve it, the
// server gets end of input and the command fails.
func (r *run) answer(ch wire.Channel, size int) error {
	log := r.client.logger
	log.Debug("server requested input", "channel", ch.String(), "max", size)

	data, inputErr := r.input(ch, min(size, wire.MaxPayloadSize))
	if inputErr != nil {
		log.Debug("input unavailable", "command", r.command, "error", inputErr)
		data = nil
	}
	if err := r.conn.Write(wire.EncodeMessage(data)); err != nil {
		return r.abort(err)
	}
	if inputErr != nil {
		r.unfinished = true
		return inputErr
	}
	return nil
}

func (r *run) input(ch wire.Channel, max int) ([]byte, error) {
	switch ch {
	case wire.ChannelLineInput:
		if r.lineInput == nil {
			return nil, fmt.Errorf("%w: no line input callback registered", ErrInputUnavailable)
		}
		line, err := r.lineInput(max)
		if errors.Is(err, io.EOF) && line == "" {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInputUnavailable, err)
		}
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		return []byte(line), nil
	default:
		if r.byteInput == nil {
			return nil, fmt.Errorf("%w: no byte input callback registered", ErrInputUnavailable)
		}
		data, err := r.byteInput(max)
		if errors.Is(err, io.EOF) && len(data) == 0 {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInputUnavailable, err)
		}
		return data, nil
	}
}

// abort stops the server after a failure that leaves the stream unusable.
func (r *run) abort(err error) error {
	r.client.logger.Debug("aborting command", "command", r.command, "error", err)
	_ = r.client.stopConn(r.conn)
	return err
}

// readHeader reads a frame header. Payloads larger than
// wire.MaxPayloadSize are rejected before anything is allocated for them.
func readHeader(conn Conn, command string) (wire.Channel, uint32, error) {
	hdr, err := conn.ReadExact(wire.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	ch, n, err := wire.DecodeHeader(hdr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if !ch.IsInputRequest() && n > wire.MaxPayloadSize {
		return 0, 0, &ProtocolError{Command: command, Channel: ch, Size: n}
	}
	return ch, n, nil
}

func readFrame(conn Conn, command string) (wire.Channel, []byte, error) {
	ch, n, err := readHeader(conn, command)
	if err != nil {
		return 0, nil, err
	}
	data, err := conn.ReadExact(int(n))
	if err != nil {
		return 0, nil, err
	}
	return ch, data, nil
}
