package cmdserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lydakis/hgx/internal/transport"
	"github.com/lydakis/hgx/internal/wire"
	"github.com/lydakis/hgx/options"
)

var (
	// ErrSpawn is returned when the command server process could not be
	// started. Spawn failures are not retried.
	ErrSpawn = transport.ErrSpawn
	// ErrServerAborted is returned when the server's stream ended before a
	// complete frame was read. The client is stopped and restarts on the
	// next Run.
	ErrServerAborted = transport.ErrServerAborted
	// ErrProtocol is returned when the server speaks something the client
	// does not understand.
	ErrProtocol = errors.New("command server protocol error")
	// ErrInputUnavailable is returned when the server asked for input and no
	// provider was registered, or the provider failed.
	ErrInputUnavailable = errors.New("cannot read input")
	// ErrNotStarted is returned when the client was stopped while a command
	// was being prepared.
	ErrNotStarted = errors.New("command server is not started")
	// ErrDecode is returned when structured output could not be decoded.
	ErrDecode = errors.New("decoding command output")
	// ErrInvalidOption is returned for option values that cannot be encoded.
	ErrInvalidOption = options.ErrInvalidOption
)

// CommandError is a failure reported by the server on its error channel.
type CommandError struct {
	Command  string
	Messages []string
	Details  string
}

// NewCommandError builds a CommandError, stripping trailing newlines from
// each message.
func NewCommandError(command string, messages ...string) *CommandError {
	e := &CommandError{Command: command}
	for _, m := range messages {
		e.Messages = append(e.Messages, strings.TrimRight(m, "\r\n"))
	}
	return e
}

func (e *CommandError) Error() string {
	var b strings.Builder
	switch len(e.Messages) {
	case 0:
		fmt.Fprintf(&b, "%s: command failed", e.Command)
	case 1:
		fmt.Fprintf(&b, "%s: %s", e.Command, e.Messages[0])
	default:
		fmt.Fprintf(&b, "%s: %d errors", e.Command, len(e.Messages))
		for _, m := range e.Messages {
			b.WriteString("\n  ")
			b.WriteString(m)
		}
	}
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	return b.String()
}

// Message returns all messages joined by newlines.
func (e *CommandError) Message() string {
	return strings.Join(e.Messages, "\n")
}

// ProtocolError reports a mandatory channel the client does not understand,
// or a frame too large to accept when Size is set.
type ProtocolError struct {
	Command string
	Channel wire.Channel
	Size    uint32
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("unexpected channel %q", e.Channel.String())
	if e.Size > 0 {
		msg = fmt.Sprintf("%d byte frame on channel %q exceeds the %d byte limit",
			e.Size, e.Channel.String(), wire.MaxPayloadSize)
	}
	if e.Command == "" {
		return msg
	}
	return e.Command + ": " + msg
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// Kind classifies an error returned by the client.
type Kind int

const (
	KindNone Kind = iota
	KindSpawn
	KindAborted
	KindProtocol
	KindCommand
	KindInputUnavailable
	KindInvalidOption
	KindCanceled
	KindDecode
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSpawn:
		return "spawn"
	case KindAborted:
		return "aborted"
	case KindProtocol:
		return "protocol"
	case KindCommand:
		return "command"
	case KindInputUnavailable:
		return "input-unavailable"
	case KindInvalidOption:
		return "invalid-option"
	case KindCanceled:
		return "canceled"
	case KindDecode:
		return "decode"
	default:
		return "other"
	}
}

// Classify maps err onto the client's error taxonomy.
func Classify(err error) Kind {
	var cmdErr *CommandError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrInvalidOption):
		return KindInvalidOption
	case errors.Is(err, ErrInputUnavailable):
		return KindInputUnavailable
	case errors.As(err, &cmdErr):
		return KindCommand
	case errors.Is(err, ErrSpawn):
		return KindSpawn
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrServerAborted), errors.Is(err, ErrNotStarted):
		return KindAborted
	case errors.Is(err, ErrDecode):
		return KindDecode
	default:
		return KindOther
	}
}

// Broken reports whether err left the client's process unusable. The
// client has already been stopped in that case; callers holding it in a
// pool should drop it.
func Broken(err error) bool {
	switch Classify(err) {
	case KindAborted, KindProtocol, KindCanceled:
		return true
	default:
		return false
	}
}

// IsNoActiveTopic reports whether err is the failure `hg topics --current`
// reports when no topic is active.
func IsNoActiveTopic(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Message()), "no active topic")
}
