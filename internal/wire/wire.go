// Package wire implements the framing of the Mercurial command server
// protocol. It defines frame shapes and byte order only; reading and
// writing is left to the transport.
//
// Refs: https://wiki.mercurial-scm.org/CommandServer
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// HeaderSize is the size of a server frame header: one channel byte and a
// big-endian uint32 length.
const HeaderSize = 5

// MaxPayloadSize bounds the payload a client accepts in one frame, and the
// input it hands over for one request.
const MaxPayloadSize = 256 << 20

// CommandPreamble starts every command frame written by the client.
const CommandPreamble = "runcommand\n"

// Channel tags a server frame with its purpose.
type Channel byte

// Channels understood by the client.
const (
	ChannelOutput    Channel = 'o'
	ChannelError     Channel = 'e'
	ChannelResult    Channel = 'r'
	ChannelDebug     Channel = 'd'
	ChannelLineInput Channel = 'L'
	ChannelByteInput Channel = 'I'
)

func (c Channel) String() string {
	return string(rune(c))
}

// Mandatory reports whether the client must understand the channel.
// Uppercase channels are mandatory, everything else may be ignored.
func (c Channel) Mandatory() bool {
	return c >= 'A' && c <= 'Z'
}

// IsInputRequest reports whether the frame asks the client for input. Input
// requests carry no payload; the header length is the maximum input size.
func (c Channel) IsInputRequest() bool {
	return c == ChannelLineInput || c == ChannelByteInput
}

// EncodeCommand builds a command frame: the preamble, the length of the
// payload and the payload itself, which is the command name and its
// arguments joined by NUL bytes.
func EncodeCommand(name string, args []string) []byte {
	var payload bytes.Buffer
	payload.WriteString(name)
	for _, arg := range args {
		payload.WriteByte(0)
		payload.WriteString(arg)
	}

	frame := make([]byte, 0, len(CommandPreamble)+4+payload.Len())
	frame = append(frame, CommandPreamble...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(payload.Len()))
	return append(frame, payload.Bytes()...)
}

// EncodeMessage builds a plain message frame used to answer input requests.
func EncodeMessage(data []byte) []byte {
	frame := make([]byte, 0, 4+len(data))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(data)))
	return append(frame, data...)
}

// EncodeHeader builds a server frame header.
func EncodeHeader(ch Channel, n uint32) []byte {
	hdr := make([]byte, HeaderSize)
	hdr[0] = byte(ch)
	binary.BigEndian.PutUint32(hdr[1:], n)
	return hdr
}

// EncodeFrame builds a complete server frame with its payload.
func EncodeFrame(ch Channel, payload []byte) []byte {
	return append(EncodeHeader(ch, uint32(len(payload))), payload...)
}

// DecodeHeader splits a server frame header into its channel and length.
func DecodeHeader(hdr []byte) (Channel, uint32, error) {
	if len(hdr) != HeaderSize {
		return 0, 0, fmt.Errorf("frame header is %d bytes, want %d", len(hdr), HeaderSize)
	}
	return Channel(hdr[0]), binary.BigEndian.Uint32(hdr[1:]), nil
}

// DecodeResult decodes the exit code carried by a result frame.
func DecodeResult(payload []byte) (int32, bool) {
	if len(payload) != 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(payload)), true
}

// EncodeResult builds the payload of a result frame.
func EncodeResult(code int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(code))
}

// Hello is the parsed greeting sent by the server on startup.
type Hello struct {
	Capabilities []string
	Encoding     string
	Pid          int
	Pgid         int
	Fields       map[string]string
}

// HasCapability reports whether the server advertised name.
func (h Hello) HasCapability(name string) bool {
	for _, c := range h.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// ParseHello parses the "key: value" lines of the greeting payload.
func ParseHello(payload []byte) Hello {
	h := Hello{Fields: make(map[string]string)}
	for _, line := range strings.Split(string(payload), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "capabilities":
			h.Capabilities = strings.Fields(value)
		case "encoding":
			h.Encoding = value
		case "pid":
			h.Pid, _ = strconv.Atoi(value)
		case "pgid":
			h.Pgid, _ = strconv.Atoi(value)
		default:
			h.Fields[key] = value
		}
	}
	return h
}
