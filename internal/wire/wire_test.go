package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeCommandJoinsArgsWithNUL(t *testing.T) {
	got := EncodeCommand("import", []string{"-", "--no-commit"})

	payload := "import\x00-\x00--no-commit"
	want := append([]byte("runcommand\n"), 0, 0, 0, byte(len(payload)))
	want = append(want, payload...)
	require.Equal(t, want, got)
}

func TestEncodeCommandWithoutArgs(t *testing.T) {
	got := EncodeCommand("summary", nil)
	require.Equal(t, []byte("runcommand\n\x00\x00\x00\x07summary"), got)
}

func TestEncodeMessagePrefixesLength(t *testing.T) {
	got := EncodeMessage([]byte("yes\n"))
	require.Equal(t, []byte{0, 0, 0, 4, 'y', 'e', 's', '\n'}, got)
}

func TestEncodeMessageEmpty(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0}, EncodeMessage(nil))
}

func TestEncodeHeaderIsBigEndian(t *testing.T) {
	got := EncodeHeader(ChannelLineInput, 4096)
	require.Equal(t, []byte{'L', 0, 0, 0x10, 0}, got)
}

func TestDecodeHeaderRejectsWrongSize(t *testing.T) {
	_, _, err := DecodeHeader([]byte{'o', 0, 0})
	require.Error(t, err)
}

func TestChannelClassification(t *testing.T) {
	require.True(t, ChannelLineInput.Mandatory())
	require.True(t, ChannelByteInput.Mandatory())
	require.True(t, Channel('X').Mandatory())
	require.False(t, ChannelOutput.Mandatory())
	require.False(t, ChannelDebug.Mandatory())
	require.False(t, Channel(0xC0).Mandatory())

	require.True(t, ChannelLineInput.IsInputRequest())
	require.True(t, ChannelByteInput.IsInputRequest())
	require.False(t, ChannelResult.IsInputRequest())
}

func TestDecodeResult(t *testing.T) {
	code, ok := DecodeResult(EncodeResult(255))
	require.True(t, ok)
	require.Equal(t, int32(255), code)

	_, ok = DecodeResult([]byte("don"))
	require.False(t, ok)
}

func TestParseHello(t *testing.T) {
	h := ParseHello([]byte("capabilities: getencoding runcommand\nencoding: UTF-8\npid: 4242\npgid: 4240\nmessage-encodings: cbor\n"))

	require.Equal(t, []string{"getencoding", "runcommand"}, h.Capabilities)
	require.True(t, h.HasCapability("runcommand"))
	require.False(t, h.HasCapability("attachio"))
	require.Equal(t, "UTF-8", h.Encoding)
	require.Equal(t, 4242, h.Pid)
	require.Equal(t, 4240, h.Pgid)
	require.Equal(t, "cbor", h.Fields["message-encodings"])
}

func TestPropertyHeaderRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ch := Channel(rapid.Byte().Draw(rt, "channel"))
		n := rapid.Uint32().Draw(rt, "length")

		gotCh, gotN, err := DecodeHeader(EncodeHeader(ch, n))
		require.NoError(rt, err)
		require.Equal(rt, ch, gotCh)
		require.Equal(rt, n, gotN)
	})
}

func TestPropertyCommandFrameLength(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, "name")
		args := rapid.SliceOf(rapid.String()).Draw(rt, "args")

		frame := EncodeCommand(name, args)
		require.Equal(rt, CommandPreamble, string(frame[:len(CommandPreamble)]))

		_, n, err := DecodeHeader(append([]byte{'x'}, frame[len(CommandPreamble):len(CommandPreamble)+4]...))
		require.NoError(rt, err)
		require.Equal(rt, len(frame)-len(CommandPreamble)-4, int(n))
	})
}
