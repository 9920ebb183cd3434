// ABOUTME: Tests for the line-oriented command codec
// ABOUTME: Covers the round-trip law, exact keyword matching, and truncation

package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeString(s string) (Command, error) {
	return Decode(bufio.NewReader(strings.NewReader(s)))
}

func TestRoundTrip(t *testing.T) {
	commands := []Command{
		Broadcast{Identity: "carer-a"},
		Connect{Identity: "station-3", ResourceID: "res-1"},
		Disconnect{Confirm: true},
		Disconnect{Confirm: false},
		Request{ResourceID: "res-1"},
		Unsubscribe{Identity: "carer-a"},
		Broadcast{Identity: ""},
		Connect{Identity: "Zoë Ünicode", ResourceID: "bed 12 / west"},
	}

	for _, cmd := range commands {
		t.Run(cmd.Keyword(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, cmd))

			got, err := Decode(bufio.NewReader(&buf))
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
			assert.Zero(t, buf.Len(), "decode should consume the whole message")
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Connect{Identity: "station-3", ResourceID: "42"}))
	assert.Equal(t, "Connect\nstation-3\n42\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, Disconnect{Confirm: true}))
	assert.Equal(t, "Disconnect\nTrue\n", buf.String())
}

func TestDecode_UnknownCommand(t *testing.T) {
	for _, input := range []string{"broadcast\nx\n", "Hello\n", "\n", " Request\nx\n"} {
		_, err := decodeString(input)
		require.ErrorIs(t, err, ErrUnknownCommand, "input %q", input)
	}
}

func TestDecode_Truncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty stream", ""},
		{"keyword only", "Connect\n"},
		{"missing second field", "Connect\nstation-3\n"},
		{"broadcast without identity", "Broadcast\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeString(tt.input)
			require.ErrorIs(t, err, ErrTruncated)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestDecode_LastLineWithoutNewline(t *testing.T) {
	got, err := decodeString("Request\nres-9")
	require.NoError(t, err)
	assert.Equal(t, Request{ResourceID: "res-9"}, got)
}

func TestDecode_CRLF(t *testing.T) {
	got, err := decodeString("Unsubscribe\r\ncarer-a\r\n")
	require.NoError(t, err)
	assert.Equal(t, Unsubscribe{Identity: "carer-a"}, got)
}

func TestDecode_DisconnectFlag(t *testing.T) {
	got, err := decodeString("Disconnect\nfalse\n")
	require.NoError(t, err)
	assert.Equal(t, Disconnect{Confirm: false}, got)

	_, err = decodeString("Disconnect\nmaybe\n")
	require.ErrorIs(t, err, ErrMalformedField)
}

func TestDecode_LeavesFollowingData(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Broadcast\na\nBroadcast\nb\n"))

	first, err := Decode(r)
	require.NoError(t, err)
	second, err := Decode(r)
	require.NoError(t, err)

	assert.Equal(t, Broadcast{Identity: "a"}, first)
	assert.Equal(t, Broadcast{Identity: "b"}, second)
}
