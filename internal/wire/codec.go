// ABOUTME: Line-oriented encoder and decoder for protocol commands
// ABOUTME: One field per line, keyword first, no length prefix and no escaping

package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnknownCommand is returned when the first line is not a known keyword.
var ErrUnknownCommand = errors.New("unknown command")

// ErrTruncated is returned when the stream ends before all fields were read.
var ErrTruncated = errors.New("truncated command")

// ErrMalformedField is returned when a field cannot be parsed into its type.
var ErrMalformedField = errors.New("malformed field")

// DecodeError describes why a message could not be decoded.
type DecodeError struct {
	Keyword string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Keyword == "" {
		return fmt.Sprintf("decoding command: %v", e.Err)
	}
	return fmt.Sprintf("decoding %q: %v", e.Keyword, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode writes cmd as newline-terminated lines. Fields must not contain
// newlines.
func Encode(w io.Writer, cmd Command) error {
	var b strings.Builder
	b.WriteString(cmd.Keyword())
	b.WriteByte('\n')
	for _, f := range cmd.fields() {
		b.WriteString(f)
		b.WriteByte('\n')
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing %s: %w", cmd.Keyword(), err)
	}
	return nil
}

// Decode reads one command from r. Keywords are matched exactly. Only the
// lines belonging to the command are consumed.
func Decode(r *bufio.Reader) (Command, error) {
	keyword, err := readLine(r)
	if err != nil {
		return nil, decodeErr("", err)
	}

	n, ok := fieldCount[keyword]
	if !ok {
		return nil, &DecodeError{Keyword: keyword, Err: ErrUnknownCommand}
	}

	f := make([]string, n)
	for i := range f {
		if f[i], err = readLine(r); err != nil {
			return nil, decodeErr(keyword, err)
		}
	}

	return build(keyword, f)
}

// readLine returns the next line without its terminator. A last line that
// ends at EOF without a newline is still returned.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func decodeErr(keyword string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &DecodeError{Keyword: keyword, Err: ErrTruncated}
	}
	return &DecodeError{Keyword: keyword, Err: err}
}
