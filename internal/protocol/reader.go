package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/quiqcl/basicproto/internal/dle"
)

// Reader decodes messages from a timed byte stream.
//
// The underlying reader must return (0, nil) when its read timeout elapses.
// Reader holds no state between messages, so a single message is decoded
// completely or not at all.
type Reader struct {
	r   io.Reader
	one [1]byte
}

// NewReader returns a Reader that reads one byte at a time from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadRaw reads one byte without interpreting DLE.
func (r *Reader) ReadRaw() (byte, bool, error) {
	n, err := r.r.Read(r.one[:])
	if n == 1 {
		return r.one[0], true, nil
	}
	if err != nil {
		return 0, false, channelError("read", err)
	}
	return 0, false, nil
}

// ReadNextMessage reads the next message from the stream.
//
// A timeout before any byte arrives yields KindEmpty. An unknown leading byte
// yields KindMalformed. An escape sequence anywhere in the header or body
// abandons the frame and yields KindInterrupted; for the R escape the five
// status bytes and their terminator are consumed first.
func (r *Reader) ReadNextMessage() (Message, error) {
	tok, err := dle.Next(r)
	if err != nil {
		return Message{}, err
	}

	switch tok.Kind {
	case dle.TokenNone:
		return Message{Kind: KindEmpty}, nil
	case dle.TokenEscape:
		return r.interrupted(tok.Value)
	}

	sig := tok.Value
	var (
		body []byte
		esc  *EscapeEvent
		kind Kind
	)
	switch sig {
	case SigCommand:
		kind = KindCommand
		body, esc, err = r.readCommand()
	case SigBlock:
		kind = KindBlock
		body, esc, err = r.readBlock()
	default:
		return Message{Kind: KindMalformed, Signature: sig}, nil
	}

	if err != nil {
		return Message{}, err
	}
	if esc != nil {
		return r.interrupted(esc.Char)
	}
	return Message{Kind: kind, Signature: sig, Body: body}, nil
}

// ReadExpect reads the next message and returns its body if its signature is
// expect. An escape sequence is reported as *EscapeError and any other
// outcome, including an empty read, as *SignatureError.
func (r *Reader) ReadExpect(expect byte) ([]byte, error) {
	msg, err := r.ReadNextMessage()
	if err != nil {
		return nil, err
	}
	return msg.expect(expect)
}

func (m Message) expect(sig byte) ([]byte, error) {
	switch m.Kind {
	case KindInterrupted:
		return nil, &EscapeError{Event: m.Escape}
	case KindCommand, KindBlock:
		if m.Signature == sig {
			return m.Body, nil
		}
	}
	return nil, &SignatureError{Expected: sig, Actual: m.Signature}
}

func (r *Reader) readCommand() ([]byte, *EscapeEvent, error) {
	length, esc, err := r.readHex(1, "command length")
	if err != nil || esc != nil {
		return nil, esc, err
	}

	body, esc, err := r.readN(length, "command body")
	if err != nil || esc != nil {
		return nil, esc, err
	}

	return body, nil, r.checkTerminator()
}

func (r *Reader) readBlock() ([]byte, *EscapeEvent, error) {
	numDigits, esc, err := r.readHex(1, "block digit count")
	if err != nil || esc != nil {
		return nil, esc, err
	}

	byteCount, esc, err := r.readHex(numDigits, "block byte count")
	if err != nil || esc != nil {
		return nil, esc, err
	}
	if byteCount > MaxBlockLen {
		return nil, nil, &LengthError{Kind: "block", Length: byteCount, Max: MaxBlockLen}
	}

	body, esc, err := r.readN(byteCount, "block body")
	if err != nil || esc != nil {
		return nil, esc, err
	}

	return body, nil, r.checkTerminator()
}

// readN reads n logical bytes. It stops at the first escape sequence.
func (r *Reader) readN(n int, what string) ([]byte, *EscapeEvent, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		tok, err := dle.Next(r)
		if err != nil {
			return nil, nil, err
		}
		switch tok.Kind {
		case dle.TokenNone:
			return nil, nil, fmt.Errorf("%w: %s: received %d of %d bytes", ErrTimeout, what, len(buf), n)
		case dle.TokenEscape:
			return nil, &EscapeEvent{Char: tok.Value}, nil
		}
		buf = append(buf, tok.Value)
	}
	return buf, nil, nil
}

func (r *Reader) readHex(digits int, what string) (int, *EscapeEvent, error) {
	raw, esc, err := r.readN(digits, what)
	if err != nil || esc != nil {
		return 0, esc, err
	}

	// 15 hex digits always fit in an int64.
	v, err := strconv.ParseUint(string(raw), 16, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %q", ErrInvalidHeader, what, raw)
	}
	return int(v), nil, nil
}

// checkTerminator reads the terminator as raw bytes; it is never stuffed.
func (r *Reader) checkTerminator() error {
	got := make([]byte, 0, len(Terminator))
	for len(got) < len(Terminator) {
		b, ok, err := r.ReadRaw()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		got = append(got, b)
	}

	if !bytes.Equal(got, []byte(Terminator)) {
		return &TerminatorError{Got: got}
	}
	return nil
}

func (r *Reader) interrupted(c byte) (Message, error) {
	ev := &EscapeEvent{Char: c}
	if c != dle.Status {
		return Message{Kind: KindInterrupted, Escape: ev}, nil
	}

	data, nested, err := r.readN(StatusLen, "status payload")
	if err != nil {
		return Message{}, err
	}
	if nested != nil {
		// The later escape supersedes the status read.
		return Message{Kind: KindInterrupted, Escape: nested}, nil
	}
	if err := r.checkTerminator(); err != nil {
		return Message{}, err
	}

	ev.RData = data
	return Message{Kind: KindInterrupted, Escape: ev}, nil
}
