package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrLengthExceeded means a body is too long for its header encoding.
	// Nothing is written when it is returned.
	ErrLengthExceeded = errors.New("protocol: length exceeded")
	// ErrTerminatorMismatch means the bytes after a body were not "\r\n".
	// The stream is desynchronised; send the C escape to recover.
	ErrTerminatorMismatch = errors.New("protocol: terminator mismatch")
	// ErrUnexpectedSignature means the received message kind differs from
	// the expected one.
	ErrUnexpectedSignature = errors.New("protocol: unexpected signature")
	// ErrInterrupted means an escape sequence pre-empted the message.
	ErrInterrupted = errors.New("protocol: interrupted by escape sequence")
	// ErrInvalidHeader means a header digit was not hexadecimal.
	ErrInvalidHeader = errors.New("protocol: invalid header")
	// ErrTimeout means the read timeout elapsed in the middle of a frame.
	ErrTimeout = errors.New("protocol: read timeout inside frame")
	// ErrChannelClosed wraps any transport failure.
	ErrChannelClosed = errors.New("protocol: channel closed")
)

// LengthError reports a body that does not fit its frame kind.
type LengthError struct {
	Kind   string
	Length int
	Max    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("protocol: %s length %d is out of range [0, %d]", e.Kind, e.Length, e.Max)
}

func (e *LengthError) Unwrap() error { return ErrLengthExceeded }

// TerminatorError carries the bytes received in place of the terminator.
// Got is shorter than two bytes when the read timed out.
type TerminatorError struct {
	Got []byte
}

func (e *TerminatorError) Error() string {
	return fmt.Sprintf("protocol: terminator does not match: expected %q, received %q", Terminator, e.Got)
}

func (e *TerminatorError) Unwrap() error { return ErrTerminatorMismatch }

// SignatureError reports an unexpected message kind.
// Actual is 0 when nothing was received.
type SignatureError struct {
	Expected byte
	Actual   byte
}

func (e *SignatureError) Error() string {
	actual := strconv.QuoteRune(rune(e.Actual))
	if e.Actual == 0 {
		actual = SignatureName(0)
	}
	return fmt.Sprintf("protocol: expected signature %q but received %s", e.Expected, actual)
}

func (e *SignatureError) Unwrap() error { return ErrUnexpectedSignature }

// EscapeError is returned by helpers that must produce a body when an escape
// sequence arrives instead.
type EscapeError struct {
	Event *EscapeEvent
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("protocol: %s is detected", e.Event)
}

func (e *EscapeError) Unwrap() error { return ErrInterrupted }

func channelError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrChannelClosed, op, err)
}
