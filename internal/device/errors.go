package device

import (
	"errors"
	"fmt"

	"github.com/quiqcl/basicproto/internal/protocol"
)

var (
	// ErrOutOfRange is returned when an argument is outside its valid range.
	ErrOutOfRange = errors.New("device: value out of range")
	// ErrUnexpectedResponse is returned when a reply is well-formed but not
	// the one the operation asked for.
	ErrUnexpectedResponse = errors.New("device: unexpected response")
	// ErrUnknownEscape is returned by Escape for characters the protocol
	// does not define.
	ErrUnknownEscape = errors.New("device: unknown escape character")
)

// RangeError reports a value outside [Min, Max].
type RangeError struct {
	Name  string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("device: %s (=%d) is out of range: [%d, %d]", e.Name, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

func checkRange(name string, value, lo, hi int) error {
	if value < lo || value > hi {
		return &RangeError{Name: name, Value: value, Min: lo, Max: hi}
	}
	return nil
}

// ResponseError carries the message received in place of the expected one.
type ResponseError struct {
	Op  string
	Got protocol.Message
}

func (e *ResponseError) Error() string {
	switch e.Got.Kind {
	case protocol.KindInterrupted:
		return fmt.Sprintf("device: %s: unexpected response: %s", e.Op, e.Got.Escape)
	case protocol.KindCommand, protocol.KindBlock:
		return fmt.Sprintf("device: %s: unexpected response: %c %q", e.Op, e.Got.Signature, e.Got.Body)
	default:
		return fmt.Sprintf("device: %s: unexpected response: %s", e.Op, e.Got.Kind)
	}
}

func (e *ResponseError) Unwrap() error { return ErrUnexpectedResponse }
