package protocol

import (
	"fmt"

	"github.com/quiqcl/basicproto/internal/dle"
)

// Kind identifies the outcome of reading one message.
type Kind int

const (
	// KindEmpty means nothing arrived before the read timeout.
	KindEmpty Kind = iota
	// KindCommand is a '!' frame.
	KindCommand
	// KindBlock is a '#' (modified BTF) frame.
	KindBlock
	// KindMalformed means the leading byte was not a known signature.
	KindMalformed
	// KindInterrupted means an escape sequence arrived; see Message.Escape.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCommand:
		return "command"
	case KindBlock:
		return "block"
	case KindMalformed:
		return "malformed"
	case KindInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one decoded unit read from the channel.
//
// Body is set for KindCommand and KindBlock, Signature for KindCommand,
// KindBlock and KindMalformed, and Escape for KindInterrupted.
type Message struct {
	Kind      Kind
	Signature byte
	Body      []byte
	Escape    *EscapeEvent
}

// EscapeEvent is an escape sequence detected in the stream.
type EscapeEvent struct {
	Char byte
	// RData holds the five bytes following an R escape.
	RData []byte
}

// StatusLen is the number of payload bytes that follow an R escape.
const StatusLen = 5

func (e *EscapeEvent) String() string {
	return fmt.Sprintf(`\x10%c`, e.Char)
}

// Status splits the R payload into four data words and the status word,
// each rendered as an 8-digit MSB-first bit string.
func (e *EscapeEvent) Status() (status string, data [4]string, err error) {
	if e.Char != dle.Status {
		return "", data, fmt.Errorf("protocol: %s carries no status payload", e)
	}
	if len(e.RData) != StatusLen {
		return "", data, fmt.Errorf("protocol: status payload has %d bytes, want %d", len(e.RData), StatusLen)
	}
	for i := range data {
		data[i] = fmt.Sprintf("%08b", e.RData[i])
	}
	return fmt.Sprintf("%08b", e.RData[4]), data, nil
}
