package protocol

import (
	"fmt"

	"github.com/quiqcl/basicproto/internal/dle"
)

// EncodeCommand builds a command frame: '!' <len> <stuffed body> "\r\n".
func EncodeCommand(cmd []byte) ([]byte, error) {
	if len(cmd) > MaxCommandLen {
		return nil, &LengthError{Kind: "command", Length: len(cmd), Max: MaxCommandLen}
	}

	header := fmt.Sprintf("%c%x", SigCommand, len(cmd))
	return buildFrame(header, cmd), nil
}

// EncodeBlock builds a modified BTF frame:
// '#' <num_digits> <byte_count> <stuffed body> "\r\n".
//
// Both header numbers are lowercase hex without leading zeros, so a
// ten-byte block starts with "#1a".
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > MaxBlockLen {
		return nil, &LengthError{Kind: "block", Length: len(data), Max: MaxBlockLen}
	}

	byteCount := fmt.Sprintf("%x", len(data))
	header := fmt.Sprintf("%c%x%s", SigBlock, len(byteCount), byteCount)
	return buildFrame(header, data), nil
}

func buildFrame(header string, body []byte) []byte {
	frame := make([]byte, 0, len(header)+dle.EncodedLen(body)+len(Terminator))
	frame = append(frame, header...)
	frame = append(frame, dle.Encode(body)...)
	frame = append(frame, Terminator...)
	return frame
}

// EncodeEscape builds the two-byte escape sequence for c.
// Escape sequences are not framed.
func EncodeEscape(c byte) []byte {
	return []byte{dle.DLE, c}
}
