// Package dle implements the DLE byte stuffing used inside BasicProtocol
// frame bodies.
//
// A literal 0x10 (DLE) byte inside a body is sent as two DLE bytes. A DLE
// followed by any other byte is an escape sequence, which pre-empts
// whatever frame is being received.
package dle

import (
	"bytes"
	"errors"
	"fmt"
)

// DLE is the ASCII Data Link Escape byte.
const DLE = 0x10

// Escape characters understood by BasicProtocol devices.
const (
	Clear    = 'C' // clear the input buffer and reset the receiver FSM
	Status   = 'R' // read the 32 status bits
	Trigger  = 'T' // set trigger (debug builds only)
	Arm      = 'A' // arm trigger (debug builds only)
	Waveform = 'W' // read captured waveform (debug builds only)
)

var (
	// ErrEscapeSequence is returned by Decode when the input holds an
	// escape sequence instead of a stuffed DLE pair.
	ErrEscapeSequence = errors.New("dle: escape sequence in stuffed data")
	// ErrTruncated is returned by Decode when the input ends with a lone DLE.
	ErrTruncated = errors.New("dle: truncated DLE pair")
)

// Encode doubles every DLE byte in data.
func Encode(data []byte) []byte {
	result := make([]byte, 0, EncodedLen(data))
	for _, b := range data {
		if b == DLE {
			result = append(result, DLE, DLE)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// EncodedLen returns the length of Encode(data) without encoding it.
func EncodedLen(data []byte) int {
	return len(data) + bytes.Count(data, []byte{DLE})
}

// Decode collapses stuffed DLE pairs back to single bytes.
func Decode(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != DLE {
			result = append(result, b)
			continue
		}
		if i+1 >= len(data) {
			return nil, ErrTruncated
		}
		i++
		if data[i] != DLE {
			return nil, fmt.Errorf("%w: \\x10%c", ErrEscapeSequence, data[i])
		}
		result = append(result, DLE)
	}

	return result, nil
}
