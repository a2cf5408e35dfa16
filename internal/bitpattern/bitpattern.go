// Package bitpattern implements the device bit pattern register.
//
// Bits are addressed from 1. Index 1 is the most significant bit of the first
// byte on the wire and index 8*n is the least significant bit of the last.
// Updates are masked on the device, so bits not named in an update keep their
// value without a read-modify-write round trip.
package bitpattern

import (
	"errors"
	"fmt"

	"github.com/quiqcl/basicproto/internal/protocol"
)

// ErrIndexOutOfRange is returned for a bit index outside [1, Bits].
var ErrIndexOutOfRange = errors.New("bitpattern: index out of range")

// Update sets one bit.
type Update struct {
	Index int
	Value bool
}

// Set and Clear are shorthands for building updates.
func Set(index int) Update   { return Update{Index: index, Value: true} }
func Clear(index int) Update { return Update{Index: index, Value: false} }

// Layout is the size of a bit pattern.
type Layout struct {
	Bytes int
}

// Bits returns the number of addressable bits.
func (l Layout) Bits() int {
	return 8 * l.Bytes
}

func (l Layout) checkIndex(index int) error {
	if index < 1 || index > l.Bits() {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrIndexOutOfRange, index, l.Bits())
	}
	return nil
}

// Encode builds the mask and value buffers for a masked update.
// A later update to the same index overrides an earlier one.
func (l Layout) Encode(updates []Update) (mask, value []byte, err error) {
	mask = make([]byte, l.Bytes)
	value = make([]byte, l.Bytes)

	for _, u := range updates {
		if err := l.checkIndex(u.Index); err != nil {
			return nil, nil, err
		}
		byteIdx, bit := l.position(u.Index)
		mask[byteIdx] |= bit
		if u.Value {
			value[byteIdx] |= bit
		} else {
			value[byteIdx] &^= bit
		}
	}

	return mask, value, nil
}

// position maps a 1-based index to its byte offset and bit mask.
func (l Layout) position(index int) (int, byte) {
	zero := index - 1
	return zero / 8, byte(0x80) >> (zero % 8)
}

// Pattern is a decoded bit pattern. Pattern[0] is unused so that Pattern[i]
// is bit i.
type Pattern []uint8

// Decode unpacks raw register bytes, most significant bit first.
func Decode(raw []byte) Pattern {
	p := make(Pattern, 1, 1+8*len(raw))
	for _, b := range raw {
		for shift := 7; shift >= 0; shift-- {
			p = append(p, (b>>shift)&1)
		}
	}
	return p
}

// Len returns the number of bits in p.
func (p Pattern) Len() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Bit returns bit i.
func (p Pattern) Bit(i int) (uint8, error) {
	if i < 1 || i > p.Len() {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrIndexOutOfRange, i, p.Len())
	}
	return p[i], nil
}

// Bits returns the requested bits keyed by index.
func (p Pattern) Bits(indices []int) (map[int]uint8, error) {
	result := make(map[int]uint8, len(indices))
	for _, i := range indices {
		v, err := p.Bit(i)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// All returns the bits in index order without the placeholder.
func (p Pattern) All() []uint8 {
	if len(p) == 0 {
		return nil
	}
	return append([]uint8(nil), p[1:]...)
}

// String renders the pattern as a bit string, index 1 first.
func (p Pattern) String() string {
	buf := make([]byte, 0, p.Len())
	for _, b := range p.All() {
		buf = append(buf, '0'+b)
	}
	return string(buf)
}

// Querier is the subset of protocol.Conn used by Store.
type Querier interface {
	SendBlock(data []byte) error
	SendCommand(cmd []byte) error
	QueryExpect(cmd, payload []byte, expect byte) ([]byte, error)
}

// Store reads and updates the bit pattern of one device.
type Store struct {
	q      Querier
	layout Layout
}

// NewStore returns a Store for a pattern of patternBytes bytes.
func NewStore(q Querier, patternBytes int) *Store {
	return &Store{q: q, layout: Layout{Bytes: patternBytes}}
}

// Layout returns the pattern size.
func (s *Store) Layout() Layout {
	return s.layout
}

// Update sends mask ++ value as a block followed by UPDATE BITS.
// The device applies register = (register &^ mask) | (value & mask).
// Invalid indices are rejected before anything is written.
func (s *Store) Update(updates ...Update) error {
	mask, value, err := s.layout.Encode(updates)
	if err != nil {
		return err
	}

	payload := make([]byte, 0, 2*s.layout.Bytes)
	payload = append(payload, mask...)
	payload = append(payload, value...)

	if err := s.q.SendBlock(payload); err != nil {
		return fmt.Errorf("bitpattern: send mask: %w", err)
	}
	if err := s.q.SendCommand([]byte(protocol.CmdUpdateBits)); err != nil {
		return fmt.Errorf("bitpattern: send update: %w", err)
	}
	return nil
}

// Read queries the full pattern.
func (s *Store) Read() (Pattern, error) {
	raw, err := s.q.QueryExpect([]byte(protocol.CmdReadBits), nil, protocol.SigCommand)
	if err != nil {
		return nil, fmt.Errorf("bitpattern: read: %w", err)
	}
	if len(raw) != s.layout.Bytes {
		return nil, fmt.Errorf("bitpattern: read %d bytes, want %d", len(raw), s.layout.Bytes)
	}
	return Decode(raw), nil
}

// ReadBit reads the pattern and returns bit i.
func (s *Store) ReadBit(i int) (uint8, error) {
	if err := s.layout.checkIndex(i); err != nil {
		return 0, err
	}
	p, err := s.Read()
	if err != nil {
		return 0, err
	}
	return p.Bit(i)
}

// ReadBits reads the pattern and returns the requested bits.
func (s *Store) ReadBits(indices []int) (map[int]uint8, error) {
	for _, i := range indices {
		if err := s.layout.checkIndex(i); err != nil {
			return nil, err
		}
	}
	p, err := s.Read()
	if err != nil {
		return nil, err
	}
	return p.Bits(indices)
}
