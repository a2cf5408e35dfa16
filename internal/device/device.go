// Package device exposes the BasicProtocol operations shared by every FPGA
// instrument (DDS, ADC, PID controllers) over one owned channel.
//
// A Device is the only handle to its channel. Every operation runs under the
// Device mutex, so logical sub-devices multiplexed over one physical port
// must share the same *Device and never open the port twice (see Registry).
package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/quiqcl/basicproto/internal/bitpattern"
	"github.com/quiqcl/basicproto/internal/dle"
	"github.com/quiqcl/basicproto/internal/protocol"
)

// DefaultPatternBytes is the bit pattern size of the reference firmware.
const DefaultPatternBytes = 4

// MaxIntensity is the largest LED intensity value.
const MaxIntensity = 0xFF

// Options configures a Device. It is copied at construction.
type Options struct {
	Name         string
	PatternBytes int
	Protocol     protocol.Config
}

// DefaultOptions returns options for the reference firmware.
func DefaultOptions() Options {
	return Options{
		PatternBytes: DefaultPatternBytes,
		Protocol:     protocol.DefaultConfig(),
	}
}

// Status is the decoded reply to the R escape.
type Status struct {
	Word string    // status bits
	Data [4]string // data words, 8-digit bit strings
}

// Device is a handle to one BasicProtocol device.
type Device struct {
	mu     sync.Mutex
	conn   *protocol.Conn
	bits   *bitpattern.Store
	closer io.Closer
	name   string
	log    *zap.Logger
}

// New builds a Device over ch. If ch is an io.Closer, Close closes it.
func New(ch protocol.ByteChannel, opts Options, log *zap.Logger) (*Device, error) {
	if err := checkRange("pattern bytes", opts.PatternBytes, 1, protocol.MaxCommandLen); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Name != "" {
		log = log.With(zap.String("device", opts.Name))
	}

	conn := protocol.NewConn(ch, opts.Protocol, log.Named("protocol"))
	d := &Device{
		conn: conn,
		bits: bitpattern.NewStore(conn, opts.PatternBytes),
		name: opts.Name,
		log:  log,
	}
	if c, ok := ch.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

// Name returns the configured device name.
func (d *Device) Name() string {
	return d.name
}

// Layout returns the bit pattern size.
func (d *Device) Layout() bitpattern.Layout {
	return d.bits.Layout()
}

// Do runs fn with exclusive access to the connection. Drivers layered on top
// of the device (DDS, ADC, compensator commands) must issue their traffic
// through Do so it never overlaps with another request.
func (d *Device) Do(fn func(conn *protocol.Conn) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fn(d.conn)
}

// Close closes the underlying channel.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Info("closing device")
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// ReadIDN returns the identification string, e.g. "Protocol v1_02".
// Boards running the same bitstream return the same string; use ReadDNA to
// tell boards apart.
func (d *Device) ReadIDN() (string, error) {
	var idn []byte
	err := d.Do(func(conn *protocol.Conn) (err error) {
		idn, err = conn.QueryExpect([]byte(protocol.CmdIDN), nil, protocol.SigCommand)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read IDN: %w", err)
	}
	return string(idn), nil
}

// ReadDNA returns the 57-bit device DNA as 15 uppercase hex digits.
// ready is false while the device is still reading its DNA port.
func (d *Device) ReadDNA() (dna string, ready bool, err error) {
	var raw []byte
	err = d.Do(func(conn *protocol.Conn) (err error) {
		raw, err = conn.QueryExpect([]byte(protocol.CmdDNA), nil, protocol.SigCommand)
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("read DNA: %w", err)
	}
	if len(raw) == 0 {
		return "", false, fmt.Errorf("read DNA: empty response: %w", ErrUnexpectedResponse)
	}

	hexStr := fmt.Sprintf("%X", raw)
	// The first nibble flags whether the DNA read has completed.
	if hexStr[0] != '1' {
		return "", false, nil
	}
	return hexStr[1:], true, nil
}

// Test sends a command that the device ignores. It exercises DLE stuffing
// in both directions of the device receiver.
func (d *Device) Test() error {
	return d.Do(func(conn *protocol.Conn) error {
		return conn.SendCommand([]byte(protocol.CmdTest))
	})
}

// AdjustIntensity sets the LED intensity, 0-255.
func (d *Device) AdjustIntensity(value int) error {
	if err := checkRange("intensity value", value, 0, MaxIntensity); err != nil {
		return err
	}
	return d.Do(func(conn *protocol.Conn) error {
		if err := conn.SendBlock([]byte{byte(value)}); err != nil {
			return err
		}
		return conn.SendCommand([]byte(protocol.CmdAdjIntensity))
	})
}

// ReadIntensity returns the current LED intensity.
func (d *Device) ReadIntensity() (int, error) {
	var raw []byte
	err := d.Do(func(conn *protocol.Conn) (err error) {
		raw, err = conn.QueryExpect([]byte(protocol.CmdReadIntensity), nil, protocol.SigCommand)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read intensity: %w", err)
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("read intensity: %d-byte response: %w", len(raw), ErrUnexpectedResponse)
	}
	return int(raw[0]), nil
}

// CaptureBTFBuffer snapshots the device BTF receive buffer.
func (d *Device) CaptureBTFBuffer() error {
	return d.Do(func(conn *protocol.Conn) error {
		return conn.SendCommand([]byte(protocol.CmdCaptureBTF))
	})
}

// SetBTFReadCount sets how many bytes ReadBTFBuffer returns.
func (d *Device) SetBTFReadCount(n int) error {
	if err := checkRange("BTF buffer read count", n, 0, protocol.MaxBlockLen); err != nil {
		return err
	}

	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(n))

	return d.Do(func(conn *protocol.Conn) error {
		if err := conn.SendBlock(payload); err != nil {
			return err
		}
		return conn.SendCommand([]byte(protocol.CmdBTFReadCount))
	})
}

// ReadBTFBuffer returns the snapshot taken by CaptureBTFBuffer, truncated to
// the count set by SetBTFReadCount.
func (d *Device) ReadBTFBuffer() ([]byte, error) {
	var raw []byte
	err := d.Do(func(conn *protocol.Conn) (err error) {
		raw, err = conn.QueryExpect([]byte(protocol.CmdReadBTF), nil, protocol.SigBlock)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read BTF buffer: %w", err)
	}
	return raw, nil
}

// UpdateBitPattern changes only the named bits of the bit pattern.
func (d *Device) UpdateBitPattern(updates ...bitpattern.Update) error {
	return d.Do(func(*protocol.Conn) error {
		return d.bits.Update(updates...)
	})
}

// ReadBitPattern returns the whole bit pattern.
func (d *Device) ReadBitPattern() (bitpattern.Pattern, error) {
	var p bitpattern.Pattern
	err := d.Do(func(*protocol.Conn) (err error) {
		p, err = d.bits.Read()
		return err
	})
	return p, err
}

// ReadBit returns bit index of the bit pattern.
func (d *Device) ReadBit(index int) (uint8, error) {
	var v uint8
	err := d.Do(func(*protocol.Conn) (err error) {
		v, err = d.bits.ReadBit(index)
		return err
	})
	return v, err
}

// ReadBits returns the requested bits of the bit pattern keyed by index.
func (d *Device) ReadBits(indices []int) (map[int]uint8, error) {
	var v map[int]uint8
	err := d.Do(func(*protocol.Conn) (err error) {
		v, err = d.bits.ReadBits(indices)
		return err
	})
	return v, err
}

// Escape sends the escape sequence for c and checks that the device echoes
// it. For the R escape the returned Status holds the five payload bytes;
// it is nil for every other escape.
//
// C clears the device input buffer and resets its receiver, which is how a
// caller resynchronises after ErrTerminatorMismatch.
func (d *Device) Escape(c byte) (*Status, error) {
	if !KnownEscape(c) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEscape, c)
	}

	var msg protocol.Message
	err := d.Do(func(conn *protocol.Conn) (err error) {
		if err := conn.SendEscape(c); err != nil {
			return err
		}
		msg, err = conn.ReadNextMessage()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("escape %q: %w", c, err)
	}

	if msg.Kind != protocol.KindInterrupted || msg.Escape.Char != c {
		d.log.Warn("escape not echoed", zap.String("escape", string(c)), zap.Stringer("got", msg.Kind))
		return nil, &ResponseError{Op: fmt.Sprintf("escape %q", c), Got: msg}
	}

	d.log.Info("escape acknowledged", zap.String("escape", string(c)))
	if c != dle.Status {
		return nil, nil
	}

	word, data, err := msg.Escape.Status()
	if err != nil {
		return nil, err
	}
	return &Status{Word: word, Data: data}, nil
}

// KnownEscape reports whether c is one of the protocol escape characters.
func KnownEscape(c byte) bool {
	switch c {
	case dle.Clear, dle.Status, dle.Trigger, dle.Arm, dle.Waveform:
		return true
	default:
		return false
	}
}
