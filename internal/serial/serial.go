// Package serial provides protocol.ByteChannel implementations over serial
// ports.
package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/quiqcl/basicproto/internal/protocol"
)

// Reference line settings of BasicProtocol devices.
const (
	DefaultBaudRate    = 57600
	DefaultReadTimeout = time.Second
	DefaultStopBits    = 2
)

// Config describes how a port is opened. The frame format is always eight
// data bits, no parity and no flow control.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
	StopBits    int
	// Raw selects the termios implementation, which can report the exact
	// output queue length. It is only available on Linux.
	Raw bool
}

// DefaultConfig returns 57600 baud 8N2 with a one second read timeout.
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		StopBits:    DefaultStopBits,
	}
}

// BaudRates lists the rates accepted by Validate, ascending.
var BaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000, 921600}

// Validate checks cfg before any port is opened.
func (c Config) Validate() error {
	if !slices.Contains(BaudRates, c.BaudRate) {
		return fmt.Errorf("serial: unsupported baud rate: %d", c.BaudRate)
	}
	if c.Raw && !SupportedBaudRate(c.BaudRate) {
		return fmt.Errorf("serial: raw port cannot use baud rate %d on this platform", c.BaudRate)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("serial: read timeout must be positive, got %s", c.ReadTimeout)
	}
	if _, err := stopBitsMode(c.StopBits); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	return nil
}

// Channel is an open serial port usable by protocol.Conn.
type Channel interface {
	protocol.ByteChannel
	io.Closer
	// Flush discards received bytes that have not been read.
	Flush() error
	PortName() string
	BaudRate() int
}

// ErrPortClosed marks a read or write on a port that has been closed. The
// port must be reopened.
var ErrPortClosed = errors.New("serial: port closed")

var (
	_ Channel = (*Port)(nil)
	_ Channel = (*RawPort)(nil)
)

// OpenChannel opens portName with the implementation selected by cfg.Raw.
func OpenChannel(portName string, cfg Config) (Channel, error) {
	if cfg.Raw {
		port, err := OpenRaw(portName, cfg)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	port, err := Open(portName, cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Port wraps a go.bug.st serial port.
type Port struct {
	port     serial.Port
	portName string
	cfg      Config
}

// Open opens a serial port with the given configuration.
func Open(portName string, cfg Config) (*Port, error) {
	stopBits, err := stopBitsMode(cfg.StopBits)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: stopBits,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		cfg:      cfg,
	}, nil
}

func stopBitsMode(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unsupported stop bits: %d", n)
	}
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	n, err := p.port.Write(data)
	return n, classify(err)
}

// Read reads data from the serial port. It returns (0, nil) on timeout.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	return n, classify(err)
}

// OutWaiting blocks until the output buffer is transmitted and reports an
// empty queue; the portable driver cannot read the queue length.
func (p *Port) OutWaiting() (int, error) {
	if err := p.port.Drain(); err != nil {
		return 0, err
	}
	return 0, nil
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	return p.cfg.BaudRate
}

// IsClosed reports whether err means the port was closed under a pending
// operation or before it.
func IsClosed(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}
	return errors.Is(err, ErrPortClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF)
}

// classify wraps closed-port errors with ErrPortClosed.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrPortClosed) || !IsClosed(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPortClosed, err)
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
