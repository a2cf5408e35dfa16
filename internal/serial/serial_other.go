//go:build !linux

package serial

import (
	"errors"
)

var errRawUnsupported = errors.New("raw serial port not supported on this platform")

// RawPort is a stub for non-Linux platforms.
// OpenRaw always fails, so no RawPort value is ever created.
type RawPort struct{}

// SupportedBaudRate reports whether the raw port can be opened at rate.
func SupportedBaudRate(rate int) bool {
	return false
}

// OpenRaw is a stub for non-Linux platforms.
func OpenRaw(portName string, cfg Config) (*RawPort, error) {
	return nil, errRawUnsupported
}

// Close is a stub - never called on non-Linux platforms.
func (p *RawPort) Close() error {
	return errRawUnsupported
}

// Write is a stub - never called on non-Linux platforms.
func (p *RawPort) Write(data []byte) (int, error) {
	return 0, errRawUnsupported
}

// Read is a stub - never called on non-Linux platforms.
func (p *RawPort) Read(buf []byte) (int, error) {
	return 0, errRawUnsupported
}

// OutWaiting is a stub - never called on non-Linux platforms.
func (p *RawPort) OutWaiting() (int, error) {
	return 0, errRawUnsupported
}

// Flush is a stub - never called on non-Linux platforms.
func (p *RawPort) Flush() error {
	return errRawUnsupported
}

// PortName is a stub - never called on non-Linux platforms.
func (p *RawPort) PortName() string {
	return ""
}

// BaudRate is a stub - never called on non-Linux platforms.
func (p *RawPort) BaudRate() int {
	return 0
}
