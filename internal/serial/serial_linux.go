//go:build linux

package serial

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

// termios constants for Linux
const (
	TCGETS   = 0x5401
	TCSETSW  = 0x5403
	TCFLSH   = 0x540B
	TIOCOUTQ = 0x5411

	// c_iflag
	IGNBRK = 0x1
	BRKINT = 0x2
	PARMRK = 0x8
	ISTRIP = 0x20
	INLCR  = 0x40
	IGNCR  = 0x80
	ICRNL  = 0x100
	IXON   = 0x400
	IXANY  = 0x800
	IXOFF  = 0x1000

	// c_oflag
	OPOST = 0x1

	// c_cflag
	CSIZE   = 0x30
	CS8     = 0x30
	CSTOPB  = 0x40
	CREAD   = 0x80
	PARENB  = 0x100
	PARODD  = 0x200
	CLOCAL  = 0x800
	CRTSCTS = 0x80000000

	// c_lflag
	ISIG   = 0x1
	ICANON = 0x2
	ECHO   = 0x8
	ECHONL = 0x40
	IEXTEN = 0x8000

	// VMIN/VTIME indices
	VMIN  = 6
	VTIME = 5

	// tcflush constants
	TCIFLUSH = 0
)

// Baud rate constants
var baudRates = map[int]uint32{
	9600:   0xd,
	19200:  0xe,
	38400:  0xf,
	57600:  0x1001,
	115200: 0x1002,
	230400: 0x1003,
	460800: 0x1004,
	500000: 0x1005,
	576000: 0x1006,
	921600: 0x1007,
}

// SupportedBaudRate reports whether the raw port can be opened at rate.
func SupportedBaudRate(rate int) bool {
	_, ok := baudRates[rate]
	return ok
}

// termios structure for Linux
type termios struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   uint8
	Cc     [32]uint8
	Ispeed uint32
	Ospeed uint32
}

// RawPort is a serial port using raw syscalls. Unlike Port it reports the
// exact output queue length.
type RawPort struct {
	fd       int
	file     *os.File
	portName string
	cfg      Config
}

// OpenRaw opens a serial port using raw syscalls
func OpenRaw(portName string, cfg Config) (*RawPort, error) {
	// Open with O_RDWR | O_NOCTTY | O_NONBLOCK
	fd, err := syscall.Open(portName, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Clear non-blocking mode after open using Syscall
	flags, _, errno := syscall.Syscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_GETFL, 0)
	if errno == 0 {
		syscall.Syscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_SETFL, flags&^syscall.O_NONBLOCK)
	}

	port := &RawPort{
		fd:       fd,
		file:     os.NewFile(uintptr(fd), portName),
		portName: portName,
		cfg:      cfg,
	}

	if err := port.configure(); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return port, nil
}

func (p *RawPort) configure() error {
	var t termios

	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.fd), TCGETS, uintptr(unsafe.Pointer(&t))); errno != 0 {
		return fmt.Errorf("tcgetattr failed: %v", errno)
	}

	baudCode, ok := baudRates[p.cfg.BaudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", p.cfg.BaudRate)
	}

	// Configure for raw mode (like cfmakeraw)
	t.Iflag &^= IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON | IXOFF | IXANY
	t.Oflag &^= OPOST
	t.Lflag &^= ECHO | ECHONL | ICANON | ISIG | IEXTEN
	t.Cflag &^= CSIZE | PARENB | PARODD | CSTOPB | CRTSCTS

	t.Cflag |= CS8 | CREAD | CLOCAL
	switch p.cfg.StopBits {
	case 1:
	case 2:
		t.Cflag |= CSTOPB
	default:
		return fmt.Errorf("unsupported stop bits: %d", p.cfg.StopBits)
	}

	t.Ispeed = baudCode
	t.Ospeed = baudCode

	// VMIN=0 makes VTIME an inter-byte timeout in tenths of a second.
	t.Cc[VMIN] = 0
	t.Cc[VTIME] = vtime(p.cfg.ReadTimeout.Milliseconds())

	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.fd), TCSETSW, uintptr(unsafe.Pointer(&t))); errno != 0 {
		return fmt.Errorf("tcsetattr failed: %v", errno)
	}

	return nil
}

func vtime(ms int64) uint8 {
	v := ms / 100
	if v < 1 {
		v = 1
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// Close closes the serial port
func (p *RawPort) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Write writes data to the serial port
func (p *RawPort) Write(data []byte) (int, error) {
	n, err := p.file.Write(data)
	return n, classify(err)
}

// Read reads data from the serial port. A VTIME expiry yields (0, nil).
func (p *RawPort) Read(buf []byte) (int, error) {
	n, err := syscall.Read(p.fd, buf)
	if n < 0 {
		n = 0
	}
	return n, classify(err)
}

// OutWaiting returns the number of bytes in the output queue (TIOCOUTQ).
func (p *RawPort) OutWaiting() (int, error) {
	var n int32
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.fd), TIOCOUTQ, uintptr(unsafe.Pointer(&n))); errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// Flush discards received but unread data
func (p *RawPort) Flush() error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.fd), TCFLSH, TCIFLUSH)
	if errno != 0 {
		return errno
	}
	return nil
}

// PortName returns the port name
func (p *RawPort) PortName() string {
	return p.portName
}

// BaudRate returns the configured baud rate
func (p *RawPort) BaudRate() int {
	return p.cfg.BaudRate
}
