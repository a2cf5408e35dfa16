package detect

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiqcl/basicproto/internal/device"
	"github.com/quiqcl/basicproto/internal/dle"
	"github.com/quiqcl/basicproto/internal/protocol"
)

// fakePort answers the probe traffic of a BasicProtocol device. A silent
// port never replies, like a serial port with something else attached.
type fakePort struct {
	idn    string
	silent bool
	rx     []byte
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.silent {
		return len(b), nil
	}
	switch {
	case bytes.Equal(b, []byte{dle.DLE, dle.Clear}):
		p.rx = append(p.rx, dle.DLE, dle.Clear)
	case bytes.Contains(b, []byte(protocol.CmdIDN)):
		frame, err := protocol.EncodeCommand([]byte(p.idn))
		if err != nil {
			return 0, err
		}
		p.rx = append(p.rx, frame...)
	}
	return len(b), nil
}

func (p *fakePort) OutWaiting() (int, error) { return 0, nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

type fakeHost map[string]*fakePort

func (h fakeHost) open(port string) (*device.Device, error) {
	p, ok := h[port]
	if !ok {
		return nil, errors.New("no such port")
	}
	opts := device.DefaultOptions()
	opts.Name = port
	return device.New(p, opts, nil)
}

func TestDetectOnPort(t *testing.T) {
	host := fakeHost{"/dev/ttyUSB0": {idn: "Protocol v1_02"}}

	res, err := DetectOnPort("/dev/ttyUSB0", host.open)
	require.NoError(t, err)
	assert.Equal(t, &Result{Port: "/dev/ttyUSB0", IDN: "Protocol v1_02"}, res)
	assert.True(t, host["/dev/ttyUSB0"].closed)
}

func TestDetectOnPort_Silent(t *testing.T) {
	host := fakeHost{"/dev/ttyS0": {silent: true}}

	_, err := DetectOnPort("/dev/ttyS0", host.open)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrUnexpectedResponse)
	assert.True(t, host["/dev/ttyS0"].closed)
}

func TestScan(t *testing.T) {
	host := fakeHost{
		"/dev/ttyS0":   {silent: true},
		"/dev/ttyUSB0": {idn: "Protocol v1_02"},
		"/dev/ttyUSB1": {idn: "Protocol v1_01"},
	}
	ports := []string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB9"}

	var visited []string
	var failed int
	results, err := Scan(context.Background(), ports, host.open, func(port string, _ *Result, err error) {
		visited = append(visited, port)
		if err != nil {
			failed++
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []Result{
		{Port: "/dev/ttyUSB0", IDN: "Protocol v1_02"},
		{Port: "/dev/ttyUSB1", IDN: "Protocol v1_01"},
	}, results)
	assert.Equal(t, ports, visited)
	assert.Equal(t, 2, failed)
}

func TestScan_Cancelled(t *testing.T) {
	host := fakeHost{"/dev/ttyUSB0": {idn: "Protocol v1_02"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Scan(ctx, []string{"/dev/ttyUSB0"}, host.open, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
