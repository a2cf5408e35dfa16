// Package detect finds BasicProtocol devices on the serial ports of the
// host.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiqcl/basicproto/internal/device"
	"github.com/quiqcl/basicproto/internal/dle"
	"github.com/quiqcl/basicproto/internal/serial"
)

// ErrNoDevice is returned when no port answered the probe.
var ErrNoDevice = errors.New("detect: no BasicProtocol device found")

// Result represents a detected device.
type Result struct {
	Port string
	IDN  string
}

// Probe resynchronises dev with the C escape and reads its identification.
func Probe(dev *device.Device) (string, error) {
	if _, err := dev.Escape(dle.Clear); err != nil {
		return "", fmt.Errorf("clear: %w", err)
	}
	return dev.ReadIDN()
}

// DetectOnPort opens portName, probes it and closes it again.
func DetectOnPort(portName string, open device.Opener) (*Result, error) {
	dev, err := open(portName)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	idn, err := Probe(dev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}
	return &Result{Port: portName, IDN: idn}, nil
}

// Scan probes each port in turn and returns every responder. onPort, if
// not nil, is called after each port with its result or error. Scan stops
// early with ctx's error when ctx is done.
func Scan(ctx context.Context, ports []string, open device.Opener, onPort func(port string, res *Result, err error)) ([]Result, error) {
	var results []Result
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := DetectOnPort(port, open)
		if onPort != nil {
			onPort(port, res, err)
		}
		if err == nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// DetectDevice returns the first responder among the host's serial ports.
func DetectDevice(ctx context.Context, open device.Opener) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no serial ports found", ErrNoDevice)
	}

	var lastErr error
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := DetectOnPort(port, open)
		if err != nil {
			lastErr = err
			continue
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w (last error: %w)", ErrNoDevice, lastErr)
}
