package device

import (
	"go.uber.org/zap"

	"github.com/quiqcl/basicproto/internal/serial"
)

// SerialOpener returns an Opener that opens the port with sc and wraps it
// in a Device built with opts. The port is flushed before first use so
// stale bytes from a previous session are not read as a response.
func SerialOpener(sc serial.Config, opts Options, log *zap.Logger) Opener {
	return func(port string) (*Device, error) {
		ch, err := serial.OpenChannel(port, sc)
		if err != nil {
			return nil, err
		}
		if err := ch.Flush(); err != nil {
			ch.Close()
			return nil, err
		}

		o := opts
		if o.Name == "" {
			o.Name = port
		}
		dev, err := New(ch, o, log)
		if err != nil {
			ch.Close()
			return nil, err
		}
		dev.log.Info("port opened",
			zap.String("port", ch.PortName()),
			zap.Int("baud", ch.BaudRate()),
		)
		return dev, nil
	}
}
