package protocol

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/quiqcl/basicproto/internal/logging"
)

// ByteChannel is a half-duplex byte stream with a read timeout.
//
// Read must return (0, nil) when the read timeout elapses with no data.
// OutWaiting reports how many written bytes are still queued for
// transmission.
type ByteChannel interface {
	io.Reader
	io.Writer
	OutWaiting() (int, error)
}

// Default drain parameters.
const (
	DefaultDrainThreshold    = 7200
	DefaultDrainPollInterval = 100 * time.Millisecond
)

// Config holds the query timing parameters. It is copied at construction.
type Config struct {
	// DrainThreshold is the number of queued output bytes above which a
	// query keeps waiting before it starts reading the response.
	DrainThreshold int
	// DrainPollInterval is the sleep between output queue checks.
	DrainPollInterval time.Duration
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		DrainThreshold:    DefaultDrainThreshold,
		DrainPollInterval: DefaultDrainPollInterval,
	}
}

// Conn sends frames and reads messages over one ByteChannel.
//
// Conn is not safe for concurrent use. The protocol carries no message IDs,
// so exactly one request may be in flight; callers sharing a channel must
// serialise access themselves (see device.Device).
type Conn struct {
	ch     ByteChannel
	reader *Reader
	cfg    Config
	log    *zap.Logger
	sleep  func(time.Duration)
}

// NewConn binds a Conn to ch. A nil logger disables logging.
func NewConn(ch ByteChannel, cfg Config, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = DefaultDrainPollInterval
	}
	return &Conn{
		ch:     ch,
		reader: NewReader(ch),
		cfg:    cfg,
		log:    log,
		sleep:  time.Sleep,
	}
}

// Config returns the configuration the Conn was built with.
func (c *Conn) Config() Config {
	return c.cfg
}

// SendCommand encodes cmd as a command frame and writes it.
func (c *Conn) SendCommand(cmd []byte) error {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// SendBlock encodes data as a modified BTF frame and writes it.
func (c *Conn) SendBlock(data []byte) error {
	frame, err := EncodeBlock(data)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// SendEscape writes the escape sequence for ch.
func (c *Conn) SendEscape(ch byte) error {
	return c.write(EncodeEscape(ch))
}

// ReadNextMessage reads the next message from the channel.
func (c *Conn) ReadNextMessage() (Message, error) {
	msg, err := c.reader.ReadNextMessage()
	if err != nil {
		c.log.Debug("read failed", zap.Error(err))
		return Message{}, err
	}

	switch msg.Kind {
	case KindInterrupted:
		c.log.Info("escape sequence received",
			zap.Stringer("escape", msg.Escape),
			zap.Binary("status", msg.Escape.RData),
		)
	case KindEmpty:
		c.log.Debug("no message")
	default:
		fields := append([]zap.Field{zap.Stringer("kind", msg.Kind)}, logging.Frame(msg.Body)...)
		c.log.Debug("message received", fields...)
	}
	return msg, nil
}

// ReadExpect reads the next message and returns its body if it carries the
// expected signature.
func (c *Conn) ReadExpect(expect byte) ([]byte, error) {
	msg, err := c.ReadNextMessage()
	if err != nil {
		return nil, err
	}
	return msg.expect(expect)
}

// Query sends an optional block payload and a command, waits for the output
// queue to drain and reads the response. A nil payload sends no block.
func (c *Conn) Query(cmd, payload []byte) (Message, error) {
	if err := c.send(cmd, payload); err != nil {
		return Message{}, err
	}
	return c.ReadNextMessage()
}

// QueryExpect is Query followed by a signature check on the response.
func (c *Conn) QueryExpect(cmd, payload []byte, expect byte) ([]byte, error) {
	if err := c.send(cmd, payload); err != nil {
		return nil, err
	}
	return c.ReadExpect(expect)
}

func (c *Conn) send(cmd, payload []byte) error {
	// Encode both frames first so a length error leaves the channel untouched.
	cmdFrame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if payload != nil {
		blockFrame, err := EncodeBlock(payload)
		if err != nil {
			return err
		}
		if err := c.write(blockFrame); err != nil {
			return err
		}
	}
	if err := c.write(cmdFrame); err != nil {
		return err
	}
	return c.waitDrained()
}

// waitDrained blocks until at most DrainThreshold bytes remain queued, so the
// response is not lost to the read timeout while the request is still being
// transmitted.
func (c *Conn) waitDrained() error {
	for {
		n, err := c.ch.OutWaiting()
		if err != nil {
			return channelError("out waiting", err)
		}
		if n <= c.cfg.DrainThreshold {
			return nil
		}
		c.log.Debug("waiting for output to drain", zap.Int("queued", n))
		c.sleep(c.cfg.DrainPollInterval)
	}
}

func (c *Conn) write(frame []byte) error {
	c.log.Debug("frame sent", logging.Frame(frame)...)

	for len(frame) > 0 {
		n, err := c.ch.Write(frame)
		if err != nil {
			return channelError("write", err)
		}
		if n == 0 {
			return channelError("write", io.ErrShortWrite)
		}
		frame = frame[n:]
	}
	return nil
}
