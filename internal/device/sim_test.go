package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/quiqcl/basicproto/internal/dle"
	"github.com/quiqcl/basicproto/internal/protocol"
)

var errClosed = errors.New("sim: closed")

// sliceSource feeds a protocol.Reader from memory; running out of bytes
// reads as a timeout.
type sliceSource struct {
	data []byte
}

func (s *sliceSource) Read(p []byte) (int, error) {
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// simFPGA is an in-memory BasicProtocol device. Each Write must carry whole
// frames or escape sequences, which is how protocol.Conn writes.
type simFPGA struct {
	mu        sync.Mutex
	rx        []byte // device -> host
	tx        bytes.Buffer
	register  []byte
	intensity byte
	lastBlock []byte
	captured  []byte
	readCount int
	idn       string
	dna       []byte
	status    [5]byte
	mute      bool // swallow every request without replying
	closed    bool
}

func newSimFPGA(patternBytes int) *simFPGA {
	return &simFPGA{
		register: make([]byte, patternBytes),
		idn:      "Protocol v1_02",
		dna:      []byte{0x10, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF},
		status:   [5]byte{0x01, 0x02, 0x04, 0x08, 0x80},
	}
}

func (s *simFPGA) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errClosed
	}
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n, nil
}

func (s *simFPGA) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errClosed
	}
	s.tx.Write(p)
	if !s.mute {
		s.handle(p)
	}
	return len(p), nil
}

func (s *simFPGA) OutWaiting() (int, error) {
	return 0, nil
}

func (s *simFPGA) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *simFPGA) handle(p []byte) {
	// Host escapes carry no payload, unlike the R reply.
	if len(p) == 2 && p[0] == dle.DLE && p[1] != dle.DLE {
		s.escape(p[1])
		return
	}

	r := protocol.NewReader(&sliceSource{data: p})
	for {
		msg, err := r.ReadNextMessage()
		if err != nil {
			panic(err)
		}
		switch msg.Kind {
		case protocol.KindEmpty:
			return
		case protocol.KindBlock:
			s.lastBlock = msg.Body
		case protocol.KindCommand:
			s.command(string(msg.Body))
		case protocol.KindInterrupted:
			s.escape(msg.Escape.Char)
		}
	}
}

func (s *simFPGA) command(cmd string) {
	switch cmd {
	case protocol.CmdIDN:
		s.replyCommand([]byte(s.idn))
	case protocol.CmdDNA:
		s.replyCommand(s.dna)
	case protocol.CmdAdjIntensity:
		s.intensity = s.lastBlock[0]
	case protocol.CmdReadIntensity:
		s.replyCommand([]byte{s.intensity})
	case protocol.CmdCaptureBTF:
		s.captured = append([]byte(nil), s.lastBlock...)
	case protocol.CmdBTFReadCount:
		s.readCount = int(binary.BigEndian.Uint16(s.lastBlock))
	case protocol.CmdReadBTF:
		n := min(s.readCount, len(s.captured))
		s.replyBlock(s.captured[:n])
	case protocol.CmdUpdateBits:
		n := len(s.register)
		mask, value := s.lastBlock[:n], s.lastBlock[n:]
		for i := range s.register {
			s.register[i] = s.register[i]&^mask[i] | value[i]&mask[i]
		}
	case protocol.CmdReadBits:
		s.replyCommand(s.register)
	}
}

func (s *simFPGA) escape(c byte) {
	s.rx = append(s.rx, dle.DLE, c)
	if c == dle.Status {
		s.rx = append(s.rx, dle.Encode(s.status[:])...)
		s.rx = append(s.rx, protocol.Terminator...)
	}
}

func (s *simFPGA) replyCommand(body []byte) {
	frame, err := protocol.EncodeCommand(body)
	if err != nil {
		panic(err)
	}
	s.rx = append(s.rx, frame...)
}

func (s *simFPGA) replyBlock(body []byte) {
	frame, err := protocol.EncodeBlock(body)
	if err != nil {
		panic(err)
	}
	s.rx = append(s.rx, frame...)
}

func (s *simFPGA) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.tx.Bytes()...)
}
