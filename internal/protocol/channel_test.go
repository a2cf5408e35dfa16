package protocol

import (
	"bytes"
	"time"
)

// fakeChannel replays canned device output and records what was written.
// An exhausted rx buffer behaves like a read timeout.
type fakeChannel struct {
	rx         []byte
	tx         bytes.Buffer
	outWaiting []int
	readErr    error
	writeErr   error
	maxWrite   int
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	if len(f.rx) == 0 {
		return 0, f.readErr
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.maxWrite > 0 && len(p) > f.maxWrite {
		p = p[:f.maxWrite]
	}
	return f.tx.Write(p)
}

func (f *fakeChannel) OutWaiting() (int, error) {
	if len(f.outWaiting) == 0 {
		return 0, nil
	}
	n := f.outWaiting[0]
	f.outWaiting = f.outWaiting[1:]
	return n, nil
}

func newTestConn(rx ...[]byte) (*Conn, *fakeChannel, *[]time.Duration) {
	ch := &fakeChannel{rx: bytes.Join(rx, nil)}
	conn := NewConn(ch, DefaultConfig(), nil)
	var slept []time.Duration
	conn.sleep = func(d time.Duration) { slept = append(slept, d) }
	return conn, ch, &slept
}

func mustCommand(body string) []byte {
	frame, err := EncodeCommand([]byte(body))
	if err != nil {
		panic(err)
	}
	return frame
}

func mustBlock(body []byte) []byte {
	frame, err := EncodeBlock(body)
	if err != nil {
		panic(err)
	}
	return frame
}
