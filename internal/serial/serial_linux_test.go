//go:build linux

package serial

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVtime(t *testing.T) {
	tests := []struct {
		ms   int64
		want uint8
	}{
		{0, 1},
		{50, 1},
		{100, 1},
		{1000, 10},
		{25500, 255},
		{60000, 255},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, vtime(tc.ms), "vtime(%d)", tc.ms)
	}
}

func TestSupportedBaudRate(t *testing.T) {
	assert.True(t, SupportedBaudRate(57600))
	assert.True(t, SupportedBaudRate(921600))
	assert.False(t, SupportedBaudRate(12345))
}

func TestRawPort_ReadAfterClose(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatal(err)
	}
	p := &RawPort{fd: int(f.Fd()), file: f, portName: f.Name(), cfg: DefaultConfig()}
	assert.Equal(t, 57600, p.BaudRate())
	assert.NoError(t, p.Close())

	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrPortClosed)

	_, err = p.Write([]byte{0x10, 'C'})
	assert.ErrorIs(t, err, ErrPortClosed)
}
