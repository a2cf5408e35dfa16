package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiqcl/basicproto/internal/bitpattern"
	"github.com/quiqcl/basicproto/internal/dle"
	"github.com/quiqcl/basicproto/internal/protocol"
)

func newTestDevice(t *testing.T) (*Device, *simFPGA) {
	t.Helper()
	sim := newSimFPGA(DefaultPatternBytes)
	opts := DefaultOptions()
	opts.Name = "test"
	dev, err := New(sim, opts, nil)
	require.NoError(t, err)
	return dev, sim
}

func TestNew_InvalidPatternBytes(t *testing.T) {
	for _, n := range []int{0, -1, 16} {
		opts := DefaultOptions()
		opts.PatternBytes = n
		_, err := New(newSimFPGA(1), opts, nil)
		assert.ErrorIs(t, err, ErrOutOfRange, "pattern bytes %d", n)
	}
}

func TestDevice_ReadIDN(t *testing.T) {
	dev, sim := newTestDevice(t)

	idn, err := dev.ReadIDN()
	require.NoError(t, err)
	assert.Equal(t, "Protocol v1_02", idn)
	assert.Equal(t, "!5*IDN?\r\n", string(sim.written()))
}

func TestDevice_ReadDNA(t *testing.T) {
	dev, _ := newTestDevice(t)

	dna, ready, err := dev.ReadDNA()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "023456789ABCDEF", dna)
}

func TestDevice_ReadDNA_NotReady(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.dna = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	dna, ready, err := dev.ReadDNA()
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Empty(t, dna)
}

func TestDevice_ReadDNA_Empty(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.dna = nil

	_, _, err := dev.ReadDNA()
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestDevice_Intensity(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.AdjustIntensity(200))
	assert.Equal(t, byte(200), sim.intensity)

	v, err := dev.ReadIntensity()
	require.NoError(t, err)
	assert.Equal(t, 200, v)
}

func TestDevice_AdjustIntensity_Stuffed(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.AdjustIntensity(0x10))
	assert.Equal(t, "#11\x10\x10\r\n!dADJ INTENSITY\r\n", string(sim.written()))
	assert.Equal(t, byte(0x10), sim.intensity)
}

func TestDevice_AdjustIntensity_OutOfRange(t *testing.T) {
	dev, sim := newTestDevice(t)

	for _, v := range []int{-1, 256} {
		err := dev.AdjustIntensity(v)
		var rangeErr *RangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, v, rangeErr.Value)
		assert.Equal(t, 255, rangeErr.Max)
	}
	assert.Empty(t, sim.written())
}

func TestDevice_BTFBuffer(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.SetBTFReadCount(3))
	assert.Equal(t, 3, sim.readCount)

	// The buffer snapshot is the block most recently received.
	require.NoError(t, dev.UpdateBitPattern(bitpattern.Set(1)))
	require.NoError(t, dev.CaptureBTFBuffer())

	raw, err := dev.ReadBTFBuffer()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00, 0x00}, raw)
}

func TestDevice_SetBTFReadCount_Encoding(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.SetBTFReadCount(256))
	assert.Equal(t, "#12\x01\x00\r\n!eBTF READ COUNT\r\n", string(sim.written()))
}

func TestDevice_SetBTFReadCount_OutOfRange(t *testing.T) {
	dev, _ := newTestDevice(t)
	assert.ErrorIs(t, dev.SetBTFReadCount(257), ErrOutOfRange)
	assert.ErrorIs(t, dev.SetBTFReadCount(-1), ErrOutOfRange)
}

func TestDevice_ReadBTFBuffer_WrongKind(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.mute = true
	sim.rx = []byte("!2ok\r\n")

	_, err := dev.ReadBTFBuffer()
	assert.ErrorIs(t, err, protocol.ErrUnexpectedSignature)
}

func TestDevice_BitPattern(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.UpdateBitPattern(bitpattern.Set(1), bitpattern.Set(32), bitpattern.Set(9)))
	assert.Equal(t, []byte{0x80, 0x80, 0x00, 0x01}, sim.register)

	require.NoError(t, dev.UpdateBitPattern(bitpattern.Clear(32)))
	assert.Equal(t, []byte{0x80, 0x80, 0x00, 0x00}, sim.register, "untouched bits keep their value")

	p, err := dev.ReadBitPattern()
	require.NoError(t, err)
	assert.Equal(t, 32, p.Len())
	assert.Equal(t, "10000000100000000000000000000000", p.String())

	bit, err := dev.ReadBit(9)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), bit)

	bits, err := dev.ReadBits([]int{1, 2, 9})
	require.NoError(t, err)
	assert.Equal(t, map[int]uint8{1: 1, 2: 0, 9: 1}, bits)
}

func TestDevice_UpdateBitPattern_MaskBuffers(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.UpdateBitPattern(bitpattern.Set(1), bitpattern.Clear(32)))
	want := "#18\x80\x00\x00\x01\x80\x00\x00\x00\r\n!bUPDATE BITS\r\n"
	assert.Equal(t, want, string(sim.written()))
}

func TestDevice_Escape_Clear(t *testing.T) {
	dev, sim := newTestDevice(t)

	status, err := dev.Escape(dle.Clear)
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Equal(t, []byte{0x10, 'C'}, sim.written())
}

func TestDevice_Escape_Status(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.status = [5]byte{0x10, 0x00, 0xFF, 0x0F, 0xA5}

	status, err := dev.Escape(dle.Status)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "10100101", status.Word)
	assert.Equal(t, [4]string{"00010000", "00000000", "11111111", "00001111"}, status.Data)
}

func TestDevice_Escape_DebugEscapes(t *testing.T) {
	dev, _ := newTestDevice(t)

	for _, c := range []byte{dle.Trigger, dle.Arm, dle.Waveform} {
		status, err := dev.Escape(c)
		require.NoError(t, err, "escape %c", c)
		assert.Nil(t, status)
	}
}

func TestDevice_Escape_Unknown(t *testing.T) {
	dev, sim := newTestDevice(t)

	_, err := dev.Escape('Z')
	assert.ErrorIs(t, err, ErrUnknownEscape)
	assert.Empty(t, sim.written())
}

func TestDevice_Escape_NoEcho(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.mute = true

	_, err := dev.Escape(dle.Clear)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, protocol.KindEmpty, respErr.Got.Kind)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestDevice_Escape_WrongEcho(t *testing.T) {
	dev, sim := newTestDevice(t)
	sim.mute = true
	sim.rx = []byte{dle.DLE, 'A'}

	_, err := dev.Escape(dle.Clear)
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Contains(t, err.Error(), `\x10A`)
}

func TestDevice_Test(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.Test())
	assert.Equal(t, "!6\x10\x10TEST\x10\x10\r\n", string(sim.written()))
}

func TestDevice_Close(t *testing.T) {
	dev, sim := newTestDevice(t)

	require.NoError(t, dev.Close())
	assert.True(t, sim.closed)

	_, err := dev.ReadIDN()
	assert.ErrorIs(t, err, protocol.ErrChannelClosed)
	assert.True(t, errors.Is(err, errClosed))
}

func TestDevice_DoSerializes(t *testing.T) {
	dev, _ := newTestDevice(t)

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = dev.Do(func(*protocol.Conn) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestDevice_ConcurrentQueries(t *testing.T) {
	dev, _ := newTestDevice(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idn, err := dev.ReadIDN()
			if err == nil && idn != "Protocol v1_02" {
				err = errors.New("garbled response: " + idn)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestKnownEscape(t *testing.T) {
	for _, c := range []byte("CRTAW") {
		assert.True(t, KnownEscape(c), "%c", c)
	}
	for _, c := range []byte("cXr\x10") {
		assert.False(t, KnownEscape(c), "%q", c)
	}
}
