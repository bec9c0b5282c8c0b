package runner

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/rand"
)

const (
	MockSampleRate    = 44100
	MockMaxSeconds    = 5
	wavHeaderSize     = 44
	wavBitsPerSample  = 16
	wavBytesPerSample = wavBitsPerSample / 8
	wavFormatPCM      = 1
	wavChannelsMono   = 1
)

// WriteNoiseWAV writes seconds of 16-bit mono PCM white noise.
func WriteNoiseWAV(w io.Writer, seconds int, rng *rand.Rand) (int64, error) {
	numSamples := MockSampleRate * seconds
	dataSize := uint32(numSamples * wavBytesPerSample)

	bw := bufio.NewWriter(w)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(wavFormatPCM),
		uint16(wavChannelsMono),
		uint32(MockSampleRate),
		uint32(MockSampleRate * wavChannelsMono * wavBytesPerSample),
		uint16(wavChannelsMono * wavBytesPerSample),
		uint16(wavBitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(bw, binary.LittleEndian, field); err != nil {
			return 0, err
		}
	}

	var sample [2]byte
	for i := 0; i < numSamples; i++ {
		v := int16(rng.Intn(65535) - 32767)
		binary.LittleEndian.PutUint16(sample[:], uint16(v))
		if _, err := bw.Write(sample[:]); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(wavHeaderSize) + int64(dataSize), nil
}
