package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned by [DecodePCM16] when the byte payload cannot hold
// a whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM")

// FloatToPCM16 converts floating-point samples in [-1, 1] to little-endian
// signed 16-bit PCM by linear scaling, floor(s*32768), clamped to the int16
// range so that samples at or beyond ±1.0 cannot overflow.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := math.Floor(float64(s) * 32768)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 converts interleaved little-endian 16-bit PCM into per-channel
// float samples in [-1, 1) (each sample divided by 32768). The result is
// indexed [channel][frame].
func DecodePCM16(pcm []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	total := len(pcm) / 2
	if total%channels != 0 {
		return nil, fmt.Errorf("audio: %d samples do not divide into %d channels", total, channels)
	}
	frames := total / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			idx := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[idx:]))
			out[ch][i] = float32(s) / 32768.0
		}
	}
	return out, nil
}
