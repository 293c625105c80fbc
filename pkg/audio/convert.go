package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	switch {
	case f.Channels == 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter brings captured frames to the mono wire format: any channel
// count is averaged down to one, then the rate is resampled to Target.
// A converter belongs to one stream and is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warned sync.Once
}

// Convert returns frame in the target format. A frame that already matches is
// returned as is. Odd-length payloads yield an error wrapping [ErrOddLength].
func (c *FormatConverter) Convert(frame AudioFrame) (AudioFrame, error) {
	if len(frame.Data)%2 != 0 {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes", ErrOddLength, len(frame.Data))
	}
	src := Format{SampleRate: frame.SampleRate, Channels: max(frame.Channels, 1)}
	if src == c.Target {
		return frame, nil
	}
	c.warned.Do(func() {
		slog.Warn("capture device format differs from wire format; converting",
			"device", src.String(), "wire", c.Target.String())
	})

	pcm := frame.Data
	if src.Channels > 1 {
		pcm = Downmix16(pcm, src.Channels)
	}
	pcm = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}, nil
}

// Downmix16 averages interleaved 16-bit PCM with the given channel count into
// mono. Trailing bytes that do not form a whole frame are dropped.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := samples16(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := range out {
		var sum int32
		for _, s := range in[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(channels))
	}
	return bytes16(out)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate by linear
// interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := samples16(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	step := float64(srcRate) / float64(dstRate)
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		v := math.Round(a + (b-a)*(pos-float64(j)))
		out[i] = int16(max(min(v, math.MaxInt16), math.MinInt16))
	}
	return bytes16(out)
}

func samples16(pcm []byte) []int16 {
	s := make([]int16, len(pcm)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return s
}

func bytes16(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}
