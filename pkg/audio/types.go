package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Standard stream rates of the voice consultation pipeline.
const (
	// InputSampleRate is the rate at which microphone audio is sent upstream.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the model's synthesised speech.
	OutputSampleRate = 24000

	// DefaultBlockSize is the number of samples the capture path processes
	// per block.
	DefaultBlockSize = 4096
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the microphone,
// encoded for the wire, or decoded from the model's response stream.
//
// A frame is immutable once produced. Its producer owns it until it is handed
// to the next stage.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for model output).
	SampleRate int

	// Channels: 1 for mono. The voice pipeline is mono end to end.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// WireChunk is the text-safe encoding of an [AudioFrame] as it crosses the
// transport boundary. Chunks are created by [NewWireChunk] and consumed
// immediately by the transport; they are never persisted.
type WireChunk struct {
	// Data is the base64 encoding of the frame's PCM bytes.
	Data string

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// PCMMIMEType returns the MIME-like descriptor for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// NewWireChunk encodes frame for the wire.
func NewWireChunk(frame AudioFrame) WireChunk {
	return WireChunk{
		Data:     EncodeBase64(frame.Data),
		MIMEType: PCMMIMEType(frame.SampleRate),
	}
}

// ParsePCMMIMEType extracts the sample rate from a descriptor such as
// "audio/pcm;rate=24000". It reports false when the type is not raw PCM or
// carries no valid rate.
func ParsePCMMIMEType(mimeType string) (int, bool) {
	base, params, _ := strings.Cut(mimeType, ";")
	if strings.TrimSpace(base) != "audio/pcm" {
		return 0, false
	}
	for p := range strings.SplitSeq(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k != "rate" {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}
