package audio_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/aisnitch/snitch/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func unpcm16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestDownmix16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
		{"stereo average", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"stereo extremes do not overflow", []int16{32767, 32767, -32768, -32768}, 2, []int16{32767, -32768}},
		{"three channels", []int16{3, 6, 9, -3, -6, -9}, 3, []int16{6, -6}},
		{"partial frame dropped", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unpcm16(audio.Downmix16(pcm16(tt.in...), tt.channels))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Downmix16 = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	ramp := pcm16(0, 300, 600, 900, 1200, 1500)

	tests := []struct {
		name     string
		src, dst int
		wantLen  int
		check    func(t *testing.T, out []int16)
	}{
		{name: "same rate", src: 16000, dst: 16000, wantLen: 6},
		{name: "zero source rate", src: 0, dst: 16000, wantLen: 6},
		{name: "negative target rate", src: 48000, dst: -1, wantLen: 6},
		{
			name: "downsample by three", src: 48000, dst: 16000, wantLen: 2,
			check: func(t *testing.T, out []int16) {
				if out[0] != 0 || out[1] != 900 {
					t.Errorf("samples = %v, want [0 900]", out)
				}
			},
		},
		{
			name: "upsample interpolates", src: 8000, dst: 16000, wantLen: 12,
			check: func(t *testing.T, out []int16) {
				if out[1] != 150 || out[2] != 300 {
					t.Errorf("samples = %v, want midpoint 150 then 300", out[:3])
				}
				if last := out[len(out)-1]; last != 1500 {
					t.Errorf("last sample = %d, want held 1500", last)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := unpcm16(audio.ResampleMono16(ramp, tt.src, tt.dst))
			if len(out) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(out), tt.wantLen)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestResampleMono16_TooShortForTarget(t *testing.T) {
	if out := audio.ResampleMono16(pcm16(5), 48000, 16000); out != nil {
		t.Errorf("ResampleMono16 = %v, want nil", out)
	}
}

func TestFormatConverter_MatchingFormatUnchanged(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{Data: pcm16(1, 2, 3), SampleRate: 16000, Channels: 1}
	out, err := conv.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching frame was copied")
	}
}

func TestFormatConverter_DeviceToWire(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{
		Data:       pcm16(100, 300, 100, 300, 100, 300, 500, 700, 500, 700, 500, 700),
		SampleRate: 48000,
		Channels:   2,
		Timestamp:  42,
	}
	out, err := conv.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.SampleRate != 16000 || out.Channels != 1 || out.Timestamp != 42 {
		t.Errorf("format = %dHz %dch ts=%v", out.SampleRate, out.Channels, out.Timestamp)
	}
	if got, want := unpcm16(out.Data), []int16{200, 600}; !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}

func TestFormatConverter_OddLength(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	for _, rate := range []int{16000, 48000} {
		_, err := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: rate, Channels: 1})
		if !errors.Is(err, audio.ErrOddLength) {
			t.Errorf("rate %d: err = %v, want ErrOddLength", rate, err)
		}
	}
}
