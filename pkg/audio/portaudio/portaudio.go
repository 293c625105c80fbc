// Package portaudio implements [audio.Microphone] and [audio.Speaker] on top
// of the PortAudio C library.
//
// Both devices run in callback mode: PortAudio's audio thread hands each
// buffer to a Go callback, which copies it and returns without blocking.
// PortAudio itself is initialised on the first Open and terminated when the
// last stream closes.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
)

// ErrDeviceNotFound is returned when a named device does not exist.
var ErrDeviceNotFound = errors.New("portaudio: device not found")

var (
	libMu   sync.Mutex
	libRefs int
)

// acquire initialises PortAudio on first use.
func acquire() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	libRefs++
	return nil
}

// release terminates PortAudio when the last user is gone.
func release() {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return
	}
	libRefs--
	if libRefs == 0 {
		_ = pa.Terminate()
	}
}

// findDevice returns the device called name with at least one channel in the
// requested direction.
func findDevice(name string, input bool) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 || !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// closeStream stops and closes s, returning the first error.
func closeStream(s *pa.Stream) error {
	stopErr := s.Stop()
	closeErr := s.Close()
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close stream: %w", closeErr)
	}
	return nil
}
