// Package live defines the Provider interface for bidirectional real-time
// voice sessions with a remote generative model.
//
// A live provider accepts a continuous stream of microphone audio and answers
// with streamed synthesised speech, transcripts of both sides of the
// conversation, and control signals such as interruption (barge-in). Unlike a
// request/response API, the session is a long-lived, stateful connection
// whose configuration is fixed when it is opened.
//
// The central abstraction is SessionHandle: outbound audio is fire-and-forget
// through a bounded queue, and everything inbound arrives, in order, on a
// single Event channel.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"

	"github.com/aisnitch/snitch/pkg/audio"
)

// DefaultVoice is the prebuilt voice used when [SessionConfig.Voice] is empty.
const DefaultVoice = "Zephyr"

// DefaultSendQueue is the outbound queue depth used when
// [SessionConfig.SendQueue] is zero.
const DefaultSendQueue = 32

// State is the connection state of a session.
type State int32

const (
	// StateIdle is a session that has not started connecting.
	StateIdle State = iota

	// StateConnecting is a session whose transport is being established.
	StateConnecting

	// StateOpen is a session that accepts audio and delivers model output.
	StateOpen

	// StateClosed is a session that has ended, cleanly or not. Terminal.
	StateClosed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Role identifies the speaker of a transcript fragment.
type Role string

const (
	// RoleUser is the person speaking into the microphone.
	RoleUser Role = "user"

	// RoleModel is the remote model.
	RoleModel Role = "model"
)

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventOpen is delivered once, when the session is ready for audio.
	EventOpen EventKind = iota + 1

	// EventTranscript carries a transcript fragment in Role and Text.
	EventTranscript

	// EventAudio carries raw little-endian int16 PCM in Audio, at SampleRate.
	EventAudio

	// EventInterrupted signals that the user barged in and that all audio
	// queued for playback must be discarded.
	EventInterrupted

	// EventTurnComplete signals that the model finished its turn.
	EventTurnComplete

	// EventError carries the error that is about to close the session.
	EventError

	// EventClosed is the last event. The channel is closed right after it.
	EventClosed
)

// String returns the name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one inbound item of a session.
type Event struct {
	Kind EventKind

	// Role and Text are set for EventTranscript.
	Role Role
	Text string

	// Audio and SampleRate are set for EventAudio. Audio is already decoded
	// from its wire encoding.
	Audio      []byte
	SampleRate int

	// Err is set for EventError.
	Err error
}

// SessionConfig is the configuration of a new session. It cannot be changed
// once the session is open.
type SessionConfig struct {
	// Voice is the name of the prebuilt voice for synthesised speech.
	// Default: [DefaultVoice].
	Voice string

	// Instructions is the system instruction that defines the model's persona.
	Instructions string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool

	// SendQueue is the depth of the outbound audio queue.
	// Default: [DefaultSendQueue].
	SendQueue int

	// OnMalformed, if non-nil, is called for every inbound audio part that
	// fails to decode. The part is dropped. Must not block.
	OnMalformed func(err error)
}

// WithDefaults returns a copy of cfg with zero fields filled in.
func (cfg SessionConfig) WithDefaults() SessionConfig {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	return cfg
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// InputSampleRate is the rate at which the provider expects audio.
	InputSampleRate int

	// OutputSampleRate is the rate of the audio it returns.
	OutputSampleRate int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// SessionHandle is an open live session. It is an interface so that test code
// can supply mock implementations without a network connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// Send enqueues an encoded audio chunk for delivery and returns
	// immediately. It reports false when the chunk was dropped because the
	// outbound queue is full or the session is not open.
	Send(chunk audio.WireChunk) bool

	// Events returns the inbound event channel. Events are delivered in the
	// order the provider produced them. EventClosed is the last event and is
	// followed by closing the channel.
	Events() <-chan Event

	// State returns the current connection state.
	State() State

	// Close terminates the session. Calling Close more than once, or after
	// the remote side has already closed, is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live voice backend.
type Provider interface {
	// Connect starts a new session. It returns once the transport is
	// established and the session configuration has been sent; the session
	// reports readiness with EventOpen.
	//
	// The caller owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}

// DefaultVoices is the prebuilt voice catalogue of the Gemini Live models.
var DefaultVoices = []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede", "Leda", "Orus"}
