package live

import (
	"sync"
	"sync/atomic"
)

// Emitter implements the event and state half of a [SessionHandle]. Provider
// implementations embed one and call its methods from their single receive
// goroutine.
//
// Only the receive goroutine may call Emit and Finish. Abort may be called
// from anywhere; it releases a receive goroutine blocked in Emit.
type Emitter struct {
	events chan Event
	state  atomic.Int32

	abortOnce  sync.Once
	abort      chan struct{}
	finishOnce sync.Once
}

// NewEmitter returns an Emitter in [StateConnecting] with an event buffer of
// the given depth.
func NewEmitter(buffer int) *Emitter {
	e := &Emitter{
		events: make(chan Event, buffer),
		abort:  make(chan struct{}),
	}
	e.state.Store(int32(StateConnecting))
	return e
}

// Events implements [SessionHandle].
func (e *Emitter) Events() <-chan Event { return e.events }

// State implements [SessionHandle].
func (e *Emitter) State() State { return State(e.state.Load()) }

// Open moves the session to [StateOpen] and emits [EventOpen]. It reports
// false if the session was already open or closed.
func (e *Emitter) Open() bool {
	if !e.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return false
	}
	return e.Emit(Event{Kind: EventOpen})
}

// Emit delivers ev, blocking until the consumer accepts it or the session is
// aborted. It reports whether ev was delivered.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case <-e.abort:
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	case <-e.abort:
		return false
	}
}

// Abort marks the session closed and releases a blocked Emit. It does not
// close the event channel.
func (e *Emitter) Abort() {
	e.state.Store(int32(StateClosed))
	e.abortOnce.Do(func() { close(e.abort) })
}

// Finish moves the session to [StateClosed], emits EventError when err is
// non-nil, then EventClosed, and closes the event channel. After an Abort the
// terminal events are delivered only if the buffer has room.
func (e *Emitter) Finish(err error) {
	e.finishOnce.Do(func() {
		e.state.Store(int32(StateClosed))
		if err != nil {
			e.finalEmit(Event{Kind: EventError, Err: err})
		}
		e.finalEmit(Event{Kind: EventClosed})
		close(e.events)
	})
}

func (e *Emitter) finalEmit(ev Event) {
	select {
	case e.events <- ev:
		return
	default:
	}
	select {
	case e.events <- ev:
	case <-e.abort:
	}
}
