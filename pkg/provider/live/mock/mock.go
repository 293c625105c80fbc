// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out scripted sessions. Use
// Session to push inbound events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.OpenNow()
//	sess.Push(live.Event{Kind: live.EventAudio, Audio: pcm, SampleRate: 24000})
package mock

import (
	"context"
	"sync"

	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new Session per call; see Sessions.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or ctx is done.
	Block chan struct{}

	// OpenOnConnect makes every returned session emit EventOpen immediately.
	OpenOnConnect bool

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

var _ live.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = NewSession()
	}
	p.sessions = append(p.sessions, sess)
	if p.OpenOnConnect {
		sess.OpenNow()
	}
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Session is a scripted live.SessionHandle.
type Session struct {
	*live.Emitter

	// emitMu serialises Push, OpenNow, End, and Close.
	emitMu sync.Mutex

	mu sync.Mutex

	// DropSends makes Send reject every chunk.
	DropSends bool

	// CloseErr is returned by Close.
	CloseErr error

	sent       []audio.WireChunk
	closeCount int
}

var _ live.SessionHandle = (*Session)(nil)

// NewSession returns a Session in the connecting state.
func NewSession() *Session {
	return &Session{Emitter: live.NewEmitter(64)}
}

// OpenNow moves the session to open and emits EventOpen.
func (s *Session) OpenNow() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.Open()
}

// Push delivers ev to the consumer. It reports false once the session has
// been closed.
func (s *Session) Push(ev live.Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.State() == live.StateClosed {
		return false
	}
	return s.Emit(ev)
}

// End simulates the remote side ending the session; a non-nil err is
// delivered as EventError first.
func (s *Session) End(err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.Finish(err)
}

// Send records chunk. It drops the chunk when DropSends is set or the session
// is not open.
func (s *Session) Send(chunk audio.WireChunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DropSends || s.State() != live.StateOpen {
		return false
	}
	s.sent = append(s.sent, chunk)
	return true
}

// Sent returns every accepted chunk in order.
func (s *Session) Sent() []audio.WireChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.WireChunk(nil), s.sent...)
}

// Close records the call, aborts delivery, and finishes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	err := s.CloseErr
	s.mu.Unlock()

	s.Abort()
	s.emitMu.Lock()
	s.Finish(nil)
	s.emitMu.Unlock()
	return err
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
