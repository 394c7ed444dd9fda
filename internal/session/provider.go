package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Provider hands out the process-wide session, running a new handshake
// whenever the current one is missing or no longer valid.
type Provider struct {
	mu         sync.Mutex
	cfg        Config
	dial       Dialer
	newChannel ChannelFactory
	opts       []Option
	current    *Session
	observer   Observer
	state      atomic.Int32
}

// Observer is told about every handshake the provider runs.
type Observer interface {
	Handshake(s *Session, elapsed time.Duration)
}

// NewProvider creates a provider. No handshake happens until Acquire.
func NewProvider(cfg Config, dial Dialer, newChannel ChannelFactory, opts ...Option) *Provider {
	return &Provider{cfg: cfg, dial: dial, newChannel: newChannel, opts: opts}
}

// Observe installs o. It replaces any previous observer.
func (p *Provider) Observe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// Acquire returns the current session if it is valid. Otherwise the old one
// is closed and a new handshake runs; the result may be Failed.
func (p *Provider) Acquire() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Valid() {
		return p.current
	}
	if p.current != nil {
		p.current.Close()
	}
	s := New(p.cfg, p.dial, p.newChannel, p.opts...)
	p.current = nil
	p.state.Store(int32(CreatingSession))
	start := time.Now()
	_ = s.Establish()
	p.current = s
	p.state.Store(int32(s.State()))
	if p.observer != nil {
		p.observer.Handshake(s, time.Since(start))
	}
	return s
}

// Current returns the last session without starting a handshake.
func (p *Provider) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// State reports the state of the last session, or CreatingSession while a
// handshake runs. It does not wait for a running handshake.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// Invalidate drops the current session.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
	p.state.Store(int32(Idle))
}

// Close releases the current session.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Store(int32(Idle))
	if p.current == nil {
		return nil
	}
	err := p.current.Close()
	p.current = nil
	return err
}
