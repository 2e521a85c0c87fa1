// Package session is the client side edit pipeline of one connection to a
// path. Every local edit is sent to the room at once, and persisted only after
// edits have paused for a quiet period. Teardown makes one best-effort
// attempt to persist whatever the store has not confirmed yet.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultQuietPeriod = 3 * time.Second
	DefaultWarmUp      = 3 * time.Second
	defaultSaveTimeout = 10 * time.Second
)

var (
	ErrWarmingUp = errors.New("session is warming up")
	ErrClosed    = errors.New("session closed")
)

// Transport carries edits to the room. Sends are fire and forget.
type Transport interface {
	Send(text string) error
}

// Persister writes text to the store.
type Persister interface {
	// SaveText returns once the store confirmed the write or failed.
	SaveText(ctx context.Context, path, text string) error
	// Beacon makes at most one attempt to persist text, completes without the
	// caller, and reports nothing back.
	Beacon(path, text string)
}

type Config struct {
	Path string
	// Initial is the text loaded from the store and counts as already saved.
	Initial     string
	QuietPeriod time.Duration
	// WarmUp refuses local edits for this long after New.
	WarmUp      time.Duration
	SaveTimeout time.Duration
}

type Session struct {
	cfg       Config
	transport Transport
	persister Persister
	readyAt   time.Time

	// saveMu, sendMu and mu are taken in that order.
	saveMu sync.Mutex
	sendMu sync.Mutex

	mu        sync.Mutex
	text      string
	lastSaved string
	epoch     uint64
	timer     *time.Timer
	closed    bool
	// saving is set while a debounced save is in flight. A Close during it
	// leaves the final beacon to that save.
	saving        bool
	beaconPending bool
	settled       chan struct{}
}

func New(cfg Config, transport Transport, persister Persister) *Session {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	return &Session{
		cfg:       cfg,
		transport: transport,
		persister: persister,
		readyAt:   time.Now().Add(cfg.WarmUp),
		text:      cfg.Initial,
		lastSaved: cfg.Initial,
		settled:   make(chan struct{}),
	}
}

func (s *Session) Path() string {
	return s.cfg.Path
}

// WarmingUp reports whether local edits are still refused.
func (s *Session) WarmingUp() bool {
	return time.Now().Before(s.readyAt)
}

// Edit makes text the local text, sends it to the room and restarts the
// quiet period.
func (s *Session) Edit(text string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.WarmingUp() {
		s.mu.Unlock()
		return ErrWarmingUp
	}
	s.text = text
	s.armLocked()
	s.mu.Unlock()

	if err := s.transport.Send(text); err != nil {
		slog.Warn("failed to send edit", "path", s.cfg.Path, "err", err)
	}
	return nil
}

// Receive applies text from the room. It does not restart the quiet period.
func (s *Session) Receive(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.text = text
	}
}

func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// LastSaved is the last text the store confirmed.
func (s *Session) LastSaved() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// armLocked invalidates any pending fire and schedules a new one. A timer
// that fires after being superseded sees a newer epoch and does nothing.
func (s *Session) armLocked() {
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
	}
	epoch := s.epoch
	s.timer = time.AfterFunc(s.cfg.QuietPeriod, func() { s.flush(epoch) })
}

func (s *Session) flush(epoch uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.sendMu.Lock()
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return
	}
	text := s.text
	if text == s.lastSaved {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return
	}
	s.saving = true
	s.mu.Unlock()

	// Peers that joined after the last keystroke converge on this text too.
	if err := s.transport.Send(text); err != nil {
		slog.Warn("failed to resend text", "path", s.cfg.Path, "err", err)
	}
	s.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	err := s.persister.SaveText(ctx, s.cfg.Path, text)
	cancel()

	s.mu.Lock()
	s.saving = false
	if err != nil {
		slog.Error("failed to save text", "path", s.cfg.Path, "err", err)
		// Retry on the next cycle unless something newer already re-armed it.
		if !s.closed && epoch == s.epoch {
			s.armLocked()
		}
	} else {
		s.lastSaved = text
		slog.Debug("saved text", "path", s.cfg.Path, "bytes", len(text))
	}
	if !s.beaconPending {
		s.mu.Unlock()
		return
	}
	s.beaconPending = false
	final, lastSaved := s.text, s.lastSaved
	s.mu.Unlock()

	if final != lastSaved {
		s.persister.Beacon(s.cfg.Path, final)
	}
	close(s.settled)
}

// Close cancels any pending save and, if the local text differs from the
// last confirmed save, beacons it once. It never waits for the outcome. A
// save already in flight is let finish first so it cannot overwrite the
// beaconed text; the beacon then follows it. Close reports whether unsaved
// text remained.
func (s *Session) Close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
	}
	text, lastSaved := s.text, s.lastSaved
	if s.saving {
		s.beaconPending = true
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	defer close(s.settled)
	if text == lastSaved {
		return false
	}
	s.persister.Beacon(s.cfg.Path, text)
	return true
}

// Settled is closed once Close has handed any final text to the persister,
// which may be after an in-flight save completes.
func (s *Session) Settled() <-chan struct{} {
	return s.settled
}
