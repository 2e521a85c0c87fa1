package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/copypad/pkg/metrics"
	"github.com/astromechza/copypad/pkg/relay"
	"github.com/astromechza/copypad/pkg/store"
)

// ErrClosed is returned by Join after Close.
var ErrClosed = errors.New("registry closed")

const defaultSeedTimeout = 10 * time.Second

// Registry maps paths to live Rooms. A Room is created on the first Join for
// its path, seeded from the store, and retired when its last member leaves.
// A retired path is seeded from the store again on its next Join, never from
// memory. Nothing the Registry holds is durable.
type Registry struct {
	store       store.Store
	relay       relay.Relay
	seedTimeout time.Duration

	mu      sync.Mutex
	rooms   map[string]*Room
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Registry)

// WithRelay forwards room edits to other processes through rl.
func WithRelay(rl relay.Relay) Option {
	return func(g *Registry) { g.relay = rl }
}

func WithSeedTimeout(d time.Duration) Option {
	return func(g *Registry) { g.seedTimeout = d }
}

func NewRegistry(s store.Store, opts ...Option) *Registry {
	g := &Registry{
		store:       s,
		seedTimeout: defaultSeedTimeout,
		rooms:       make(map[string]*Room),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// acquire returns the live Room for path, creating it if needed, and pins it
// against retirement until release.
func (g *Registry) acquire(path string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	r, ok := g.rooms[path]
	if !ok {
		r = newRoom(path, g)
		g.rooms[path] = r
		metrics.RoomsActive.Inc()
		slog.Info("room created", "path", path)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			r.run()
		}()
	}
	r.refs++
	return r, nil
}

func (g *Registry) release(r *Room) {
	g.mu.Lock()
	r.refs--
	idle := r.refs == 0
	g.mu.Unlock()
	if idle {
		r.pokeIdle()
	}
}

// tryRetire unlists r unless a Join is in progress on it.
func (g *Registry) tryRetire(r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.refs > 0 {
		return false
	}
	g.removeLocked(r)
	return true
}

func (g *Registry) remove(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(r)
}

func (g *Registry) removeLocked(r *Room) {
	if r.retired {
		return
	}
	r.retired = true
	if g.rooms[r.path] == r {
		delete(g.rooms, r.path)
	}
	metrics.RoomsActive.Dec()
}

// Join adds m to the Room for path and delivers the room's current text to m
// as its first message. Two concurrent first Joins of one path share one
// Room. The returned text is the snapshot m was sent.
func (g *Registry) Join(ctx context.Context, path string, m Member) (*Room, string, error) {
	if err := store.ValidatePath(path); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	r, err := g.acquire(path)
	if err != nil {
		return nil, "", err
	}
	defer g.release(r)

	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	if r.seedErr != nil {
		return nil, "", r.seedErr
	}

	reply := make(chan string, 1)
	if err := r.send(ctx, event{kind: eventJoin, member: m, reply: reply}); err != nil {
		return nil, "", err
	}
	select {
	case text := <-reply:
		return r, text, nil
	case <-r.done:
		return nil, "", ErrRetired
	}
}

// Len is the number of live Rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every Room and refuses further Joins.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.closing)
	g.mu.Unlock()
	g.wg.Wait()
}
