// Package room holds the live text of each path and fans edits out to every
// member connected to that path.
//
// Each Room is a single goroutine draining a mailbox, so its text and member
// set have exactly one writer. The text follows last-write-wins in the order
// the mailbox receives edits; nothing is merged.
package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/astromechza/copypad/pkg/metrics"
)

// ErrRetired is returned when a Room stopped before it could serve a call.
var ErrRetired = errors.New("room retired")

// Member is one connection joined to a Room.
type Member interface {
	ID() string
	// Deliver hands text to the member. It must not block, and reports false
	// if the member can no longer take deliveries.
	Deliver(text string) bool
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventEdit
	eventText
)

type event struct {
	kind   eventKind
	member Member
	text   string
	reply  chan string
}

const inboxSize = 64

type Room struct {
	path     string
	registry *Registry

	inbox  chan event
	remote *Slot
	idle   chan struct{}
	ready  chan struct{}
	done   chan struct{}

	// Set before ready is closed.
	seedErr error

	// Guarded by registry.mu.
	refs    int
	retired bool

	// Owned by run.
	text    string
	members map[Member]struct{}
}

func newRoom(path string, registry *Registry) *Room {
	return &Room{
		path:     path,
		registry: registry,
		inbox:    make(chan event, inboxSize),
		remote:   NewSlot(),
		idle:     make(chan struct{}, 1),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		members:  make(map[Member]struct{}),
	}
}

func (r *Room) Path() string {
	return r.path
}

// Done is closed once the Room has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) send(ctx context.Context, ev event) error {
	select {
	case <-r.done:
		return ErrRetired
	default:
	}
	select {
	case r.inbox <- ev:
		return nil
	case <-r.done:
		return ErrRetired
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit applies text as the room's new text and forwards it to every other
// member. Edits from one sender are applied in submission order.
func (r *Room) Submit(ctx context.Context, sender Member, text string) error {
	return r.send(ctx, event{kind: eventEdit, member: sender, text: text})
}

// Leave removes m. The Room retires once its last member has left.
func (r *Room) Leave(m Member) {
	_ = r.send(context.Background(), event{kind: eventLeave, member: m})
}

// Text returns the room's current text.
func (r *Room) Text(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	if err := r.send(ctx, event{kind: eventText, reply: reply}); err != nil {
		return "", err
	}
	select {
	case text := <-reply:
		return text, nil
	case <-r.done:
		return "", ErrRetired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Room) pokeIdle() {
	select {
	case r.idle <- struct{}{}:
	default:
	}
}

func (r *Room) run() {
	defer close(r.done)
	log := slog.With("path", r.path)

	ctx, cancel := context.WithTimeout(context.Background(), r.registry.seedTimeout)
	doc, err := r.registry.store.Load(ctx, r.path)
	cancel()
	if err != nil {
		log.Error("failed to seed room", "err", err)
		r.seedErr = err
		r.registry.remove(r)
		close(r.ready)
		return
	}
	r.text = doc.Text

	if rl := r.registry.relay; rl != nil {
		unsubscribe, err := rl.Subscribe(r.path, r.remote.Put)
		if err != nil {
			log.Error("failed to subscribe to relay", "err", err)
		} else {
			defer unsubscribe()
		}
	}
	close(r.ready)
	log.Debug("room seeded", "bytes", len(r.text))

	for {
		select {
		case ev := <-r.inbox:
			r.handle(ev)
			if ev.kind == eventLeave && r.maybeRetire() {
				log.Debug("room retired")
				return
			}
		case <-r.idle:
			if r.maybeRetire() {
				log.Debug("room retired")
				return
			}
		case <-r.remote.Ready():
			if text, ok := r.remote.Take(); ok {
				r.apply(nil, text)
			}
		case <-r.registry.closing:
			metrics.PeersActive.Sub(float64(len(r.members)))
			r.registry.remove(r)
			return
		}
	}
}

func (r *Room) handle(ev event) {
	switch ev.kind {
	case eventJoin:
		if _, ok := r.members[ev.member]; !ok {
			r.members[ev.member] = struct{}{}
			metrics.PeersActive.Inc()
		}
		if !ev.member.Deliver(r.text) {
			metrics.DeliveriesDroppedTotal.Inc()
		}
		slog.Info("member joined", "path", r.path, "peer", ev.member.ID(), "members", len(r.members))
		ev.reply <- r.text
	case eventLeave:
		if _, ok := r.members[ev.member]; ok {
			delete(r.members, ev.member)
			metrics.PeersActive.Dec()
			slog.Info("member left", "path", r.path, "peer", ev.member.ID(), "members", len(r.members))
		}
	case eventEdit:
		r.apply(ev.member, ev.text)
		if r.registry.relay != nil {
			r.registry.relay.Publish(r.path, ev.text)
		}
	case eventText:
		ev.reply <- r.text
	}
}

// apply sets the text and delivers it to everyone but sender. A member that
// fails to take the delivery does not stop delivery to the others.
func (r *Room) apply(sender Member, text string) {
	r.text = text
	metrics.EditsTotal.Inc()
	for m := range r.members {
		if m == sender {
			continue
		}
		if !m.Deliver(text) {
			metrics.DeliveriesDroppedTotal.Inc()
			slog.Warn("failed to deliver to member", "path", r.path, "peer", m.ID())
		}
	}
}

func (r *Room) maybeRetire() bool {
	if len(r.members) > 0 {
		return false
	}
	return r.registry.tryRetire(r)
}
