// Package relay carries room edits between server processes that share one
// store, so sessions of the same path converge even when connected to
// different processes. Delivery is best effort and carries full texts only.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Relay publishes edits made on this process and delivers edits made on other
// processes. Edits published by a relay are never delivered back to it.
type Relay interface {
	Publish(path, text string)
	Subscribe(path string, deliver func(text string)) (unsubscribe func(), err error)
	Close() error
}

type envelope struct {
	Origin string `json:"origin"`
	Text   string `json:"text"`
}

func encode(origin, text string) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Text: text})
}

func decode(raw []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, fmt.Errorf("failed to decode relay envelope: %w", err)
	}
	return e, nil
}

// Bus is an in-process Relay fabric. Each Node behaves like one process.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]localSub
}

type localSub struct {
	origin  string
	deliver func(string)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]localSub)}
}

// Node returns a Relay attached to the bus with a fresh origin.
func (b *Bus) Node() Relay {
	return &node{bus: b, origin: uuid.NewString()}
}

type node struct {
	bus    *Bus
	origin string
}

func (n *node) Publish(path, text string) {
	n.bus.mu.Lock()
	var targets []func(string)
	for _, s := range n.bus.subs[path] {
		if s.origin != n.origin {
			targets = append(targets, s.deliver)
		}
	}
	n.bus.mu.Unlock()
	for _, deliver := range targets {
		deliver(text)
	}
}

func (n *node) Subscribe(path string, deliver func(string)) (func(), error) {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	id := n.bus.nextID
	n.bus.nextID++
	if n.bus.subs[path] == nil {
		n.bus.subs[path] = make(map[int]localSub)
	}
	n.bus.subs[path][id] = localSub{origin: n.origin, deliver: deliver}
	return func() {
		n.bus.mu.Lock()
		defer n.bus.mu.Unlock()
		delete(n.bus.subs[path], id)
		if len(n.bus.subs[path]) == 0 {
			delete(n.bus.subs, path)
		}
	}, nil
}

func (n *node) Close() error {
	return nil
}
