// Package wctest provides an in-process bridge and a scripted wallet for testing
// code that drives a walletconnect.Client.
package wctest

import (
	"context"
	"sync"

	"moff.io/moff-wallet/internal/walletconnect"
)

// Bridge is a walletconnect.Dialer whose relays live in memory.
// Frames the client publishes are handed to the paired Wallet, if any.
type Bridge struct {
	mu      sync.Mutex
	relays  []*Relay
	wallet  *Wallet
	DialErr error
}

func NewBridge() *Bridge {
	return &Bridge{}
}

func (b *Bridge) Dial(_ context.Context, _ string) (walletconnect.Relay, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DialErr != nil {
		return nil, b.DialErr
	}
	r := &Relay{bridge: b, messages: make(chan *walletconnect.SocketMessage, 256)}
	b.relays = append(b.relays, r)
	return r, nil
}

// Dials returns how many relays were opened.
func (b *Bridge) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.relays)
}

// Last returns the most recently opened relay.
func (b *Bridge) Last() *Relay {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.relays) == 0 {
		return nil
	}
	return b.relays[len(b.relays)-1]
}

func (b *Bridge) route(from *Relay, msg *walletconnect.SocketMessage) {
	b.mu.Lock()
	w := b.wallet
	b.mu.Unlock()
	if w != nil {
		w.receive(from, msg)
	}
}

// broadcast delivers a frame to every open relay subscribed to its topic.
func (b *Bridge) broadcast(msg *walletconnect.SocketMessage) {
	b.mu.Lock()
	relays := append([]*Relay{}, b.relays...)
	b.mu.Unlock()
	for _, r := range relays {
		if r.subscribed(msg.Topic) {
			r.Deliver(msg)
		}
	}
}

// Relay is one client connection to the Bridge.
type Relay struct {
	bridge   *Bridge
	mu       sync.Mutex
	topics   []string
	messages chan *walletconnect.SocketMessage
	closed   bool
	err      error
}

func (r *Relay) Subscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return walletconnect.ErrRelayClosed
	}
	r.topics = append(r.topics, topic)
	return nil
}

func (r *Relay) Publish(topic, payload string, silent bool) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return walletconnect.ErrRelayClosed
	}
	r.bridge.route(r, &walletconnect.SocketMessage{Topic: topic, Type: "pub", Payload: payload, Silent: silent})
	return nil
}

func (r *Relay) Messages() <-chan *walletconnect.SocketMessage {
	return r.messages
}

func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Relay) Close() error {
	r.Drop(nil)
	return nil
}

// Drop ends the connection as if the bridge went away with err.
func (r *Relay) Drop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.err = err
	close(r.messages)
}

// Deliver pushes an inbound frame to the client. Frames for a closed relay are dropped.
func (r *Relay) Deliver(msg *walletconnect.SocketMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.messages <- msg
	return true
}

func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Relay) subscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}
