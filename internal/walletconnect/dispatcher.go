package walletconnect

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

// Listener receives session transitions on the goroutine that drives the Dispatcher.
type Listener interface {
	OnSessionEvent(info SessionInfo)
}

type ListenerFunc func(info SessionInfo)

func (f ListenerFunc) OnSessionEvent(info SessionInfo) {
	f(info)
}

// Dispatcher moves session events from the relay goroutine to a single consumer.
//
// Producers never block: events are appended to an unbounded FIFO. The consumer
// either calls Run on the goroutine it designates for delivery, or calls Poll
// from its own loop (a game tick, for instance). Deliveries are serialized, so
// the listener never runs concurrently with itself, and each queued event is
// handed out exactly once in the order it was published.
//
// Events only carry SessionInfo snapshots, never the client, so an event that
// outlives its client is still safe to deliver. After Close queued events are
// dropped and new ones are discarded.
type Dispatcher struct {
	mu       sync.Mutex
	queue    *linkedlistqueue.Queue
	listener Listener
	closed   bool
	notify   chan struct{}

	deliverMu sync.Mutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queue:  linkedlistqueue.New(),
		notify: make(chan struct{}, 1),
	}
}

// SetListener installs l as the only listener, replacing any previous one.
// Events published while no listener is set wait in the queue.
func (d *Dispatcher) SetListener(l Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
	d.wake()
}

func (d *Dispatcher) publish(info SessionInfo) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Debugf("wallet connect - dispatcher closed, dropping %v event", info.State)
		return false
	}
	d.queue.Enqueue(info)
	d.mu.Unlock()
	d.wake()
	return true
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest event together with the listener it must go to.
func (d *Dispatcher) next() (SessionInfo, Listener, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.listener == nil {
		return SessionInfo{}, nil, false
	}
	v, ok := d.queue.Dequeue()
	if !ok {
		return SessionInfo{}, nil, false
	}
	return v.(SessionInfo), d.listener, true
}

// Poll delivers every queued event on the calling goroutine and returns how many it delivered.
func (d *Dispatcher) Poll() int {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	n := 0
	for {
		info, l, ok := d.next()
		if !ok {
			return n
		}
		deliver(l, info)
		n++
	}
}

func deliver(l Listener, info SessionInfo) {
	defer func() {
		if i := recover(); i != nil {
			log.Error(errors.ErrorfAndReport("session listener panicked on %v event: %v", info.State, i))
		}
	}()
	l.OnSessionEvent(info)
}

// Run delivers events on the calling goroutine until ctx is done or the dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.Poll()
		if d.Closed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.notify:
		}
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Size()
}

// Close drops queued events. A delivery already running completes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	dropped := d.queue.Size()
	d.queue.Clear()
	d.mu.Unlock()
	d.wake()
	if dropped > 0 {
		log.Debugf("wallet connect - dispatcher closed with %v undelivered events", dropped)
	}
}

func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
