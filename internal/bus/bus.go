// Package bus implements the per-room ordered event fan-out.
//
// All publishes and subscribes for a room flow through one command stream
// consumed by a single goroutine, so every subscriber observes events in
// exactly the order the orchestrator produced them, and a late subscriber's
// snapshot slots in ahead of anything published after it. Enqueueing is O(1)
// and safe to do while the room lock is held; subscriber delivery happens on
// the bus goroutine, never under the lock.
//
// Each subscriber owns a bounded queue. A subscriber that falls behind past
// the bound is dropped — its channel closes and the transport must reconnect
// and take a fresh snapshot.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/types"
)

// Subscription is one attached consumer. C closes when the subscriber is
// dropped on overflow or the room terminates.
type Subscription struct {
	ID string
	C  <-chan types.Event

	ch chan types.Event
}

type command struct {
	publish     []types.Event
	subscribe   *Subscription
	snapshot    []types.Event
	unsubscribe string
	close       bool
	terminal    []types.Event
}

// DroppedFunc observes subscriber drops (metrics hook).
type DroppedFunc func()

type Bus struct {
	in        chan command
	bufSize   int
	logger    *zap.Logger
	onDropped DroppedFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func New(bufSize int, logger *zap.Logger, onDropped DroppedFunc) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		in:        make(chan command, 1024),
		bufSize:   bufSize,
		logger:    logger,
		onDropped: onDropped,
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subs := make(map[string]*Subscription)
	for cmd := range b.in {
		switch {
		case cmd.close:
			for id, sub := range subs {
				for _, ev := range cmd.terminal {
					select {
					case sub.ch <- ev:
					default:
					}
				}
				close(sub.ch)
				delete(subs, id)
			}
			close(b.done)
			return
		case cmd.subscribe != nil:
			sub := cmd.subscribe
			for _, ev := range cmd.snapshot {
				sub.ch <- ev
			}
			subs[sub.ID] = sub
		case cmd.unsubscribe != "":
			if sub, ok := subs[cmd.unsubscribe]; ok {
				close(sub.ch)
				delete(subs, cmd.unsubscribe)
			}
		default:
			for _, ev := range cmd.publish {
				for id, sub := range subs {
					select {
					case sub.ch <- ev:
					default:
						b.logger.Warn("subscriber overflow, dropping",
							zap.String("subscriber", id),
							zap.Int64("seq", ev.Seq))
						close(sub.ch)
						delete(subs, id)
						if b.onDropped != nil {
							b.onDropped()
						}
					}
				}
			}
		}
	}
}

// Publish enqueues events for fan-out. Safe to call while holding the room
// lock; the enqueue never does subscriber work.
func (b *Bus) Publish(events ...types.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.in <- command{publish: events}
}

// Subscribe attaches a consumer. snapshot is delivered first, before any
// event published after this call. Returns nil if the bus is closed.
func (b *Bus) Subscribe(id string, snapshot []types.Event) *Subscription {
	ch := make(chan types.Event, b.bufSize)
	sub := &Subscription{ID: id, C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.in <- command{subscribe: sub, snapshot: snapshot}
	return sub
}

// Unsubscribe detaches a consumer; its channel closes. Idempotent.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.in <- command{unsubscribe: id}
}

// Close delivers terminal events to every subscriber (best effort), closes
// all subscriber channels and stops the bus. Idempotent.
func (b *Bus) Close(terminal ...types.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.in <- command{close: true, terminal: terminal}
	b.mu.Unlock()
	<-b.done
}
