package eventbus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBuffer is the channel capacity of each subscriber.
const DefaultBuffer = 16

var dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hems_eventbus_dropped_total",
	Help: "Events not delivered because a subscriber was full",
}, []string{"bus"})

func init() {
	if err := prometheus.Register(dropped); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			dropped = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
}

// Event represents an arbitrary event passed on an untyped bus.
type Event interface{}

// Bus carries events of any type; subscribers switch on the concrete type.
type Bus = TypedBus[Event]

// New creates an untyped bus.
func New(name string) *Bus { return NewTyped[Event](name) }

// TypedBus is a type-safe publish/subscribe bus for events of type T.
// Delivery never blocks the publisher: a subscriber whose buffer is full
// misses the event and the drop is counted.
type TypedBus[T any] struct {
	name   string
	buffer int

	mu     sync.RWMutex
	subs   []chan T
	closed bool
}

// NewTyped creates a TypedBus. The name labels the drop counter.
func NewTyped[T any](name string) *TypedBus[T] {
	return &TypedBus[T]{name: name, buffer: DefaultBuffer}
}

// WithBuffer sets the capacity of channels returned by later Subscribe calls.
func (b *TypedBus[T]) WithBuffer(n int) *TypedBus[T] {
	if n > 0 {
		b.mu.Lock()
		b.buffer = n
		b.mu.Unlock()
	}
	return b
}

// Publish sends the event to all subscribers and returns how many received it.
func (b *TypedBus[T]) Publish(e T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			n++
		default:
			dropped.WithLabelValues(b.name).Inc()
		}
	}
	return n
}

// Subscribe registers a subscriber and returns its channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
