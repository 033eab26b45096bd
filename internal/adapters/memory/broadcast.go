package memory

import (
	"context"
	"errors"
	"sync"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

var errBroadcasterClosed = errors.New("broadcaster is closed")

// Bus connects in-process broadcasters, standing in for the storage event shared
// by tabs of one origin. Delivery is synchronous: Publish returns after every
// subscribed handler ran.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Broadcaster][]domain.SessionSignalHandler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Broadcaster][]domain.SessionSignalHandler)}
}

// NewBroadcaster attaches a new endpoint (one per tab) to the bus.
func (b *Bus) NewBroadcaster() *Broadcaster {
	return &Broadcaster{bus: b}
}

func (b *Bus) deliver(ctx context.Context, signal domain.SessionSignal) error {
	b.mu.RLock()
	var handlers []domain.SessionSignalHandler
	for _, hs := range b.subscribers {
		handlers = append(handlers, hs...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, signal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster is one tab's endpoint on a Bus.
type Broadcaster struct {
	bus    *Bus
	mu     sync.Mutex
	closed bool
}

var _ domain.SessionBroadcaster = (*Broadcaster)(nil)

// Publish delivers signal to every handler on the bus. Handler errors are
// joined into the returned error, after all handlers ran.
func (br *Broadcaster) Publish(ctx context.Context, signal domain.SessionSignal) error {
	br.mu.Lock()
	closed := br.closed
	br.mu.Unlock()
	if closed {
		return errBroadcasterClosed
	}
	return br.bus.deliver(ctx, signal)
}

func (br *Broadcaster) Subscribe(_ context.Context, handler domain.SessionSignalHandler) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.closed {
		return errBroadcasterClosed
	}

	br.bus.mu.Lock()
	br.bus.subscribers[br] = append(br.bus.subscribers[br], handler)
	br.bus.mu.Unlock()
	return nil
}

// Close detaches the broadcaster's handlers from the bus.
func (br *Broadcaster) Close() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.closed {
		return nil
	}
	br.closed = true

	br.bus.mu.Lock()
	delete(br.bus.subscribers, br)
	br.bus.mu.Unlock()
	return nil
}
