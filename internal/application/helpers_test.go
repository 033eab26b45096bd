package application

import (
	"sync"
	"time"

	"gitlab.com/timkado/api/course-data-layer/benchmarks/mocks"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRequestCache(clock *fakeClock) *RequestCache {
	return NewRequestCache(memory.NewResponseCache(clock), mocks.NewMockLogger())
}
