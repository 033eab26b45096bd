package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// MockProfileFetcher implements domain.ProfileFetcher with a scripted result
type MockProfileFetcher struct {
	mu      sync.Mutex
	profile *domain.UserProfile
	err     error
	delay   time.Duration
	release chan struct{}

	Calls int64
}

// NewMockProfileFetcher returns a fetcher answering with profile
func NewMockProfileFetcher(profile *domain.UserProfile) *MockProfileFetcher {
	return &MockProfileFetcher{profile: profile}
}

// SetResult changes the next answers
func (m *MockProfileFetcher) SetResult(profile *domain.UserProfile, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = profile
	m.err = err
}

// SetDelay makes every call sleep before answering
func (m *MockProfileFetcher) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Block makes calls wait until the returned func is called
func (m *MockProfileFetcher) Block() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.release = ch
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// FetchProfile implements domain.ProfileFetcher
func (m *MockProfileFetcher) FetchProfile(ctx context.Context) (*domain.UserProfile, error) {
	atomic.AddInt64(&m.Calls, 1)

	m.mu.Lock()
	delay, release := m.delay, m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.profile == nil {
		return nil, nil
	}
	p := *m.profile
	return &p, nil
}

// CallCount returns the number of FetchProfile calls
func (m *MockProfileFetcher) CallCount() int64 {
	return atomic.LoadInt64(&m.Calls)
}

// MockCourseAPI implements domain.CourseAPI with scripted listings
type MockCourseAPI struct {
	mu       sync.Mutex
	all      []domain.Course
	enrolled []domain.Course
	byID     map[string]domain.Course
	allErr   error
	enrErr   error
	delay    time.Duration

	ListAllCalls      int64
	ListEnrolledCalls int64
	GetByIDCalls      int64
}

// NewMockCourseAPI creates an API answering with the given listings
func NewMockCourseAPI(all, enrolled []domain.Course) *MockCourseAPI {
	m := &MockCourseAPI{all: all, enrolled: enrolled, byID: make(map[string]domain.Course)}
	for _, c := range append(append([]domain.Course{}, all...), enrolled...) {
		m.byID[c.ID] = c
	}
	return m
}

// AddCourse makes a course available to GetByID only
func (m *MockCourseAPI) AddCourse(c domain.Course) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
}

// SetErrors scripts listing failures
func (m *MockCourseAPI) SetErrors(allErr, enrolledErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allErr = allErr
	m.enrErr = enrolledErr
}

// SetDelay makes every call sleep before answering
func (m *MockCourseAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockCourseAPI) wait() {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// ListAll implements domain.CourseAPI
func (m *MockCourseAPI) ListAll(ctx context.Context) ([]domain.Course, error) {
	atomic.AddInt64(&m.ListAllCalls, 1)
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allErr != nil {
		return nil, m.allErr
	}
	return append([]domain.Course{}, m.all...), nil
}

// ListEnrolled implements domain.CourseAPI
func (m *MockCourseAPI) ListEnrolled(ctx context.Context) ([]domain.Course, error) {
	atomic.AddInt64(&m.ListEnrolledCalls, 1)
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrErr != nil {
		return nil, m.enrErr
	}
	return append([]domain.Course{}, m.enrolled...), nil
}

// GetByID implements domain.CourseAPI
func (m *MockCourseAPI) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	atomic.AddInt64(&m.GetByIDCalls, 1)
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}
