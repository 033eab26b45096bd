package application

import (
	"context"
	"sync"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/metrics"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

const courseByIDKeyPrefix = "course:by_id:"

// CourseStore keeps the normalized course collection: entities by id plus the
// ordered id lists of the "all" and "enrolled" views.
type CourseStore struct {
	api    domain.CourseAPI
	cache  *RequestCache // optional; dedupes concurrent GetByID misses
	logger domain.Logger
	clock  domain.Clock

	mu            sync.RWMutex
	byID          map[string]domain.Course
	allIDs        []string
	enrolledIDs   []string
	loading       int // in-flight list fetches
	lastFetchedAt *time.Time

	listeners listenerSet[domain.CourseCollection]
}

// NewCourseStore creates an empty store. cache may be nil.
func NewCourseStore(api domain.CourseAPI, cache *RequestCache, logger domain.Logger) *CourseStore {
	return &CourseStore{
		api:    api,
		cache:  cache,
		logger: logger,
		clock:  domain.SystemClock{},
		byID:   make(map[string]domain.Course),
	}
}

// FetchAll replaces the "all" view with the remote listing and merges its
// entities. On error nothing but the loading flag changes.
func (s *CourseStore) FetchAll(ctx context.Context) ([]domain.Course, error) {
	return s.fetchList(ctx, "all", s.api.ListAll, func(ids []string) {
		s.allIDs = ids
		now := s.clock.Now()
		s.lastFetchedAt = &now
	})
}

// FetchEnrolled replaces the "enrolled" view with the remote listing and merges its entities.
func (s *CourseStore) FetchEnrolled(ctx context.Context) ([]domain.Course, error) {
	return s.fetchList(ctx, "enrolled", s.api.ListEnrolled, func(ids []string) {
		s.enrolledIDs = ids
	})
}

func (s *CourseStore) fetchList(
	ctx context.Context,
	list string,
	fetch func(context.Context) ([]domain.Course, error),
	replaceIDs func(ids []string),
) ([]domain.Course, error) {
	s.setLoading(+1)

	courses, err := fetch(ctx)
	if err != nil {
		metrics.IncrementCourseFetch(list, "error")
		s.logger.Warn(ctx, "Course listing failed", "list", list, "error", err.Error())
		s.setLoading(-1)
		return nil, err
	}

	normalized, ids := normalizeCourses(courses)
	if skipped := len(courses) - len(normalized); skipped > 0 {
		s.logger.Warn(ctx, "Dropped courses without id or with a duplicate id", "list", list, "skipped", skipped)
	}

	s.mu.Lock()
	for _, c := range normalized {
		s.byID[c.ID] = c
	}
	replaceIDs(ids)
	s.loading--
	count := len(s.byID)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	metrics.IncrementCourseFetch(list, "ok")
	metrics.SetCoursesCached(count)
	s.listeners.notify(snap)
	return normalized, nil
}

// GetByID returns the stored course or fetches it individually. A fetched
// course is merged without touching either view. Failures are logged and
// reported as nil.
func (s *CourseStore) GetByID(ctx context.Context, id string) *domain.Course {
	if id == "" {
		return nil
	}
	if c, ok := s.Lookup(id); ok {
		return &c
	}

	fetch := func(ctx context.Context) (*domain.Course, error) {
		return s.api.GetByID(ctx, id)
	}
	var (
		course *domain.Course
		err    error
	)
	if s.cache != nil {
		course, err = Memoize(ctx, s.cache, courseByIDKeyPrefix+id, 0, fetch)
	} else {
		course, err = fetch(ctx)
	}
	if err != nil || course == nil {
		metrics.IncrementCourseFetch("by_id", "miss")
		if err != nil {
			s.logger.Info(ctx, "Course lookup failed", "course_id", id, "error", err.Error())
		}
		return nil
	}
	if course.ID == "" {
		course.ID = id
	}

	s.mu.Lock()
	s.byID[course.ID] = *course
	count := len(s.byID)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	metrics.IncrementCourseFetch("by_id", "ok")
	metrics.SetCoursesCached(count)
	s.listeners.notify(snap)

	out := *course
	return &out
}

// Lookup reads a course without fetching.
func (s *CourseStore) Lookup(id string) (domain.Course, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok
}

// All returns the "all" view in server order.
func (s *CourseStore) All() []domain.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.allIDs)
}

// Enrolled returns the "enrolled" view in server order.
func (s *CourseStore) Enrolled() []domain.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.enrolledIDs)
}

// Snapshot returns a deep copy of the collection.
func (s *CourseStore) Snapshot() domain.CourseCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every collection change.
func (s *CourseStore) Subscribe(fn func(domain.CourseCollection)) (unsubscribe func()) {
	return s.listeners.add(fn)
}

func (s *CourseStore) setLoading(delta int) {
	s.mu.Lock()
	s.loading += delta
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.listeners.notify(snap)
}

func (s *CourseStore) resolveLocked(ids []string) []domain.Course {
	out := make([]domain.Course, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *CourseStore) snapshotLocked() domain.CourseCollection {
	byID := make(map[string]domain.Course, len(s.byID))
	for id, c := range s.byID {
		byID[id] = c
	}
	snap := domain.CourseCollection{
		ByID:        byID,
		AllIDs:      append([]string{}, s.allIDs...),
		EnrolledIDs: append([]string{}, s.enrolledIDs...),
		Loading:     s.loading > 0,
	}
	if s.lastFetchedAt != nil {
		t := *s.lastFetchedAt
		snap.LastFetchedAt = &t
	}
	return snap
}

// normalizeCourses drops courses without an id and keeps the first occurrence
// position of each id, with the last occurrence's fields.
func normalizeCourses(courses []domain.Course) ([]domain.Course, []string) {
	index := make(map[string]int, len(courses))
	out := make([]domain.Course, 0, len(courses))
	for _, c := range courses {
		if c.ID == "" {
			continue
		}
		if i, seen := index[c.ID]; seen {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}

	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	return out, ids
}
