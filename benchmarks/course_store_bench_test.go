package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"gitlab.com/timkado/api/course-data-layer/benchmarks/mocks"
	"gitlab.com/timkado/api/course-data-layer/internal/application"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

func generateCourses(n int) []domain.Course {
	courses := make([]domain.Course, 0, n)
	for i := 0; i < n; i++ {
		courses = append(courses, domain.Course{
			ID:    fmt.Sprintf("course-%d", i),
			Title: fmt.Sprintf("Course %d", i),
			Level: domain.LevelBeginner,
		})
	}
	return courses
}

// BenchmarkCourseStoreFetchAll measures normalization of full listings
func BenchmarkCourseStoreFetchAll(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("Courses_%d", size), func(b *testing.B) {
			all := generateCourses(size)
			store := application.NewCourseStore(mocks.NewMockCourseAPI(all, all[:size/2]), nil, mocks.NewMockLogger())
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := store.FetchAll(ctx); err != nil {
					b.Fatalf("FetchAll failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkCourseStoreLookup measures reads of an already normalized store
func BenchmarkCourseStoreLookup(b *testing.B) {
	all := generateCourses(1000)
	store := application.NewCourseStore(mocks.NewMockCourseAPI(all, nil), nil, mocks.NewMockLogger())
	if _, err := store.FetchAll(context.Background()); err != nil {
		b.Fatalf("FetchAll failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, ok := store.Lookup(all[i%len(all)].ID); !ok {
				b.Errorf("course %s missing", all[i%len(all)].ID)
				return
			}
			i++
		}
	})
}
