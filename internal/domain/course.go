package domain

import (
	"context"
	"time"
)

// CourseLevel is the difficulty tier of a course.
type CourseLevel string

const (
	LevelBeginner     CourseLevel = "beginner"
	LevelIntermediate CourseLevel = "intermediate"
	LevelAdvanced     CourseLevel = "advanced"
)

// Course is the entity held by the course store. Only ID is guaranteed by the API.
type Course struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Instructor   string      `json:"instructor,omitempty"`
	Category     string      `json:"category,omitempty"`
	Level        CourseLevel `json:"level,omitempty"`
	ThumbnailURL string      `json:"thumbnail,omitempty"`
	Price        *float64    `json:"price,omitempty"`
	Published    *bool       `json:"published,omitempty"`
	LessonCount  *int        `json:"lesson_count,omitempty"`
	Progress     *float64    `json:"progress,omitempty"` // set on enrolled listings only
	CreatedAt    *time.Time  `json:"created_at,omitempty"`
	UpdatedAt    *time.Time  `json:"updated_at,omitempty"`
}

// CourseAPI is the remote course collection.
type CourseAPI interface {
	ListAll(ctx context.Context) ([]Course, error)
	ListEnrolled(ctx context.Context) ([]Course, error)

	// GetByID returns an error matching ErrNotFound when the course does not exist.
	GetByID(ctx context.Context, id string) (*Course, error)
}

// CourseCollection is a normalized view of the course collection. Every id in
// AllIDs and EnrolledIDs has an entry in ByID.
type CourseCollection struct {
	ByID          map[string]Course `json:"by_id"`
	AllIDs        []string          `json:"all_ids"`
	EnrolledIDs   []string          `json:"enrolled_ids"`
	Loading       bool              `json:"loading"`
	LastFetchedAt *time.Time        `json:"last_fetched_at,omitempty"`
}
