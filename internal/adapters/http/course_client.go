package http

import (
	"context"
	"net/url"
	"strings"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// CourseClient implements domain.CourseAPI over api.courses_path. TTLs are read
// from the config on every call so a reload applies to the next request.
type CourseClient struct {
	api            *APIClient
	configProvider config.Provider
}

var _ domain.CourseAPI = (*CourseClient)(nil)

func NewCourseClient(api *APIClient, cfgProvider config.Provider) *CourseClient {
	return &CourseClient{api: api, configProvider: cfgProvider}
}

func (c *CourseClient) ListAll(ctx context.Context) ([]domain.Course, error) {
	cfg := c.configProvider.Get()
	return c.list(ctx, cfg.API.CoursesPath, nil, cfg.Cache.ListTTL())
}

func (c *CourseClient) ListEnrolled(ctx context.Context) ([]domain.Course, error) {
	cfg := c.configProvider.Get()
	return c.list(ctx, cfg.API.CoursesPath, Params{"filter": "enrolled"}, cfg.Cache.EnrolledTTL())
}

func (c *CourseClient) list(ctx context.Context, path string, params Params, ttl time.Duration) ([]domain.Course, error) {
	body, err := c.api.Get(ctx, path, params, ttl)
	if err != nil {
		return nil, err
	}
	var courses []domain.Course
	if err := decodeData(body, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

func (c *CourseClient) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	cfg := c.configProvider.Get()
	path := strings.TrimRight(cfg.API.CoursesPath, "/") + "/" + url.PathEscape(id)

	body, err := c.api.Get(ctx, path, nil, cfg.Cache.DetailTTL())
	if err != nil {
		return nil, err
	}
	var course domain.Course
	if err := decodeData(body, &course); err != nil {
		return nil, err
	}
	return &course, nil
}
