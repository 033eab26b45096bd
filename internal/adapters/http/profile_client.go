package http

import (
	"context"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// ProfileClient loads the current user's profile from api.profile_path.
type ProfileClient struct {
	api            *APIClient
	configProvider config.Provider
}

var _ domain.ProfileFetcher = (*ProfileClient)(nil)

func NewProfileClient(api *APIClient, cfgProvider config.Provider) *ProfileClient {
	return &ProfileClient{api: api, configProvider: cfgProvider}
}

// FetchProfile is never served from cache; concurrent calls share one request.
func (p *ProfileClient) FetchProfile(ctx context.Context) (*domain.UserProfile, error) {
	body, err := p.api.Get(ctx, p.configProvider.Get().API.ProfilePath, nil, 0)
	if err != nil {
		return nil, err
	}
	var profile domain.UserProfile
	if err := decodeData(body, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
