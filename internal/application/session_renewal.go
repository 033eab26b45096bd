package application

import (
	"context"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/safego"
)

// StartRevalidationLoop periodically refetches the profile while the session is
// logged in, so a token revoked server-side ends the session without waiting
// for the next user action. A non-positive interval disables the loop.
func (s *SessionStore) StartRevalidationLoop(appCtx context.Context) {
	interval := s.configProvider.Get().Session.RevalidateInterval()
	ctx := s.opContext(appCtx, "revalidate")

	if interval <= 0 {
		s.logger.Info(ctx, "Session revalidation interval is not configured; revalidation loop will not start.",
			"intervalSeconds", s.configProvider.Get().Session.RevalidateIntervalSeconds)
		return
	}

	s.logger.Info(ctx, "Starting session revalidation loop", "interval", interval.String())

	s.renewalWg.Add(1)
	safego.Execute(ctx, s.logger, "SessionRevalidationLoop", func() {
		defer s.renewalWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				st := s.Snapshot()
				if st.Status != domain.AuthLoggedIn || !st.Bootstrapped || st.Loading {
					continue
				}
				s.logger.Debug(ctx, "Revalidation tick: refreshing user profile")
				if err := s.RefreshUser(appCtx); err != nil {
					s.logger.Warn(ctx, "Session revalidation failed", "error", err.Error())
				}
			case <-appCtx.Done():
				s.logger.Info(ctx, "Session revalidation loop stopping")
				return
			}
		}
	})
}

// WaitRevalidation blocks until the revalidation loop has exited.
func (s *SessionStore) WaitRevalidation() {
	s.renewalWg.Wait()
}
