package application

import (
	"context"
	"sync"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// BootstrapGate orders startup: session bootstrap first, then a one-time course
// prefetch. Consumers wait on Ready before reading either store.
type BootstrapGate struct {
	session        *SessionStore
	courses        *CourseStore
	configProvider config.Provider
	logger         domain.Logger

	ready     chan struct{}
	readyOnce sync.Once
	runOnce   sync.Once
}

func NewBootstrapGate(session *SessionStore, courses *CourseStore, cfgProvider config.Provider, logger domain.Logger) *BootstrapGate {
	return &BootstrapGate{
		session:        session,
		courses:        courses,
		configProvider: cfgProvider,
		logger:         logger,
		ready:          make(chan struct{}),
	}
}

// Run bootstraps the session unless already bootstrapped, opens the gate and
// prefetches courses. Only the first call does anything. Prefetch failures are
// logged; they never keep the gate closed.
func (g *BootstrapGate) Run(ctx context.Context) {
	g.runOnce.Do(func() {
		if !g.session.Snapshot().Bootstrapped {
			if err := g.session.Bootstrap(ctx); err != nil {
				g.logger.Warn(ctx, "Session bootstrap finished with error", "error", err.Error())
			}
		}
		g.open()

		if _, err := g.courses.FetchAll(ctx); err != nil {
			g.logger.Warn(ctx, "Course prefetch failed", "error", err.Error())
		}
		if g.configProvider.Get().Bootstrap.PrefetchEnrolled && g.session.Snapshot().Status == domain.AuthLoggedIn {
			if _, err := g.courses.FetchEnrolled(ctx); err != nil {
				g.logger.Warn(ctx, "Enrolled course prefetch failed", "error", err.Error())
			}
		}
		g.logger.Info(ctx, "Bootstrap complete")
	})
}

func (g *BootstrapGate) open() {
	g.readyOnce.Do(func() { close(g.ready) })
}

// Ready is closed once the session is bootstrapped.
func (g *BootstrapGate) Ready() <-chan struct{} { return g.ready }

func (g *BootstrapGate) IsReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx ends.
func (g *BootstrapGate) Wait(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
