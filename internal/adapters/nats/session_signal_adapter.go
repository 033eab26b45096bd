package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

// SessionSignalAdapter implements domain.SessionBroadcaster on a core NATS subject.
// Signals are fire-and-forget: a process that is offline when a logout is
// published catches up from the persisted session snapshot on its next restore.
type SessionSignalAdapter struct {
	nc      *nats.Conn
	subject string
	logger  domain.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSessionSignalAdapter connects to the NATS server and returns the adapter
// with a cleanup func draining the connection.
func NewSessionSignalAdapter(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger, tabID string) (*SessionSignalAdapter, func(), error) {
	appFullCfg := cfgProvider.Get()
	natsCfg := appFullCfg.NATS

	connectTimeout := time.Duration(natsCfg.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-signals-%s", appFullCfg.App.ServiceName, tabID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(natsCfg.MaxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(connectTimeout),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	adapter := NewSessionSignalAdapterFromConn(nc, storagekeys.SessionSignalChannel(appFullCfg.Storage.Namespace), appLogger)

	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS connection...")
		adapter.Close()
	}

	return adapter, cleanup, nil
}

// NewSessionSignalAdapterFromConn wraps an existing connection. Close drains it.
func NewSessionSignalAdapterFromConn(nc *nats.Conn, subject string, logger domain.Logger) *SessionSignalAdapter {
	return &SessionSignalAdapter{nc: nc, subject: subject, logger: logger}
}

var _ domain.SessionBroadcaster = (*SessionSignalAdapter)(nil)

func (a *SessionSignalAdapter) Publish(ctx context.Context, signal domain.SessionSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionSignal: %w", err)
	}
	if err := a.nc.Publish(a.subject, payload); err != nil {
		a.logger.Error(ctx, "Failed to publish session signal to NATS", "subject", a.subject, "error", err.Error())
		return fmt.Errorf("failed to publish to NATS subject '%s': %w", a.subject, err)
	}
	return nil
}

func (a *SessionSignalAdapter) Subscribe(ctx context.Context, handler domain.SessionSignalHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return errors.New("already subscribed on this adapter instance")
	}

	sub, err := a.nc.Subscribe(a.subject, func(msg *nats.Msg) {
		var signal domain.SessionSignal
		if err := json.Unmarshal(msg.Data, &signal); err != nil {
			a.logger.Error(ctx, "Failed to unmarshal SessionSignal from NATS", "subject", msg.Subject, "error", err.Error())
			return
		}
		if err := handler(ctx, signal); err != nil {
			a.logger.Error(ctx, "Error in SessionSignalHandler", "subject", msg.Subject, "kind", string(signal.Kind), "error", err.Error())
		}
	})
	if err != nil {
		a.logger.Error(ctx, "Failed to subscribe to NATS subject", "subject", a.subject, "error", err.Error())
		return fmt.Errorf("failed to subscribe to subject '%s': %w", a.subject, err)
	}
	a.sub = sub
	a.logger.Info(ctx, "Subscribed to session signal subject", "subject", a.subject)
	return nil
}

// Close unsubscribes and drains the NATS connection.
func (a *SessionSignalAdapter) Close() error {
	a.mu.Lock()
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
		a.sub = nil
	}
	a.mu.Unlock()

	if a.nc != nil && !a.nc.IsClosed() && !a.nc.IsDraining() {
		a.logger.Info(context.Background(), "Draining NATS connection...")
		if err := a.nc.Drain(); err != nil {
			a.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
			return err
		}
	}
	return nil
}

// IsConnected reports whether the underlying connection is up. The readiness
// endpoint uses it.
func (a *SessionSignalAdapter) IsConnected() bool {
	return a.nc != nil && a.nc.IsConnected()
}
