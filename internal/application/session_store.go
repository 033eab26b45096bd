package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/metrics"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/contextkeys"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

// SessionStore is the authentication state machine of one tab.
//
// ioMu serializes transitions that write storage and is always taken before
// mu. mu only guards the in-memory state, so Snapshot never waits on a storage
// round trip. Profile fetches hold neither. Every token-changing transition
// bumps epoch, and a profile result is only applied if no such transition
// happened while it was in flight, so a late response can never resurrect a
// session that was logged out meanwhile.
type SessionStore struct {
	tokens         *TokenStore
	profiles       domain.ProfileFetcher
	kv             domain.KeyValueStore
	broadcaster    domain.SessionBroadcaster // nil disables cross-tab signals
	configProvider config.Provider
	logger         domain.Logger
	clock          domain.Clock
	tabID          string
	namespace      string

	ioMu  sync.Mutex
	mu    sync.Mutex
	state domain.SessionState
	epoch uint64

	listeners listenerSet[domain.SessionState]
	renewalWg sync.WaitGroup
}

// NewSessionStore creates a store in the Unknown state. Call Restore to load
// the persisted projection and Listen to receive signals from other tabs.
func NewSessionStore(
	tokens *TokenStore,
	profiles domain.ProfileFetcher,
	kv domain.KeyValueStore,
	broadcaster domain.SessionBroadcaster,
	cfgProvider config.Provider,
	logger domain.Logger,
) *SessionStore {
	namespace := cfgProvider.Get().Storage.Namespace
	if namespace == "" {
		namespace = storagekeys.DefaultNamespace
	}
	return &SessionStore{
		tokens:         tokens,
		profiles:       profiles,
		kv:             kv,
		broadcaster:    broadcaster,
		configProvider: cfgProvider,
		logger:         logger,
		clock:          domain.SystemClock{},
		tabID:          uuid.NewString(),
		namespace:      namespace,
	}
}

// TabID identifies this store on the broadcast channel.
func (s *SessionStore) TabID() string { return s.tabID }

// Snapshot returns a copy of the current state.
func (s *SessionStore) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessionState(s.state)
}

// Subscribe registers fn for every state change.
func (s *SessionStore) Subscribe(fn func(domain.SessionState)) (unsubscribe func()) {
	return s.listeners.add(fn)
}

// Listen subscribes HandleSignal to the broadcast channel.
func (s *SessionStore) Listen(ctx context.Context) error {
	if s.broadcaster == nil {
		return nil
	}
	return s.broadcaster.Subscribe(ctx, s.HandleSignal)
}

// Restore loads the persisted projection. A missing, unreadable or
// version-mismatched record leaves the state Unknown. Loading and Bootstrapped
// always start false.
func (s *SessionStore) Restore(ctx context.Context) domain.SessionState {
	ctx = s.opContext(ctx, "restore")
	restored := domain.SessionState{}

	raw, err := s.kv.Get(ctx, storagekeys.SessionSnapshotKey(s.namespace))
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
	case err != nil:
		s.logger.Warn(ctx, "Failed to read persisted session, starting unknown", "error", err.Error())
	default:
		var snap domain.SessionSnapshot
		if errJSON := json.Unmarshal([]byte(raw), &snap); errJSON != nil {
			s.logger.Warn(ctx, "Discarding corrupt persisted session", "error", errJSON.Error())
			break
		}
		if snap.Version != domain.SessionSnapshotVersion {
			s.logger.Warn(ctx, "Discarding persisted session with unknown version", "version", snap.Version)
			break
		}
		restored.Status = snap.IsLoggedIn
		restored.Role = snap.Role
		restored.User = snap.User
	}

	s.mu.Lock()
	s.state = restored
	st := cloneSessionState(s.state)
	s.mu.Unlock()

	s.listeners.notify(st)
	return st
}

// Bootstrap derives the session from the stored tokens. With tokens present the
// store goes LoggedIn optimistically and confirms with a profile fetch.
func (s *SessionStore) Bootstrap(ctx context.Context) error {
	ctx = s.opContext(ctx, "bootstrap")
	epoch := s.currentEpoch()

	rec, err := s.tokens.Load(ctx)
	if err != nil {
		s.logger.Error(ctx, "Failed to read stored tokens during bootstrap", "error", err.Error())
		s.applyIf(ctx, "bootstrap", epoch, markLoggedOut)
		return fmt.Errorf("bootstrap session: %w", err)
	}
	if rec == nil {
		s.applyIf(ctx, "bootstrap", epoch, markLoggedOut)
		return nil
	}

	applied := s.applyIf(ctx, "bootstrap", epoch, func(st *domain.SessionState) bool {
		st.Status = domain.AuthLoggedIn
		st.Role = rec.Role
		st.Loading = true
		return true
	})
	if !applied {
		return nil
	}
	return s.loadProfile(ctx, "bootstrap", epoch)
}

// Login stores the token pair and enters LoggedIn. When user is nil the
// profile is fetched afterwards. A storage failure leaves the state untouched
// and returns an error matching domain.ErrStorageWrite.
func (s *SessionStore) Login(ctx context.Context, accessToken, refreshToken string, role domain.Role, user *domain.UserProfile) error {
	ctx = s.opContext(ctx, "login")
	rec := domain.TokenRecord{AccessToken: accessToken, RefreshToken: refreshToken, Role: role}

	s.ioMu.Lock()
	if err := s.tokens.Save(ctx, rec); err != nil {
		s.ioMu.Unlock()
		metrics.IncrementSessionTransition("login", "rejected")
		s.logger.Warn(ctx, "Login aborted, tokens not stored", "error", err.Error())
		return fmt.Errorf("login: %w", err)
	}
	if err := s.kv.Set(ctx, storagekeys.LoginKey(s.namespace), uuid.NewString()); err != nil {
		s.logger.Warn(ctx, "Failed to record session id", "error", err.Error())
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.state = domain.SessionState{
		Status:       domain.AuthLoggedIn,
		Role:         role,
		User:         cloneProfile(user),
		Loading:      user == nil,
		Bootstrapped: true,
	}
	st := cloneSessionState(s.state)
	s.mu.Unlock()

	s.persist(ctx, st)
	s.ioMu.Unlock()

	s.afterCommit(ctx, "login", st)
	s.publish(ctx, domain.SignalLogin, "")

	if user != nil {
		return nil
	}
	return s.loadProfile(ctx, "login", epoch)
}

// RefreshUser refetches the profile of the current session. It fails with an
// error matching domain.ErrAuthInvalid unless the session is bootstrapped and
// logged in.
func (s *SessionStore) RefreshUser(ctx context.Context) error {
	ctx = s.opContext(ctx, "refresh_user")
	epoch := s.currentEpoch()
	started := s.applyIf(ctx, "refresh_user", epoch, func(st *domain.SessionState) bool {
		if st.Status != domain.AuthLoggedIn || !st.Bootstrapped {
			return false
		}
		st.Loading = true
		return true
	})
	if !started {
		return fmt.Errorf("refresh_user: %w", domain.NewError(domain.ErrCodeAuthInvalid, "no active session", nil))
	}
	return s.loadProfile(ctx, "refresh_user", epoch)
}

// Logout clears the tokens, enters LoggedOut and notifies the other tabs.
func (s *SessionStore) Logout(ctx context.Context) error {
	ctx = s.opContext(ctx, "logout")
	return s.endSession(ctx, "logout", nil, "", true)
}

// HandleSignal applies a signal from another tab. Own signals are ignored. A
// logout is applied locally without network calls or re-broadcast, unless it
// names a session that a later login already replaced; a login re-reads the
// shared tokens through Bootstrap.
func (s *SessionStore) HandleSignal(ctx context.Context, signal domain.SessionSignal) error {
	ctx = s.opContext(ctx, "handle_signal")
	if signal.Origin == s.tabID {
		metrics.IncrementSessionSignal("ignored", string(signal.Kind))
		return nil
	}

	switch signal.Kind {
	case domain.SignalLogout:
		s.logger.Info(ctx, "Applying logout from another tab", "origin", signal.Origin)
		return s.endSession(ctx, "remote_logout", nil, signal.SessionID, false)
	case domain.SignalLogin:
		metrics.IncrementSessionSignal("applied", string(signal.Kind))
		s.logger.Info(ctx, "Re-bootstrapping after login in another tab", "origin", signal.Origin)
		return s.Bootstrap(ctx)
	default:
		metrics.IncrementSessionSignal("ignored", string(signal.Kind))
		s.logger.Warn(ctx, "Ignoring unknown session signal", "kind", string(signal.Kind), "origin", signal.Origin)
		return nil
	}
}

// loadProfile fetches the profile and applies the outcome if the session was
// not replaced meanwhile. Only ErrAuthInvalid ends the session, unless
// session.logout_on_transient_error is set. A result never promotes a state
// that is not LoggedIn.
func (s *SessionStore) loadProfile(ctx context.Context, op string, epoch uint64) error {
	profile, err := s.profiles.FetchProfile(ctx)
	if err == nil {
		s.applyIf(ctx, op, epoch, func(st *domain.SessionState) bool {
			if st.Status != domain.AuthLoggedIn {
				return false
			}
			st.User = cloneProfile(profile)
			st.Loading = false
			st.Bootstrapped = true
			return true
		})
		return nil
	}

	if errors.Is(err, domain.ErrAuthInvalid) || s.configProvider.Get().Session.LogoutOnTransientError {
		s.logger.Warn(ctx, "Profile fetch rejected, ending session", "error", err.Error())
		if errEnd := s.endSession(ctx, op, &epoch, "", true); errEnd != nil {
			s.logger.Error(ctx, "Failed to fully clear invalidated session", "error", errEnd.Error())
		}
		return nil
	}

	s.logger.Warn(ctx, "Profile fetch failed, keeping session", "error", err.Error())
	s.applyIf(ctx, op, epoch, func(st *domain.SessionState) bool {
		if st.Status != domain.AuthLoggedIn {
			return false
		}
		st.Loading = false
		st.Bootstrapped = true
		return true
	})
	return fmt.Errorf("%s: fetch profile: %w", op, err)
}

// endSession clears tokens and enters LoggedOut. With expect set it does
// nothing when another transition ran since expect was read. With endedID set
// it does nothing when the stored session id is a different one.
func (s *SessionStore) endSession(ctx context.Context, op string, expect *uint64, endedID string, broadcast bool) error {
	s.ioMu.Lock()
	sessionID, err := s.kv.Get(ctx, storagekeys.LoginKey(s.namespace))
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			s.logger.Warn(ctx, "Failed to read session id", "error", err.Error())
		}
		sessionID = ""
	}
	if endedID != "" && sessionID != "" && endedID != sessionID {
		s.ioMu.Unlock()
		metrics.IncrementSessionSignal("stale", string(domain.SignalLogout))
		s.logger.Info(ctx, "Ignoring logout of a session that was already replaced", "session_id", endedID)
		return nil
	}

	s.mu.Lock()
	if expect != nil && *expect != s.epoch {
		s.mu.Unlock()
		s.ioMu.Unlock()
		s.logger.Debug(ctx, "Session changed while request was in flight, not ending it")
		return nil
	}
	s.epoch++
	setLoggedOut(&s.state)
	st := cloneSessionState(s.state)
	s.mu.Unlock()

	errClear := s.tokens.Clear(ctx)
	if errClear != nil {
		s.logger.Error(ctx, "Failed to clear tokens", "error", errClear.Error())
	}
	if sessionID != "" {
		if err := s.kv.Delete(ctx, storagekeys.LoginKey(s.namespace)); err != nil {
			s.logger.Warn(ctx, "Failed to delete session id", "error", err.Error())
		}
	}
	s.persist(ctx, st)
	if broadcast {
		if err := s.kv.Set(ctx, storagekeys.LogoutKey(s.namespace), s.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			s.logger.Warn(ctx, "Failed to write logout marker", "error", err.Error())
		}
	}
	s.ioMu.Unlock()

	if !broadcast {
		metrics.IncrementSessionSignal("applied", string(domain.SignalLogout))
	}
	s.afterCommit(ctx, op, st)
	if broadcast {
		s.publish(ctx, domain.SignalLogout, sessionID)
	}

	if errClear != nil {
		return fmt.Errorf("%s: %w", op, errClear)
	}
	return nil
}

// applyIf runs mutate when epoch is still current and commits the result if
// mutate reports a change. It returns whether the state was committed.
func (s *SessionStore) applyIf(ctx context.Context, op string, epoch uint64, mutate func(*domain.SessionState) bool) bool {
	s.ioMu.Lock()
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.ioMu.Unlock()
		s.logger.Debug(ctx, "Discarding superseded session update")
		return false
	}
	next := s.state
	if !mutate(&next) {
		s.mu.Unlock()
		s.ioMu.Unlock()
		return false
	}
	s.state = next
	st := cloneSessionState(s.state)
	s.mu.Unlock()

	s.persist(ctx, st)
	s.ioMu.Unlock()

	s.afterCommit(ctx, op, st)
	return true
}

func (s *SessionStore) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// persist writes the projection of st. Callers hold ioMu, so snapshots land in
// transition order.
func (s *SessionStore) persist(ctx context.Context, st domain.SessionState) {
	snap := domain.SessionSnapshot{
		Version:    domain.SessionSnapshotVersion,
		IsLoggedIn: st.Status,
		Role:       st.Role,
		User:       st.User,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error(ctx, "Failed to encode session snapshot", "error", err.Error())
		return
	}
	if err := s.kv.Set(ctx, storagekeys.SessionSnapshotKey(s.namespace), string(payload)); err != nil {
		s.logger.Warn(ctx, "Failed to persist session snapshot", "error", err.Error())
	}
}

func (s *SessionStore) afterCommit(ctx context.Context, op string, st domain.SessionState) {
	metrics.IncrementSessionTransition(op, st.Status.String())
	s.logger.Debug(ctx, "Session state changed",
		"status", st.Status.String(),
		"role", string(st.Role),
		"loading", st.Loading,
		"bootstrapped", st.Bootstrapped,
	)
	s.listeners.notify(st)
}

func (s *SessionStore) publish(ctx context.Context, kind domain.SessionSignalKind, sessionID string) {
	if s.broadcaster == nil {
		return
	}
	signal := domain.SessionSignal{Kind: kind, Origin: s.tabID, At: s.clock.Now().UTC(), SessionID: sessionID}
	if err := s.broadcaster.Publish(ctx, signal); err != nil {
		s.logger.Warn(ctx, "Failed to broadcast session signal", "kind", string(kind), "error", err.Error())
		return
	}
	metrics.IncrementSessionSignal("published", string(kind))
}

func (s *SessionStore) opContext(ctx context.Context, op string) context.Context {
	ctx = context.WithValue(ctx, contextkeys.TabIDKey, s.tabID)
	return context.WithValue(ctx, contextkeys.OperationKey, op)
}

func setLoggedOut(st *domain.SessionState) {
	*st = domain.SessionState{Status: domain.AuthLoggedOut, Bootstrapped: true}
}

func markLoggedOut(st *domain.SessionState) bool {
	setLoggedOut(st)
	return true
}

func cloneProfile(p *domain.UserProfile) *domain.UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneSessionState(st domain.SessionState) domain.SessionState {
	st.User = cloneProfile(st.User)
	return st
}
