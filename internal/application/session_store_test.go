package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/course-data-layer/benchmarks/mocks"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/config"
	"gitlab.com/timkado/api/course-data-layer/internal/adapters/memory"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

var (
	aliceProfile = &domain.UserProfile{ID: "u-1", Email: "alice@example.com", Name: "Alice", Role: domain.RoleAdmin}
	errOffline   = domain.NewError(domain.ErrCodeNetworkUnavailable, "dial tcp: connection refused", nil)
)

// origin is one simulated browser origin: every tab shares kv and bus.
type origin struct {
	t   *testing.T
	kv  *mocks.MockKeyValueStore
	bus *memory.Bus
	cfg *mocks.MockConfigProvider
}

func newOrigin(t *testing.T) *origin {
	return &origin{
		t:   t,
		kv:  mocks.NewMockKeyValueStore(),
		bus: memory.NewBus(),
		cfg: mocks.NewMockConfigProvider(),
	}
}

func (o *origin) namespace() string { return o.cfg.Get().Storage.Namespace }

func (o *origin) tokens() *TokenStore {
	return NewTokenStore(o.kv, o.namespace(), mocks.NewMockLogger())
}

func (o *origin) openTab(profiles domain.ProfileFetcher) *SessionStore {
	o.t.Helper()
	s := NewSessionStore(o.tokens(), profiles, o.kv, o.bus.NewBroadcaster(), o.cfg, mocks.NewMockLogger())
	require.NoError(o.t, s.Listen(context.Background()))
	return s
}

func (o *origin) storeTokens(role domain.Role) {
	o.t.Helper()
	require.NoError(o.t, o.tokens().Save(context.Background(),
		domain.TokenRecord{AccessToken: "acc", RefreshToken: "ref", Role: role}))
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.SessionState
}

func record(s *SessionStore) *stateRecorder {
	r := &stateRecorder{}
	s.Subscribe(func(st domain.SessionState) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, st)
	})
	return r
}

func (r *stateRecorder) all() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionState{}, r.states...)
}

func TestBootstrapWithoutTokensIsLoggedOutRegardlessOfPriorState(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	s := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	ctx := context.Background()

	require.NoError(t, s.Bootstrap(ctx))
	assertLoggedOut(t, s.Snapshot())

	require.NoError(t, s.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))
	require.NoError(t, o.tokens().Clear(ctx))

	require.NoError(t, s.Bootstrap(ctx))
	assertLoggedOut(t, s.Snapshot())
}

func assertLoggedOut(t *testing.T, st domain.SessionState) {
	t.Helper()
	require.NotNil(t, st.IsLoggedIn())
	assert.False(t, *st.IsLoggedIn())
	assert.Empty(t, st.Role)
	assert.Nil(t, st.User)
	assert.True(t, st.Bootstrapped)
	assert.False(t, st.Loading)
}

func TestBootstrapWithTokensConfirmsProfile(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.storeTokens(domain.RoleAdmin)
	profiles := mocks.NewMockProfileFetcher(aliceProfile)
	s := o.openTab(profiles)
	rec := record(s)

	assert.Nil(t, s.Snapshot().IsLoggedIn())
	require.NoError(t, s.Bootstrap(context.Background()))

	states := rec.all()
	require.Len(t, states, 2)
	assert.Equal(t, domain.AuthLoggedIn, states[0].Status)
	assert.True(t, states[0].Loading)
	assert.False(t, states[0].Bootstrapped)

	final := s.Snapshot()
	assert.Equal(t, domain.AuthLoggedIn, final.Status)
	assert.Equal(t, domain.RoleAdmin, final.Role)
	assert.Equal(t, aliceProfile, final.User)
	assert.False(t, final.Loading)
	assert.True(t, final.Bootstrapped)
	assert.Equal(t, int64(1), profiles.CallCount())
}

func TestBootstrapWithRejectedTokenLogsOut(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.storeTokens(domain.RoleStudent)
	profiles := mocks.NewMockProfileFetcher(nil)
	profiles.SetResult(nil, domain.ErrAuthInvalid)
	s := o.openTab(profiles)

	require.NoError(t, s.Bootstrap(context.Background()))

	assertLoggedOut(t, s.Snapshot())
	rec, err := o.tokens().Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBootstrapKeepsSessionOnTransientFailure(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.storeTokens(domain.RoleStudent)
	profiles := mocks.NewMockProfileFetcher(nil)
	profiles.SetResult(nil, errOffline)
	s := o.openTab(profiles)

	err := s.Bootstrap(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetworkUnavailable)

	st := s.Snapshot()
	assert.Equal(t, domain.AuthLoggedIn, st.Status)
	assert.Equal(t, domain.RoleStudent, st.Role)
	assert.True(t, st.Bootstrapped)
	assert.False(t, st.Loading)

	rec, errLoad := o.tokens().Load(context.Background())
	require.NoError(t, errLoad)
	assert.NotNil(t, rec)
}

func TestBootstrapLogsOutOnTransientFailureWhenConfigured(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.cfg.UpdateConfig(func(cfg *config.Config) { cfg.Session.LogoutOnTransientError = true })
	o.storeTokens(domain.RoleStudent)
	profiles := mocks.NewMockProfileFetcher(nil)
	profiles.SetResult(nil, errOffline)
	s := o.openTab(profiles)

	require.NoError(t, s.Bootstrap(context.Background()))
	assertLoggedOut(t, s.Snapshot())
}

func TestLoginWithoutPayloadFetchesProfileThenRefreshFailureLogsOut(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	profiles := mocks.NewMockProfileFetcher(aliceProfile)
	s := o.openTab(profiles)
	rec := record(s)
	ctx := context.Background()

	assert.Equal(t, domain.AuthUnknown, s.Snapshot().Status)
	require.NoError(t, s.Login(ctx, "acc", "ref", domain.RoleAdmin, nil))

	states := rec.all()
	require.Len(t, states, 2)
	assert.Equal(t, domain.AuthLoggedIn, states[0].Status)
	assert.Nil(t, states[0].User)
	assert.True(t, states[0].Loading)
	assert.Equal(t, domain.AuthLoggedIn, states[1].Status)
	assert.Equal(t, aliceProfile, states[1].User)
	assert.False(t, states[1].Loading)
	assert.Equal(t, domain.RoleAdmin, states[1].Role)

	profiles.SetResult(nil, domain.ErrAuthInvalid)
	require.NoError(t, s.RefreshUser(ctx))
	assertLoggedOut(t, s.Snapshot())
}

func TestLoginWithPayloadSkipsNetwork(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	profiles := mocks.NewMockProfileFetcher(aliceProfile)
	s := o.openTab(profiles)

	require.NoError(t, s.Login(context.Background(), "acc", "ref", domain.RoleStudent, aliceProfile))

	st := s.Snapshot()
	assert.Equal(t, domain.AuthLoggedIn, st.Status)
	assert.Equal(t, aliceProfile, st.User)
	assert.True(t, st.Bootstrapped)
	assert.Equal(t, int64(0), profiles.CallCount())
}

func TestLoginStorageFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.kv.FailSet(storagekeys.RefreshTokenKey(o.namespace()))
	tabA := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	tabB := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))

	err := tabA.Login(context.Background(), "acc", "ref", domain.RoleStudent, aliceProfile)
	assert.ErrorIs(t, err, domain.ErrStorageWrite)

	assert.Equal(t, domain.SessionState{}, tabA.Snapshot())
	assert.Equal(t, domain.SessionState{}, tabB.Snapshot())
	rec, errLoad := o.tokens().Load(context.Background())
	require.NoError(t, errLoad)
	assert.Nil(t, rec)
}

func TestLogoutPropagatesToOtherTabsWithoutNetwork(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	ctx := context.Background()
	profilesA := mocks.NewMockProfileFetcher(aliceProfile)
	profilesB := mocks.NewMockProfileFetcher(aliceProfile)
	tabA := o.openTab(profilesA)
	tabB := o.openTab(profilesB)

	require.NoError(t, tabA.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))
	require.Equal(t, domain.AuthLoggedIn, tabB.Snapshot().Status, "tab B picks up the login")
	callsBefore := profilesB.CallCount()

	require.NoError(t, tabA.Logout(ctx))

	assertLoggedOut(t, tabA.Snapshot())
	assertLoggedOut(t, tabB.Snapshot())
	assert.Equal(t, callsBefore, profilesB.CallCount())
	assert.NotEmpty(t, o.kv.Values()[storagekeys.LogoutKey(o.namespace())])
}

func TestHandleSignalIgnoresOwnOrigin(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	s := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	require.NoError(t, s.Login(context.Background(), "acc", "ref", domain.RoleAdmin, aliceProfile))

	err := s.HandleSignal(context.Background(), domain.SessionSignal{Kind: domain.SignalLogout, Origin: s.TabID(), At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.AuthLoggedIn, s.Snapshot().Status)
}

func TestLateProfileResponseDoesNotResurrectLoggedOutSession(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.storeTokens(domain.RoleStudent)
	profiles := mocks.NewMockProfileFetcher(aliceProfile)
	release := profiles.Block()
	s := o.openTab(profiles)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Bootstrap(ctx) }()
	require.Eventually(t, func() bool { return profiles.CallCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Logout(ctx))
	release()
	require.NoError(t, <-done)

	assertLoggedOut(t, s.Snapshot())
}

func TestRestoreUsesPersistedProjection(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	ctx := context.Background()
	first := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	require.NoError(t, first.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))

	reloaded := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	st := reloaded.Restore(ctx)

	assert.Equal(t, domain.AuthLoggedIn, st.Status)
	assert.Equal(t, domain.RoleAdmin, st.Role)
	assert.Equal(t, aliceProfile, st.User)
	assert.False(t, st.Bootstrapped)
	assert.False(t, st.Loading)
}

func TestRestoreFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	mismatched, err := json.Marshal(domain.SessionSnapshot{Version: domain.SessionSnapshotVersion + 1, IsLoggedIn: domain.AuthLoggedIn})
	require.NoError(t, err)

	testCases := []struct {
		name string
		raw  *string
	}{
		{name: "missing"},
		{name: "corrupt", raw: ptr("{not json")},
		{name: "version mismatch", raw: ptr(string(mismatched))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrigin(t)
			if tc.raw != nil {
				require.NoError(t, o.kv.Set(context.Background(), storagekeys.SessionSnapshotKey(o.namespace()), *tc.raw))
			}
			s := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))

			st := s.Restore(context.Background())
			assert.Equal(t, domain.SessionState{}, st)
			assert.Nil(t, st.IsLoggedIn())
		})
	}
}

func TestSessionStateJSONUsesTriStateFlag(t *testing.T) {
	t.Parallel()

	for status, want := range map[domain.AuthStatus]string{
		domain.AuthUnknown:   `"isLoggedIn":null`,
		domain.AuthLoggedOut: `"isLoggedIn":false`,
		domain.AuthLoggedIn:  `"isLoggedIn":true`,
	} {
		raw, err := json.Marshal(domain.SessionState{Status: status})
		require.NoError(t, err)
		assert.Contains(t, string(raw), want)

		var back domain.SessionState
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, status, back.Status)
	}
}

func TestRevalidationLoopEndsRevokedSession(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.cfg.UpdateConfig(func(cfg *config.Config) { cfg.Session.RevalidateIntervalSeconds = 1 })
	profiles := mocks.NewMockProfileFetcher(aliceProfile)
	s := o.openTab(profiles)
	require.NoError(t, s.Login(context.Background(), "acc", "ref", domain.RoleAdmin, aliceProfile))
	profiles.SetResult(nil, domain.ErrAuthInvalid)

	ctx, cancel := context.WithCancel(context.Background())
	s.StartRevalidationLoop(ctx)

	require.Eventually(t, func() bool {
		return s.Snapshot().Status == domain.AuthLoggedOut
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	s.WaitRevalidation()
}

func TestLogoutReportsTokenClearFailure(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	s := NewSessionStore(NewTokenStore(failingDeleteStore{o.kv}, o.namespace(), mocks.NewMockLogger()),
		mocks.NewMockProfileFetcher(aliceProfile), o.kv, nil, o.cfg, mocks.NewMockLogger())

	err := s.Logout(context.Background())
	require.Error(t, err)
	assertLoggedOut(t, s.Snapshot())
}

func TestRefreshUserRequiresActiveSession(t *testing.T) {
	t.Parallel()

	t.Run("unknown session with transient failure", func(t *testing.T) {
		o := newOrigin(t)
		profiles := mocks.NewMockProfileFetcher(nil)
		profiles.SetResult(nil, errOffline)
		s := o.openTab(profiles)

		err := s.RefreshUser(context.Background())
		assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		assert.Equal(t, domain.SessionState{}, s.Snapshot())
		assert.Equal(t, int64(0), profiles.CallCount())
	})

	t.Run("logged out session with reachable profile", func(t *testing.T) {
		o := newOrigin(t)
		profiles := mocks.NewMockProfileFetcher(aliceProfile)
		s := o.openTab(profiles)
		ctx := context.Background()
		require.NoError(t, s.Bootstrap(ctx))

		err := s.RefreshUser(ctx)
		assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		assertLoggedOut(t, s.Snapshot())
		assert.Equal(t, int64(0), profiles.CallCount())

		rec, errLoad := o.tokens().Load(ctx)
		require.NoError(t, errLoad)
		assert.Nil(t, rec)
	})
}

func TestSessionInvariantsHoldAcrossTransitions(t *testing.T) {
	t.Parallel()

	starts := []struct {
		name  string
		setup func(t *testing.T, o *origin, s *SessionStore)
	}{
		{name: "unknown", setup: func(*testing.T, *origin, *SessionStore) {}},
		{name: "logged out", setup: func(t *testing.T, _ *origin, s *SessionStore) {
			require.NoError(t, s.Bootstrap(context.Background()))
		}},
		{name: "logged in", setup: func(t *testing.T, _ *origin, s *SessionStore) {
			require.NoError(t, s.Login(context.Background(), "acc", "ref", domain.RoleAdmin, aliceProfile))
		}},
		{name: "restored without tokens", setup: func(t *testing.T, o *origin, s *SessionStore) {
			ctx := context.Background()
			other := NewSessionStore(o.tokens(), mocks.NewMockProfileFetcher(aliceProfile), o.kv, nil, o.cfg, mocks.NewMockLogger())
			require.NoError(t, other.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))
			require.NoError(t, o.tokens().Clear(ctx))
			s.Restore(ctx)
		}},
	}

	transitions := []struct {
		name string
		run  func(o *origin, s *SessionStore, profiles *mocks.MockProfileFetcher)
	}{
		{name: "bootstrap", run: func(_ *origin, s *SessionStore, _ *mocks.MockProfileFetcher) {
			_ = s.Bootstrap(context.Background())
		}},
		{name: "refresh succeeds", run: func(_ *origin, s *SessionStore, profiles *mocks.MockProfileFetcher) {
			profiles.SetResult(aliceProfile, nil)
			_ = s.RefreshUser(context.Background())
		}},
		{name: "refresh offline", run: func(_ *origin, s *SessionStore, profiles *mocks.MockProfileFetcher) {
			profiles.SetResult(nil, errOffline)
			_ = s.RefreshUser(context.Background())
		}},
		{name: "refresh rejected", run: func(_ *origin, s *SessionStore, profiles *mocks.MockProfileFetcher) {
			profiles.SetResult(nil, domain.ErrAuthInvalid)
			_ = s.RefreshUser(context.Background())
		}},
		{name: "logout", run: func(_ *origin, s *SessionStore, _ *mocks.MockProfileFetcher) {
			_ = s.Logout(context.Background())
		}},
		{name: "remote logout", run: func(_ *origin, s *SessionStore, _ *mocks.MockProfileFetcher) {
			_ = s.HandleSignal(context.Background(), domain.SessionSignal{Kind: domain.SignalLogout, Origin: "other-tab", At: time.Now()})
		}},
		{name: "login", run: func(_ *origin, s *SessionStore, profiles *mocks.MockProfileFetcher) {
			profiles.SetResult(aliceProfile, nil)
			_ = s.Login(context.Background(), "acc2", "ref2", domain.RoleStudent, nil)
		}},
	}

	for _, start := range starts {
		for _, tr := range transitions {
			t.Run(start.name+"/"+tr.name, func(t *testing.T) {
				o := newOrigin(t)
				profiles := mocks.NewMockProfileFetcher(aliceProfile)
				s := o.openTab(profiles)
				start.setup(t, o, s)

				tr.run(o, s, profiles)

				st := s.Snapshot()
				if st.Bootstrapped {
					assert.NotEqual(t, domain.AuthUnknown, st.Status, "bootstrapped state must be decided")
				}
				if st.Role != "" || st.User != nil {
					assert.Equal(t, domain.AuthLoggedIn, st.Status, "role and user only belong to a logged in session")
				}
				if st.Status == domain.AuthLoggedIn && st.Bootstrapped {
					rec, err := o.tokens().Load(context.Background())
					require.NoError(t, err)
					assert.NotNil(t, rec, "a confirmed session must have stored tokens")
				}
			})
		}
	}
}

func TestStaleRemoteLogoutKeepsNewerSession(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	ctx := context.Background()
	tabA := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	tabB := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	loginKey := storagekeys.LoginKey(o.namespace())

	require.NoError(t, tabA.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))
	firstID := o.kv.Values()[loginKey]
	require.NotEmpty(t, firstID)

	require.NoError(t, tabA.Logout(ctx))
	assertLoggedOut(t, tabB.Snapshot())
	assert.NotContains(t, o.kv.Values(), loginKey)

	require.NoError(t, tabA.Login(ctx, "acc2", "ref2", domain.RoleAdmin, aliceProfile))
	require.NotEqual(t, firstID, o.kv.Values()[loginKey])
	require.Equal(t, domain.AuthLoggedIn, tabB.Snapshot().Status)

	late := domain.SessionSignal{Kind: domain.SignalLogout, Origin: tabA.TabID(), At: time.Now().Add(-time.Minute), SessionID: firstID}
	require.NoError(t, tabB.HandleSignal(ctx, late))

	assert.Equal(t, domain.AuthLoggedIn, tabA.Snapshot().Status)
	assert.Equal(t, domain.AuthLoggedIn, tabB.Snapshot().Status)
	rec, err := o.tokens().Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "acc2", rec.AccessToken)
}

func TestRemoteLogoutOfCurrentSessionClearsTokens(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	ctx := context.Background()
	tab := o.openTab(mocks.NewMockProfileFetcher(aliceProfile))
	require.NoError(t, tab.Login(ctx, "acc", "ref", domain.RoleAdmin, aliceProfile))
	current := o.kv.Values()[storagekeys.LoginKey(o.namespace())]

	signal := domain.SessionSignal{Kind: domain.SignalLogout, Origin: "other-tab", At: time.Now(), SessionID: current}
	require.NoError(t, tab.HandleSignal(ctx, signal))

	assertLoggedOut(t, tab.Snapshot())
	rec, err := o.tokens().Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NotContains(t, o.kv.Values(), storagekeys.LoginKey(o.namespace()))
}

func TestSnapshotDoesNotWaitOnTokenWrite(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	kv := &blockingSetStore{
		KeyValueStore: o.kv,
		key:           storagekeys.AccessTokenKey(o.namespace()),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	s := NewSessionStore(NewTokenStore(kv, o.namespace(), mocks.NewMockLogger()),
		mocks.NewMockProfileFetcher(aliceProfile), kv, nil, o.cfg, mocks.NewMockLogger())

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "acc", "ref", domain.RoleAdmin, aliceProfile) }()
	<-kv.entered

	snapshots := make(chan domain.SessionState, 1)
	go func() { snapshots <- s.Snapshot() }()
	select {
	case st := <-snapshots:
		assert.Equal(t, domain.AuthUnknown, st.Status)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind the token write")
	}

	close(kv.release)
	require.NoError(t, <-done)
	assert.Equal(t, domain.AuthLoggedIn, s.Snapshot().Status)
}

// blockingSetStore holds writes of key until release is closed.
type blockingSetStore struct {
	domain.KeyValueStore
	key     string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSetStore) Set(ctx context.Context, key, value string) error {
	if key == b.key {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		<-b.release
	}
	return b.KeyValueStore.Set(ctx, key, value)
}

type failingDeleteStore struct{ domain.KeyValueStore }

func (failingDeleteStore) Delete(context.Context, string) error { return errors.New("read-only storage") }

func ptr[T any](v T) *T { return &v }
