package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shindakun/mockportal/internal/models"
	"github.com/shindakun/mockportal/internal/portal"
	"github.com/shindakun/mockportal/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionWithoutTokens(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.svc.ForBrowser("browser-1").GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, env.api.userCalls)
}

func TestGetSessionVerifiesWithProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))
	env.api.user = &models.User{ID: "user-a@b.co", Email: "a@b.co"}

	session, err := env.svc.ForBrowser("browser-1").GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a@b.co", session.Email)
	assert.Equal(t, []string{"access-a@b.co"}, env.api.userCalls)
	assert.Zero(t, env.api.refreshCount())
}

func TestGetSessionRefreshesNearExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", 30*time.Second)))

	fresh := env.session("a@b.co", time.Hour)
	fresh.AccessToken = "access-2"
	env.api.refreshed = fresh

	rec := &recorder{}
	defer env.hub.Subscribe("browser-1", rec.record)()

	session, err := env.svc.ForBrowser("browser-1").GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", session.AccessToken)
	assert.Equal(t, []models.AuthEvent{models.AuthEventTokenRefreshed}, rec.events())

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
}

func TestGetSessionRejectedRefreshSignsOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))
	env.api.userErr = &provider.Error{Status: 401, Code: "bad_jwt", Message: "invalid JWT"}
	env.api.refreshErr = errRejected

	rec := &recorder{}
	defer env.hub.Subscribe("browser-1", rec.record)()

	session, err := env.svc.ForBrowser("browser-1").GetSession(ctx)
	assert.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []models.AuthEvent{models.AuthEventSignedOut}, rec.events())

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestGetSessionTransportErrorKeepsTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))
	env.api.userErr = errors.New("connection reset")

	_, err := env.svc.ForBrowser("browser-1").GetSession(ctx)
	assert.Error(t, err)

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestSignInStoresAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.signInSession = env.session("a@b.co", time.Hour)

	rec := &recorder{}
	defer env.hub.Subscribe("browser-1", rec.record)()

	session, err := env.svc.ForBrowser("browser-1").SignInWithPassword(ctx, "a@b.co", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", session.Email)
	assert.Equal(t, []models.AuthEvent{models.AuthEventSignedIn}, rec.events())

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, "access-a@b.co", stored.AccessToken)
}

func TestSignInOneGrantPerBrowser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.signInSession = env.session("a@b.co", time.Hour)
	env.api.signInGate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := env.svc.ForBrowser("browser-1").SignInWithPassword(ctx, "a@b.co", "secret123")
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return env.api.signInCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := env.svc.ForBrowser("browser-1").SignInWithPassword(ctx, "a@b.co", "secret123")
	assert.ErrorIs(t, err, portal.ErrSubmitInProgress)

	close(env.api.signInGate)
	wg.Wait()
	assert.Equal(t, 1, env.api.signInCount())

	// Other browsers and later submissions are unaffected
	_, err = env.svc.ForBrowser("browser-2").SignInWithPassword(ctx, "a@b.co", "secret123")
	require.NoError(t, err)
	_, err = env.svc.ForBrowser("browser-1").SignInWithPassword(ctx, "a@b.co", "secret123")
	require.NoError(t, err)
	assert.Equal(t, 3, env.api.signInCount())
}

func TestSignInProviderErrorPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	env.api.signInErr = &provider.Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}

	_, err := env.svc.ForBrowser("browser-1").SignInWithPassword(context.Background(), "a@b.co", "wrong-pass")
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "invalid_credentials", perr.Code)
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))

	rec := &recorder{}
	defer env.hub.Subscribe("browser-1", rec.record)()

	require.NoError(t, env.svc.ForBrowser("browser-1").SignOut(ctx))
	assert.Equal(t, []string{"access-a@b.co"}, env.api.signOutCalls)
	assert.Equal(t, []models.AuthEvent{models.AuthEventSignedOut}, rec.events())

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSignOutFailureKeepsTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))
	env.api.signOutErr = &provider.Error{Status: 500, Message: "internal error"}

	rec := &recorder{}
	defer env.hub.Subscribe("browser-1", rec.record)()

	assert.Error(t, env.svc.ForBrowser("browser-1").SignOut(ctx))
	assert.Empty(t, rec.events())

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestSignOutOfSessionProviderForgot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveAuthSession(ctx, "browser-1", env.session("a@b.co", time.Hour)))
	env.api.signOutErr = &provider.Error{Status: 401, Message: "session not found"}

	require.NoError(t, env.svc.ForBrowser("browser-1").SignOut(ctx))

	stored, err := env.store.GetAuthSession(ctx, "browser-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestOnAuthStateChangeIsScopedToBrowser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var got []models.AuthEvent
	unsubscribe := env.svc.ForBrowser("browser-1").OnAuthStateChange(func(event models.AuthEvent, _ *models.Session) {
		got = append(got, event)
	})

	env.svc.publish(ctx, "browser-2", models.AuthEventSignedIn, nil)
	env.svc.publish(ctx, "browser-1", models.AuthEventSignedOut, nil)
	assert.Equal(t, []models.AuthEvent{models.AuthEventSignedOut}, got)

	unsubscribe()
	assert.Zero(t, env.hub.Subscribers("browser-1"))
}
