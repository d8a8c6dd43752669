package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/store"
)

func newTestManager(t *testing.T, cfg config.AuthConfig) (*AuthManager, *settings.Service, *store.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	svc := settings.New(st, &config.Config{Auth: cfg})
	require.NoError(t, svc.Load(ctx))
	return NewAuthManager(st, svc, cfg), svc, st
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestOpenDeploymentNeedsNoAuth(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, config.AuthConfig{})

	assert.False(t, m.LoginRequired(ctx))
	assert.False(t, m.ResetAvailable())
	assert.True(t, m.IsAuthenticated(authedRequest("")))

	_, err := m.Login(ctx, "admin", "whatever")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestLoginWithEnvPassword(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "secret123",
	})

	require.True(t, m.LoginRequired(ctx))

	sess, err := m.Login(ctx, "admin", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), sess.ExpiresAt, time.Minute)

	assert.True(t, m.IsAuthenticated(authedRequest(sess.Token)))
	assert.False(t, m.IsAuthenticated(authedRequest("")))
	assert.False(t, m.IsAuthenticated(authedRequest("not-a-jwt")))

	_, err = m.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = m.Login(ctx, "root", "secret123")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestChangePasswordRetiresEnvPassword(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "secret123",
	})

	assert.ErrorIs(t, m.ChangePassword(ctx, "secret123", "tiny"), ErrWeakPassword)
	assert.ErrorIs(t, m.ChangePassword(ctx, "wrong", "newpass99"), ErrBadCredentials)
	require.NoError(t, m.ChangePassword(ctx, "secret123", "newpass99"))

	_, err := m.Login(ctx, "admin", "secret123")
	assert.ErrorIs(t, err, ErrBadCredentials, "env password stops working once a hash is stored")

	sess, err := m.Login(ctx, "admin", "newpass99")
	require.NoError(t, err)
	assert.True(t, m.IsAuthenticated(authedRequest(sess.Token)))

	// Second change must verify against the stored hash.
	assert.ErrorIs(t, m.ChangePassword(ctx, "secret123", "another99"), ErrBadCredentials)
	require.NoError(t, m.ChangePassword(ctx, "newpass99", "another99"))
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "secret123",
		ResetToken:    "rescue-token",
	})

	require.True(t, m.ResetAvailable())
	assert.ErrorIs(t, m.ResetPassword(ctx, "rescue-token", "abc"), ErrWeakPassword)
	assert.ErrorIs(t, m.ResetPassword(ctx, "wrong-token", "newpass99"), ErrBadResetToken)
	require.NoError(t, m.ResetPassword(ctx, "rescue-token", "newpass99"))

	_, err := m.Login(ctx, "admin", "newpass99")
	require.NoError(t, err)
}

func TestResetDisabledWithoutToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "secret123",
	})
	assert.ErrorIs(t, m.ResetPassword(ctx, "anything", "newpass99"), ErrResetDisabled)
}

func TestStaticAPIToken(t *testing.T) {
	m, _, _ := newTestManager(t, config.AuthConfig{APIToken: "tok-123"})

	assert.True(t, m.IsAuthenticated(authedRequest("tok-123")))
	assert.False(t, m.IsAuthenticated(authedRequest("tok-999")))
	assert.False(t, m.IsAuthenticated(authedRequest("")))

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/", nil)
	req.Header.Set("X-API-Key", "tok-123")
	assert.True(t, m.IsAuthenticated(req), "X-API-Key is accepted as a fallback header")
}

func TestRotatingAPITokenInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := newTestManager(t, config.AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "secret123",
		APIToken:      "tok-123",
	})

	sess, err := m.Login(ctx, "admin", "secret123")
	require.NoError(t, err)
	require.True(t, m.IsAuthenticated(authedRequest(sess.Token)))

	// Without JWT_SECRET the API token signs sessions, so rotating it
	// ends them.
	require.NoError(t, svc.Update(ctx, map[string]string{settings.KeyAPIToken: "tok-456"}))
	assert.False(t, m.IsAuthenticated(authedRequest(sess.Token)))
}

func TestLoginSeesForeignHashWrites(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestManager(t, config.AuthConfig{AdminUsername: "admin"})

	require.False(t, m.LoginRequired(ctx))

	// A hash written by another replica is not in this cache yet; the
	// login path reads the store, so it applies anyway.
	hash, err := bcrypt.GenerateFromPassword([]byte("newpass99"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, st.SetSetting(ctx, settings.KeyAdminPasswordHash, string(hash)))

	assert.True(t, m.LoginRequired(ctx))
	_, err = m.Login(ctx, "admin", "newpass99")
	require.NoError(t, err)
}
