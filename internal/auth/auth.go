// Package auth handles admin login and API request authentication.
// Sessions are HS256 JWTs; the static API token is accepted
// interchangeably. With no password and no API token configured the
// API is open, which is the state of a fresh deployment.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/store"
)

const (
	tokenTTL = 7 * 24 * time.Hour

	// fallbackSecret signs JWTs when neither JWT_SECRET nor an API
	// token is configured.
	fallbackSecret = "mail-aggregator-jwt-default-secret"

	minPasswordLen = 6
)

// Error kinds the API maps to status codes.
var (
	ErrLoginDisabled  = fmt.Errorf("login is not enabled")
	ErrBadCredentials = fmt.Errorf("invalid username or password")
	ErrWeakPassword   = fmt.Errorf("new password must be at least %d characters", minPasswordLen)
	ErrResetDisabled  = fmt.Errorf("password reset is not enabled")
	ErrBadResetToken  = fmt.Errorf("invalid reset token")
)

// Session is an issued login token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthManager verifies credentials, issues JWTs, and authenticates
// API requests.
type AuthManager struct {
	store    *store.Store
	settings *settings.Service
	cfg      config.AuthConfig
}

// NewAuthManager creates the manager.
func NewAuthManager(st *store.Store, svc *settings.Service, cfg config.AuthConfig) *AuthManager {
	return &AuthManager{store: st, settings: svc, cfg: cfg}
}

func (m *AuthManager) adminUsername() string {
	return strings.TrimSpace(m.cfg.AdminUsername)
}

// storedHash reads the bcrypt hash written by change/reset password.
// It goes to the store, not the cache, so a hash written by another
// replica is honored on the next login.
func (m *AuthManager) storedHash(ctx context.Context) (string, error) {
	v, ok, err := m.store.GetSetting(ctx, settings.KeyAdminPasswordHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(v), nil
}

// LoginRequired reports whether the admin login flow is configured:
// a username plus either a stored hash or an environment password.
func (m *AuthManager) LoginRequired(ctx context.Context) bool {
	if m.adminUsername() == "" {
		return false
	}
	if hash, err := m.storedHash(ctx); err == nil && hash != "" {
		return true
	}
	return strings.TrimSpace(m.cfg.AdminPassword) != ""
}

// ResetAvailable reports whether reset-password is enabled.
func (m *AuthManager) ResetAvailable() bool {
	return strings.TrimSpace(m.cfg.ResetToken) != ""
}

// verifyPassword checks plain against the stored hash when one
// exists; only without a hash does the environment password count.
// Changing the password therefore retires the environment one.
func verifyPassword(plain, envPassword, storedHash string) bool {
	plain = strings.TrimSpace(plain)
	if storedHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plain)) == nil
	}
	envPassword = strings.TrimSpace(envPassword)
	return envPassword != "" && envPassword == plain
}

// Login checks the admin credentials and issues a session token.
func (m *AuthManager) Login(ctx context.Context, username, password string) (*Session, error) {
	if !m.LoginRequired(ctx) {
		return nil, ErrLoginDisabled
	}
	hash, err := m.storedHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored password: %w", err)
	}
	if strings.TrimSpace(username) != m.adminUsername() ||
		!verifyPassword(password, m.cfg.AdminPassword, hash) {
		return nil, ErrBadCredentials
	}
	return m.issueSession()
}

func (m *AuthManager) issueSession() (*Session, error) {
	now := time.Now().UTC()
	expires := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   m.adminUsername(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingSecret())
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: expires}, nil
}

// signingSecret resolves the JWT key: JWT_SECRET, else the effective
// API token, else the built-in fallback.
func (m *AuthManager) signingSecret() []byte {
	if s := strings.TrimSpace(m.cfg.JWTSecret); s != "" {
		return []byte(s)
	}
	if s := strings.TrimSpace(m.settings.Get(settings.KeyAPIToken)); s != "" {
		return []byte(s)
	}
	return []byte(fallbackSecret)
}

// verifyJWT returns the subject of a valid session token.
func (m *AuthManager) verifyJWT(token string) (string, bool) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingSecret(), nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	return claims.Subject, true
}

// ChangePassword verifies the current password and stores a bcrypt
// hash of the new one. The settings write goes through the cache so
// the change is effective immediately.
func (m *AuthManager) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if len(strings.TrimSpace(newPassword)) < minPasswordLen {
		return ErrWeakPassword
	}
	hash, err := m.storedHash(ctx)
	if err != nil {
		return fmt.Errorf("read stored password: %w", err)
	}
	if !verifyPassword(oldPassword, m.cfg.AdminPassword, hash) {
		return ErrBadCredentials
	}
	return m.setPassword(ctx, newPassword)
}

// ResetPassword replaces the password using the out-of-band reset
// token instead of the current password.
func (m *AuthManager) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if !m.ResetAvailable() {
		return ErrResetDisabled
	}
	if len(strings.TrimSpace(newPassword)) < minPasswordLen {
		return ErrWeakPassword
	}
	if strings.TrimSpace(resetToken) != strings.TrimSpace(m.cfg.ResetToken) {
		return ErrBadResetToken
	}
	return m.setPassword(ctx, newPassword)
}

func (m *AuthManager) setPassword(ctx context.Context, newPassword string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(newPassword)), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.settings.Update(ctx, map[string]string{
		settings.KeyAdminPasswordHash: string(hashed),
	}); err != nil {
		return fmt.Errorf("store password hash: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether the request may pass the API auth
// gate. With neither an API token nor login configured every request
// passes.
func (m *AuthManager) IsAuthenticated(r *http.Request) bool {
	staticToken := strings.TrimSpace(m.settings.Get(settings.KeyAPIToken))
	if staticToken == "" && !m.loginConfigured() {
		return true
	}

	provided := bearerToken(r)
	if provided == "" {
		return false
	}
	if staticToken != "" && provided == staticToken {
		return true
	}
	sub, ok := m.verifyJWT(provided)
	return ok && sub == m.adminUsername()
}

// loginConfigured is the cache-backed variant of LoginRequired used
// on the per-request path, so authentication never waits on the
// database.
func (m *AuthManager) loginConfigured() bool {
	if m.adminUsername() == "" {
		return false
	}
	if strings.TrimSpace(m.settings.Get(settings.KeyAdminPasswordHash)) != "" {
		return true
	}
	return strings.TrimSpace(m.cfg.AdminPassword) != ""
}

// bearerToken extracts the credential from the Authorization header,
// with X-API-Key as a fallback.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
