package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

var (
	// ErrInvalidCredentials is returned when login fails verification.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSessionExpired is returned when the session behind a token has lapsed.
	ErrSessionExpired = errors.New("session expired")
)

// DefaultSessionTTL is used when no TTL is configured.
const DefaultSessionTTL = 8 * time.Hour

// Options configures a Manager.
type Options struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// Manager owns the session lifecycle: login creates a session and a signed
// token, Resolve maps a token back to its live session, Logout removes it.
type Manager struct {
	verifier CredentialVerifier
	store    SessionStore
	key      []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a session manager. An empty signing key is replaced by a
// random one, which invalidates all tokens on restart.
func NewManager(verifier CredentialVerifier, store SessionStore, opts Options) (*Manager, error) {
	if verifier == nil || store == nil {
		return nil, errors.New("auth: verifier and store are required")
	}

	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		logging.Component("auth").Warn("No signing key configured; tokens will not survive a restart")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Manager{
		verifier: verifier,
		store:    store,
		key:      key,
		issuer:   opts.Issuer,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// WithClock replaces the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Login verifies credentials and starts a session.
func (m *Manager) Login(ctx context.Context, username, password string) (string, *Session, error) {
	log := logging.Component("auth").WithField("username", username)

	if !m.verifier.Verify(username, password) {
		log.Warn("Login rejected")
		return "", nil, ErrInvalidCredentials
	}

	now := m.now()
	sess := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("save session: %w", err)
	}

	token, err := m.sign(sess)
	if err != nil {
		_ = m.store.Delete(ctx, sess.ID)
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	log.WithField("session", sess.ID).Info("Login successful")
	return token, sess, nil
}

// Resolve returns the active session a token refers to.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	sess, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !sess.Active(m.now()) {
		_ = m.store.Delete(ctx, sess.ID)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Logout ends the session behind token.
func (m *Manager) Logout(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	logging.Component("auth").WithField("session", claims.ID).Info("Logged out")
	return nil
}

func (m *Manager) sign(sess *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Issuer:    m.issuer,
		Subject:   sess.Username,
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

func (m *Manager) parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return m.key, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	return claims, nil
}
