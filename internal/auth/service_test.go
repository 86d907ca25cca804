package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavity/loveline/internal/domain"
)

const testSigningKey = "test-signing-key-at-least-32-chars-long!"

type memoryUserRepo struct {
	users  map[string]*domain.User // by username
	hashes map[uuid.UUID]string
	tokens map[string]*domain.RefreshToken // keyed by raw token; hashing is the repo's concern
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{
		users:  make(map[string]*domain.User),
		hashes: make(map[uuid.UUID]string),
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (r *memoryUserRepo) Create(ctx context.Context, user *domain.User, passwordHash string) error {
	r.users[user.Username] = user
	r.hashes[user.ID] = passwordHash
	return nil
}

func (r *memoryUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if u, ok := r.users[username]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memoryUserRepo) GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	if h, ok := r.hashes[userID]; ok {
		return h, nil
	}
	return "", domain.ErrUserNotFound
}

func (r *memoryUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, ok := r.users[username]
	return ok, nil
}

func (r *memoryUserRepo) CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	r.tokens[token] = &domain.RefreshToken{
		ID:        id,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (r *memoryUserRepo) GetRefreshToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	if t, ok := r.tokens[token]; ok {
		return t, nil
	}
	return nil, domain.ErrTokenInvalid
}

func (r *memoryUserRepo) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error {
	now := time.Now()
	for _, t := range r.tokens {
		if t.ID == tokenID {
			t.RevokedAt = &now
		}
	}
	return nil
}

func (r *memoryUserRepo) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	for _, t := range r.tokens {
		if t.UserID == userID {
			t.RevokedAt = &now
		}
	}
	return nil
}

type pairInvites []string

func (p pairInvites) IsInvited(username string) bool {
	for _, u := range p {
		if u == username {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, *memoryUserRepo) {
	t.Helper()
	tokens, err := NewTokenService(testSigningKey)
	require.NoError(t, err)
	repo := newMemoryUserRepo()
	return NewService(repo, tokens, pairInvites{"cavity", "cingam"}), repo
}

func TestRegisterInvitedUser(t *testing.T) {
	svc, _ := newTestService(t)

	user, tokens, err := svc.Register(context.Background(), RegisterInput{
		Username: "cavity",
		Password: "sufficiently-long",
	})
	require.NoError(t, err)
	assert.Equal(t, "cavity", user.Username)
	assert.Equal(t, "cavity", user.DisplayName, "display name falls back to username")
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
}

func TestRegisterNormalizesUsername(t *testing.T) {
	svc, _ := newTestService(t)

	user, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "  Cingam ",
		Password: "sufficiently-long",
	})
	require.NoError(t, err)
	assert.Equal(t, "cingam", user.Username)
}

func TestRegisterRejectsUninvited(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "stranger",
		Password: "sufficiently-long",
	})
	assert.ErrorIs(t, err, domain.ErrNotInvited)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "sufficiently-long"})
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "another-password"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "short"})
	assert.Error(t, err)
}

func TestLoginRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "sufficiently-long"})
	require.NoError(t, err)

	user, tokens, err := svc.Login(context.Background(), LoginInput{Username: "cavity", Password: "sufficiently-long"})
	require.NoError(t, err)
	assert.Equal(t, "cavity", user.Username)

	claims, err := svc.ValidateToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "cavity", claims.Username)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "sufficiently-long"})
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), LoginInput{Username: "cavity", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLoginUnknownUserLooksLikeBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), LoginInput{Username: "nobody", Password: "whatever-long"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, repo := newTestService(t)

	_, tokens, err := svc.Register(context.Background(), RegisterInput{Username: "cavity", Password: "sufficiently-long"})
	require.NoError(t, err)

	_, fresh, err := svc.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, fresh.RefreshToken)

	// The old token was revoked by rotation and cannot be replayed
	old := repo.tokens[tokens.RefreshToken]
	require.NotNil(t, old.RevokedAt)

	_, _, err = svc.Refresh(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}
