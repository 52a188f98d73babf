package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewService(store, newTestIssuer("test-secret")), store
}

func registerTestUser(t *testing.T, s *Service) (User, Tokens) {
	t.Helper()
	u, tokens, err := s.Register(context.Background(), "Ada Lovelace", "a@x.com", "secret123")
	require.NoError(t, err)
	return u, tokens
}

func TestRegisterThenAuthenticate(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()

	created, tokens := registerTestUser(t, s)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	stored := store.users[created.ID]
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, tokens.RefreshToken, *stored.RefreshToken)

	// No plaintext password anywhere in the record.
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	assert.NotContains(t, stored.PasswordHash, "secret123")

	_, err := s.Authenticate(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	authed, err := s.Authenticate(ctx, "a@x.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, authed.ID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	registerTestUser(t, s)

	_, _, err := s.Register(context.Background(), "Someone Else", "a@x.com", "another-pass")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthenticate_UniformFailure(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	registerTestUser(t, s)

	_, wrongPassErr := s.Authenticate(ctx, "a@x.com", "bad-password")
	_, unknownErr := s.Authenticate(ctx, "nobody@x.com", "secret123")

	// Unknown account and wrong password are indistinguishable.
	require.ErrorIs(t, wrongPassErr, ErrInvalidCredentials)
	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.Equal(t, wrongPassErr, unknownErr)
}

func TestIssueSession_RotatesRefreshToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	u, first := registerTestUser(t, s)

	second, err := s.IssueSession(ctx, u.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The first pair's refresh token lost the race and is dead.
	_, err = s.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	third, err := s.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)
}

func TestRevokeSession_InvalidatesRefresh(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()
	u, tokens := registerTestUser(t, s)

	require.NoError(t, s.RevokeSession(ctx, u.ID))
	assert.Nil(t, store.users[u.ID].RefreshToken)

	_, err := s.Refresh(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRevokeSession_Idempotent(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()
	u, _ := registerTestUser(t, s)

	require.NoError(t, s.RevokeSession(ctx, u.ID))
	require.NoError(t, s.RevokeSession(ctx, u.ID))
	assert.Nil(t, store.users[u.ID].RefreshToken)
}

func TestRefresh_WellSignedButNotStored(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	issuer := newTestIssuer("test-secret")
	s := NewService(store, issuer)
	ctx := context.Background()

	u, _, err := s.Register(ctx, "Ada Lovelace", "a@x.com", "secret123")
	require.NoError(t, err)

	// Correctly signed for the right user, but it is not the token in the
	// slot, so it must be rejected.
	forged, err := issuer.IssueRefresh(u.ID)
	require.NoError(t, err)

	_, err = s.Refresh(ctx, forged)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_GarbageToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)

	for _, raw := range []string{"", "   ", "not.a.jwt"} {
		_, err := s.Refresh(context.Background(), raw)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
}

func TestIssueSession_PersistFailureReturnsNoTokens(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()
	u, _ := registerTestUser(t, s)

	store.failUpdateRefreshToken = errors.New("write failed")
	tokens, err := s.IssueSession(ctx, u.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken)
}

func TestIssueSession_MissingUserIsInternal(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)

	_, err := s.IssueSession(context.Background(), "ghost")
	require.Error(t, err)
	// Consistency fault, not a credential problem.
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.NotErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()
	u, _ := registerTestUser(t, s)

	err := s.ChangePassword(ctx, u.ID, "wrong-old", "brand-new-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, s.ChangePassword(ctx, u.ID, "secret123", "brand-new-pass"))

	// Password rotation kills the active session.
	assert.Nil(t, store.users[u.ID].RefreshToken)

	_, err = s.Authenticate(ctx, "a@x.com", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "a@x.com", "brand-new-pass")
	require.NoError(t, err)
}

func TestUpdateAccount(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	u, _ := registerTestUser(t, s)

	updated, err := s.UpdateAccount(ctx, u.ID, "Ada King", "ada@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada King", updated.FullName)
	assert.Equal(t, "ada@x.com", updated.Email)

	_, _, err = s.Register(ctx, "Other", "other@x.com", "password-9")
	require.NoError(t, err)

	_, err = s.UpdateAccount(ctx, u.ID, "Ada King", "other@x.com")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestInitiatePasswordReset(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()
	u, _ := registerTestUser(t, s)

	// Unknown email succeeds silently.
	require.NoError(t, s.InitiatePasswordReset(ctx, "nobody@x.com"))

	require.NoError(t, s.InitiatePasswordReset(ctx, "a@x.com"))
	stored := store.users[u.ID]
	require.NotNil(t, stored.ResetToken)
	require.NotNil(t, stored.ResetTokenExpiresAt)
	assert.True(t, stored.ResetTokenExpiresAt.After(time.Now().UTC()))

	userID, err := s.issuer.ParseReset(*stored.ResetToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
}

func TestEmailNormalization(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "Ada Lovelace", "  A@X.com ", "secret123")
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "a@x.com", "secret123")
	require.NoError(t, err)

	_, _, err = s.Register(ctx, "Copycat", "A@x.COM", "secret456")
	require.ErrorIs(t, err, ErrEmailTaken)
}
