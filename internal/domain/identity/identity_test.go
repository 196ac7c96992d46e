package identity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProvider_RoundTrip(t *testing.T) {
	p := NewTokenProvider([]byte("pepper"))
	userID := uuid.New()

	id, err := p.Authenticate(p.Issue(userID, RoleUser))
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, RoleUser, id.Role)
}

func TestTokenProvider_TamperedPayload(t *testing.T) {
	p := NewTokenProvider([]byte("pepper"))
	token := p.Issue(uuid.New(), RoleUser)

	// Swap the role without re-signing.
	tampered := strings.Replace(token, ".user.", ".admin.", 1)
	_, err := p.Authenticate(tampered)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenProvider_WrongPepper(t *testing.T) {
	token := NewTokenProvider([]byte("pepper")).Issue(uuid.New(), RoleUser)

	_, err := NewTokenProvider([]byte("other")).Authenticate(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenProvider_Malformed(t *testing.T) {
	p := NewTokenProvider([]byte("pepper"))

	for _, token := range []string{
		"",
		"no-dots",
		"a.b",
		"not-a-uuid.user.deadbeef",
		uuid.New().String() + ".wizard.deadbeef",
		uuid.New().String() + ".user.zzzz",
	} {
		_, err := p.Authenticate(token)
		require.ErrorIs(t, err, ErrUnauthorized, "token %q", token)
	}
}

func TestIdentityContext(t *testing.T) {
	id := &Identity{UserID: uuid.New(), Role: RoleAdmin}
	ctx := WithIdentity(t.Context(), id)

	assert.Equal(t, id, FromContext(ctx))
	assert.Nil(t, FromContext(t.Context()))
}
