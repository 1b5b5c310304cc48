package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	h, err := HashPassword("secret", DefaultArgon2Params())
	require.NoError(t, err)
	assert.False(t, NeedsRehash(h))

	ok, err := VerifyPassword("secret", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	b, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	h := string(b)
	assert.True(t, NeedsRehash(h))

	ok, err := VerifyPassword("legacy-pass", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("nope", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsGarbage(t *testing.T) {
	_, err := VerifyPassword("secret", "md5$abc")
	assert.Error(t, err)

	ok, err := VerifyPassword("", "argon2id$v=19$m=1,t=1,p=1$AAAA$AAAA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRandomSecret(t *testing.T) {
	a, err := RandomSecret(32)
	require.NoError(t, err)
	b, err := RandomSecret(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = RandomSecret(8)
	assert.Error(t, err)
}
