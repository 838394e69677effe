package password

import (
	"testing"

	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArgon2Params = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestBcryptHashAndVerify(t *testing.T) {
	hasher := NewBcrypt(4)
	encoded, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)
	assert.True(t, hasher.Handles(encoded))

	ok, err := hasher.Verify(encoded, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify(encoded, "passw0rd!")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptCostIsClamped(t *testing.T) {
	assert.Equal(t, 4, NewBcrypt(1).cost)
	assert.Equal(t, 31, NewBcrypt(40).cost)
}

func TestBcryptRejectsEmptyAndLongPasswords(t *testing.T) {
	hasher := NewBcrypt(4)
	_, err := hasher.Hash("   ")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	_, err = hasher.Hash(string(long))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestArgon2idHashAndVerify(t *testing.T) {
	hasher := NewArgon2id(testArgon2Params)
	encoded, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$v=19$m=8192,t=1,p=1$")

	ok, err := hasher.Verify(encoded, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify(encoded, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = hasher.Verify("$argon2id$v=19$garbage", "Passw0rd!")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestMultiVerifiesLegacyAndFlagsRehash(t *testing.T) {
	legacy := NewArgon2id(testArgon2Params)
	legacyHash, err := legacy.Hash("Passw0rd!")
	require.NoError(t, err)

	multi := NewMulti(NewBcrypt(5), legacy)
	ok, err := multi.Verify(legacyHash, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, multi.NeedsRehash(legacyHash))

	weak, err := NewBcrypt(4).Hash("Passw0rd!")
	require.NoError(t, err)
	assert.True(t, multi.NeedsRehash(weak))

	current, err := multi.Hash("Passw0rd!")
	require.NoError(t, err)
	assert.False(t, multi.NeedsRehash(current))

	_, err = multi.Verify("plaintext", "plaintext")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestNewFollowsConfiguredAlgorithm(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{BcryptCost: 4, PasswordAlgorithm: config.PasswordAlgorithmBcrypt}}
	encoded, err := New(cfg).Hash("Passw0rd!")
	require.NoError(t, err)
	assert.True(t, NewBcrypt(4).Handles(encoded))
}
