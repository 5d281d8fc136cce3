package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinpox/heychat/internal/account"
	"github.com/pinpox/heychat/internal/chaterr"
	"github.com/pinpox/heychat/internal/keys"
)

func testIdentity(t *testing.T, key *keys.PrivateKey) account.Identity {
	t.Helper()
	pk, err := key.PubKey()
	require.NoError(t, err)
	id, ok := account.NewIdentity(pk)
	require.True(t, ok)
	return id
}

func TestValidate(t *testing.T) {
	key := keys.Generate()
	id := testIdentity(t, key)
	signer := keys.NewLocalSigner(key)

	assert.NoError(t, Build(id, Prod, key, signer).Validate())

	assert.ErrorIs(t, Build(id, Prod, nil, signer).Validate(), chaterr.ErrNotAuthenticated)
	assert.ErrorIs(t, Build(id, Prod, key, nil).Validate(), chaterr.ErrNotAuthenticated)
	assert.ErrorIs(t, Build(account.Identity{}, Prod, key, signer).Validate(), chaterr.ErrNotAuthenticated)

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), chaterr.ErrNotAuthenticated)
}

func TestValidateAfterZero(t *testing.T) {
	key := keys.Generate()
	cfg := Build(testIdentity(t, key), Dev, key, keys.NewLocalSigner(key))
	require.NoError(t, cfg.Validate())

	key.Zero()
	assert.ErrorIs(t, cfg.Validate(), chaterr.ErrNotAuthenticated)
}

func TestEnvironmentValid(t *testing.T) {
	for _, e := range []Environment{Prod, Staging, Dev} {
		assert.True(t, e.Valid(), e)
	}
	assert.False(t, Environment("mainnet").Valid())
}
