package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/tx"
)

func TestSaveLoad(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config", "owner_priv_key")
	require.NoError(t, k.Save(path))

	loaded, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), loaded.Address())

	_, err = HexToKey("zz")
	assert.Error(t, err)
}

func TestSignTx(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	dat, err := k.SignTx(&tx.AzTx{Type: tx.AzTxTypeAdopt, Tx: tx.PointTx{Point: 256}}, "azimuth-test")
	require.NoError(t, err)

	btx, err := tx.UnmarshalAzTx(dat)
	require.NoError(t, err)
	assert.Equal(t, k.Address(), btx.Sender)
	assert.NoError(t, btx.Verify([]byte("azimuth-test")))
}
