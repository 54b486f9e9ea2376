package tx

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chainID = []byte("azimuth-test")

func TestSignAndParse(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	btx := &AzTx{
		Type:  AzTxTypeSpawn,
		Nonce: 3,
		Tx:    SpawnTx{Point: 256, Target: common.HexToAddress("0xb0")},
	}
	require.NoError(t, btx.Sign(key, chainID))
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), btx.Sender)
	require.NoError(t, btx.Verify(chainID))

	dat, err := MarshalAzTx(btx)
	require.NoError(t, err)
	parsed, err := UnmarshalAzTx(dat)
	require.NoError(t, err)
	require.NoError(t, parsed.Verify(chainID))
	payload, ok := parsed.Tx.(*SpawnTx)
	require.True(t, ok)
	assert.Equal(t, uint32(256), payload.Point)
	assert.Equal(t, AzTxTypeSpawn, parsed.Type)

	assert.ErrorIs(t, parsed.Verify([]byte("other-chain")), ErrTxSenderMismatch)
	parsed.Nonce++
	assert.Error(t, parsed.Verify(chainID))
}

func TestVerifyRejectsForeignSender(t *testing.T) {
	key, _ := crypto.GenerateKey()
	btx := &AzTx{Type: AzTxTypeAdopt, Tx: PointTx{Point: 256}}
	require.NoError(t, btx.Sign(key, chainID))
	btx.Sender = common.HexToAddress("0xee")
	assert.Error(t, btx.Verify(chainID))

	btx.Sig = btx.Sig[:10]
	assert.ErrorIs(t, btx.Verify(chainID), ErrTxSigInvalid)
}

func TestUnmarshalSharedPayloads(t *testing.T) {
	for _, tc := range []struct {
		tp   AzTxType
		want any
	}{
		{AzTxTypeSetVotingProxy, &SetProxyTx{}},
		{AzTxTypeDetach, &PointTx{}},
		{AzTxTypeUpdateDocumentPoll, &DocumentPollTx{}},
		{AzTxTypeCastUpgradeVote, &UpgradePollTx{}},
		{AzTxTypeReconfigurePolls, &ReconfigurePollsTx{}},
	} {
		dat, err := MarshalAzTx(&AzTx{Type: tc.tp})
		require.NoError(t, err)
		btx, err := UnmarshalAzTx(dat)
		require.NoError(t, err, tc.tp.String())
		assert.IsType(t, tc.want, btx.Tx, tc.tp.String())
	}

	_, err := UnmarshalAzTx([]byte(`{"type":200}`))
	assert.ErrorIs(t, err, ErrUnsupportedTxType)
	_, err = UnmarshalAzTx([]byte(`{"type":2,"version":9}`))
	assert.ErrorIs(t, err, ErrUnsupportedTxVersion)
	_, err = UnmarshalAzTx([]byte(`not json`))
	assert.ErrorIs(t, err, ErrUnsupportedTxType)
}

func TestTxTypeNames(t *testing.T) {
	all := AllTxTypes()
	assert.Len(t, all, 23)
	seen := map[string]bool{}
	for _, tp := range all {
		assert.False(t, seen[tp.String()])
		seen[tp.String()] = true
	}
	assert.Equal(t, "unknown(0)", AzTxTypeUnknown.String())
}
