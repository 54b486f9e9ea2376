package handler

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

const chainID = "azimuth-test"

var blockTime = time.Unix(1546300800, 0).Add(100 * 24 * time.Hour)

type fixture struct {
	db     *state.StateDB
	st     *state.State
	hdlrs  map[tx.AzTxType]TxHandler
	nonces map[common.Address]uint64
}

func newFixture(t *testing.T, owner *ecdsa.PrivateKey) *fixture {
	t.Helper()
	db, err := state.NewMemStateDB(cmtlog.NewNopLogger())
	require.NoError(t, err)
	ownerAddr := crypto.PubkeyToAddress(owner.PublicKey)
	app := types.DefaultAppState(ownerAddr)
	app.Galaxies = []types.GenesisGalaxy{{Point: 0, Owner: ownerAddr}, {Point: 1, Owner: ownerAddr}}

	st := db.NewState()
	st.SetChainId(chainID)
	require.NoError(t, st.InitGenesis(app, blockTime))
	_, err = st.Update()
	require.NoError(t, err)
	_, err = db.SetState(st)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		hdlrs:  Handlers(cmtlog.NewNopLogger()),
		nonces: make(map[common.Address]uint64),
	}
	f.next()
	return f
}

func (f *fixture) next() {
	f.st = f.db.NewState()
	f.st.SetBlockTime(blockTime.Add(time.Hour))
}

func (f *fixture) commit(t *testing.T) {
	_, err := f.st.Update()
	require.NoError(t, err)
	_, err = f.db.SetState(f.st)
	require.NoError(t, err)
	f.next()
}

func (f *fixture) sign(t *testing.T, key *ecdsa.PrivateKey, tp tx.AzTxType, payload any) *tx.AzTx {
	t.Helper()
	return f.signFor(t, key, common.Address{}, tp, payload)
}

// signFor addresses the transaction to a specific controller.
func (f *fixture) signFor(t *testing.T, key *ecdsa.PrivateKey, contract common.Address, tp tx.AzTxType, payload any) *tx.AzTx {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	btx := &tx.AzTx{Type: tp, Nonce: f.nonces[addr], Contract: contract, Tx: payload}
	require.NoError(t, btx.Sign(key, []byte(chainID)))
	f.nonces[addr]++
	dat, err := tx.MarshalAzTx(btx)
	require.NoError(t, err)
	parsed, err := tx.UnmarshalAzTx(dat)
	require.NoError(t, err)
	return parsed
}

func (f *fixture) configureKeys(t *testing.T, key *ecdsa.PrivateKey, p uint32) {
	t.Helper()
	res := f.exec(t, f.sign(t, key, tx.AzTxTypeConfigureKeys, tx.ConfigureKeysTx{
		Point: p, Crypt: common.HexToHash("0x01"), Auth: common.HexToHash("0x02"), Suite: 1,
	}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
}

func (f *fixture) exec(t *testing.T, btx *tx.AzTx) *abcitypes.ExecTxResult {
	t.Helper()
	h, ok := f.hdlrs[btx.Type]
	require.True(t, ok, btx.Type.String())
	require.NoError(t, f.st.Verify(btx, false))
	res, err := h.Process(context.Background(), f.st, btx)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (f *fixture) check(t *testing.T, btx *tx.AzTx) *abcitypes.ResponseCheckTx {
	t.Helper()
	res, err := f.hdlrs[btx.Type].Check(context.Background(), f.db.State(), btx)
	require.NoError(t, err)
	return res
}

func TestEveryTypeHasHandler(t *testing.T) {
	hdlrs := Handlers(cmtlog.NewNopLogger())
	for _, tp := range tx.AllTxTypes() {
		assert.Contains(t, hdlrs, tp, tp.String())
	}
}

func TestFailedTxKeepsNonceDropsEvents(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	f := newFixture(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)

	f.configureKeys(t, ownerKey, 0)
	res := f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 256, Target: owner}))
	assert.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.NotEmpty(t, res.Events)
	assert.Equal(t, owner, f.st.PointRegistry().GetOwner(256))

	res = f.exec(t, f.sign(t, bobKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 512, Target: bob}))
	assert.Equal(t, types.CodeUnauthorized, res.Code)
	assert.Equal(t, "unauthorized", res.Info)
	assert.Empty(t, res.Events)
	assert.False(t, f.st.PointRegistry().IsActive(512))

	acnt, err := f.st.GetAccount(bob)
	require.NoError(t, err)
	require.NotNil(t, acnt)
	assert.Equal(t, uint64(1), acnt.Nonce)
}

func TestTransferAndProxies(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	f := newFixture(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)

	f.configureKeys(t, ownerKey, 0)
	res := f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 256, Target: owner}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeSetManagementProxy, tx.SetProxyTx{Point: 256, Proxy: bob}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	res = f.exec(t, f.sign(t, bobKey, tx.AzTxTypeConfigureKeys, tx.ConfigureKeysTx{
		Point: 256, Crypt: common.HexToHash("0x01"), Auth: common.HexToHash("0x02"), Suite: 1,
	}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.Equal(t, uint32(1), f.st.PointRegistry().GetKeyRevision(256))

	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeTransferPoint, tx.TransferPointTx{Point: 256, Target: bob, Reset: true}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	reg := f.st.PointRegistry()
	assert.Equal(t, bob, reg.GetOwner(256))
	assert.Equal(t, common.Address{}, reg.GetProxy(point.Management, 256))
	assert.Equal(t, uint32(1), reg.GetContinuity(256))
}

func TestEscapeCheckAndExecute(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	f := newFixture(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	f.configureKeys(t, ownerKey, 0)
	f.configureKeys(t, ownerKey, 1)
	res := f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 256, Target: owner}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	f.commit(t)

	bad := f.sign(t, ownerKey, tx.AzTxTypeEscape, tx.EscapeTx{Point: 256, Sponsor: 512})
	assert.Equal(t, types.CodeInvalidState, f.check(t, bad).Code)
	f.nonces[owner]--

	good := f.sign(t, ownerKey, tx.AzTxTypeEscape, tx.EscapeTx{Point: 256, Sponsor: 1})
	assert.Equal(t, types.CodeOK, f.check(t, good).Code)
	res = f.exec(t, good)
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeAdopt, tx.PointTx{Point: 256}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.Equal(t, uint32(1), f.st.PointRegistry().GetSponsor(256))
}

func TestUpgradeThroughSenate(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	f := newFixture(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	deploy := f.sign(t, ownerKey, tx.AzTxTypeDeployController, tx.DeployControllerTx{Previous: state.GenesisController})
	res := f.exec(t, deploy)
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	candidate := common.BytesToAddress(res.Data)
	assert.Equal(t, crypto.CreateAddress(owner, deploy.Nonce), candidate)

	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeStartUpgradePoll, tx.UpgradePollTx{Galaxy: 0, Candidate: candidate}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeCastUpgradeVote, tx.UpgradePollTx{Galaxy: 0, Candidate: candidate, Yes: true}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.Equal(t, []byte{0}, res.Data)
	f.commit(t)

	again := f.sign(t, ownerKey, tx.AzTxTypeCastUpgradeVote, tx.UpgradePollTx{Galaxy: 0, Candidate: candidate, Yes: true})
	assert.Equal(t, types.CodeInvalidState, f.check(t, again).Code)
	f.nonces[owner]--

	res = f.exec(t, f.sign(t, ownerKey, tx.AzTxTypeCastUpgradeVote, tx.UpgradePollTx{Galaxy: 1, Candidate: candidate, Yes: true}))
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.Equal(t, []byte{1}, res.Data)
	assert.Equal(t, candidate, f.st.PointRegistry().Owner())
	assert.Equal(t, candidate, f.st.PollsEngine().Owner())

	cur, err := f.st.CurrentController()
	require.NoError(t, err)
	assert.Equal(t, candidate, cur.Address)

	old := f.signFor(t, ownerKey, state.GenesisController, tx.AzTxTypeSetDnsDomains, tx.SetDnsDomainsTx{Primary: "a", Secondary: "b", Tertiary: "c"})
	res = f.exec(t, old)
	assert.Equal(t, types.CodeUnauthorized, res.Code, res.Log)
	assert.Empty(t, res.Events)
}

func TestAdminCheck(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	f := newFixture(t, ownerKey)

	btx := f.sign(t, bobKey, tx.AzTxTypeReconfigurePolls, tx.ReconfigurePollsTx{Duration: 7 * 86400, Cooldown: 7 * 86400})
	assert.Equal(t, types.CodeUnauthorized, f.check(t, btx).Code)

	btx = f.sign(t, ownerKey, tx.AzTxTypeReconfigurePolls, tx.ReconfigurePollsTx{Duration: 7 * 86400, Cooldown: 7 * 86400})
	assert.Equal(t, types.CodeOK, f.check(t, btx).Code)
	res := f.exec(t, btx)
	require.Equal(t, types.CodeOK, res.Code, res.Log)
	assert.Equal(t, 7*24*time.Hour, f.st.PollsEngine().Duration())

	btx = f.sign(t, ownerKey, tx.AzTxTypeReconfigurePolls, tx.ReconfigurePollsTx{Duration: 1 << 63, Cooldown: 7 * 86400})
	res = f.exec(t, btx)
	assert.Equal(t, types.CodeInvalidArgument, res.Code)
}
