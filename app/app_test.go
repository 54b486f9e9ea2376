package app

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/config"
	"github.com/urbit/azimuth/metrics"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

const chainID = "azimuth-test"

var genesisTime = time.Unix(1546300800, 0).Add(200 * 24 * time.Hour).UTC()

type testChain struct {
	app    *AzApp
	height int64
	now    time.Time
	nonces map[common.Address]uint64
}

func newTestChain(t *testing.T, owner *ecdsa.PrivateKey) *testChain {
	t.Helper()
	db, err := state.NewMemStateDB(cmtlog.NewNopLogger())
	require.NoError(t, err)
	app := newAzApp(&config.AppConfig{}, db, metrics.New(), cmtlog.NewNopLogger())

	ownerAddr := crypto.PubkeyToAddress(owner.PublicKey)
	appState := types.DefaultAppState(ownerAddr)
	appState.Galaxies = []types.GenesisGalaxy{{Point: 0, Owner: ownerAddr}, {Point: 1, Owner: ownerAddr}, {Point: 2, Owner: ownerAddr}}
	dat, err := json.Marshal(appState)
	require.NoError(t, err)

	res, err := app.InitChain(context.Background(), &abcitypes.RequestInitChain{
		ChainId:       chainID,
		Time:          genesisTime,
		AppStateBytes: dat,
	})
	require.NoError(t, err)
	require.Len(t, res.AppHash, 32)

	again, err := app.InitChain(context.Background(), &abcitypes.RequestInitChain{ChainId: chainID, Time: genesisTime, AppStateBytes: dat})
	require.NoError(t, err)
	assert.Equal(t, res.AppHash, again.AppHash)

	return &testChain{app: app, now: genesisTime, nonces: make(map[common.Address]uint64)}
}

func (c *testChain) sign(t *testing.T, key *ecdsa.PrivateKey, tp tx.AzTxType, payload any) []byte {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	btx := &tx.AzTx{Type: tp, Nonce: c.nonces[addr], Tx: payload}
	require.NoError(t, btx.Sign(key, []byte(chainID)))
	c.nonces[addr]++
	dat, err := tx.MarshalAzTx(btx)
	require.NoError(t, err)
	return dat
}

func (c *testChain) keys(t *testing.T, key *ecdsa.PrivateKey, p uint32) []byte {
	return c.sign(t, key, tx.AzTxTypeConfigureKeys, tx.ConfigureKeysTx{
		Point: p, Crypt: common.HexToHash("0x01"), Auth: common.HexToHash("0x02"), Suite: 1,
	})
}

// block runs one full round and returns the finalized results.
func (c *testChain) block(t *testing.T, txs ...[]byte) []*abcitypes.ExecTxResult {
	t.Helper()
	ctx := context.Background()
	c.height++
	c.now = c.now.Add(time.Hour)

	prep, err := c.app.PrepareProposal(ctx, &abcitypes.RequestPrepareProposal{
		Txs: txs, MaxTxBytes: 1 << 20, Height: c.height, Time: c.now,
	})
	require.NoError(t, err)
	proc, err := c.app.ProcessProposal(ctx, &abcitypes.RequestProcessProposal{
		Txs: prep.Txs, Height: c.height, Time: c.now,
	})
	require.NoError(t, err)
	require.Equal(t, abcitypes.ResponseProcessProposal_ACCEPT, proc.Status)

	fin, err := c.app.FinalizeBlock(ctx, &abcitypes.RequestFinalizeBlock{
		Txs: prep.Txs, Height: c.height, Time: c.now,
	})
	require.NoError(t, err)
	_, err = c.app.Commit(ctx, &abcitypes.RequestCommit{})
	require.NoError(t, err)
	assert.Equal(t, fin.AppHash, c.app.db.Header().Hash)
	return fin.TxResults
}

func (c *testChain) query(t *testing.T, path string, data []byte, v any) uint32 {
	t.Helper()
	res, err := c.app.Query(context.Background(), &abcitypes.RequestQuery{Path: path, Data: data})
	require.NoError(t, err)
	if res.Code == 0 && v != nil {
		require.NoError(t, json.Unmarshal(res.Value, v))
	}
	return res.Code
}

func TestBlockLifecycle(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	c := newTestChain(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)

	res := c.block(t,
		c.keys(t, ownerKey, 0),
		c.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 256, Target: owner}),
		c.sign(t, ownerKey, tx.AzTxTypeTransferPoint, tx.TransferPointTx{Point: 256, Target: bob}),
		c.sign(t, bobKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 512, Target: bob}),
	)
	require.Len(t, res, 4)
	for _, r := range res[:3] {
		assert.Equal(t, types.CodeOK, r.Code, r.Log)
	}
	assert.Equal(t, types.CodeUnauthorized, res[3].Code)
	assert.Empty(t, res[3].Events)
	info, err := c.app.Info(context.Background(), &abcitypes.RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.LastBlockHeight)

	var pv struct {
		ID     uint32         `json:"id"`
		Size   string         `json:"size"`
		Owner  common.Address `json:"owner"`
		Active bool           `json:"active"`
	}
	require.Zero(t, c.query(t, "/points", []byte{0x01, 0x00}, &pv))
	assert.Equal(t, uint32(256), pv.ID)
	assert.Equal(t, "star", pv.Size)
	assert.Equal(t, bob, pv.Owner)
	assert.True(t, pv.Active)

	var owned []uint32
	require.Zero(t, c.query(t, "/owned/", bob.Bytes(), &owned))
	assert.Equal(t, []uint32{256}, owned)
	var spawned []uint32
	require.Zero(t, c.query(t, "/spawned/", []byte{0}, &spawned))
	assert.Equal(t, []uint32{256}, spawned)
	assert.Equal(t, uint32(QueryCodeBadRequest), c.query(t, "/delegated/", append([]byte{9}, bob.Bytes()...), nil))

	var acnt struct {
		Nonce uint64 `json:"nonce"`
	}
	require.Zero(t, c.query(t, "/accounts/", bob.Bytes(), &acnt))
	assert.Equal(t, uint64(1), acnt.Nonce)
	assert.Equal(t, uint32(QueryCodeNoPath), c.query(t, "/nope/", nil, nil))
}

func TestCheckTxFiltersBadTxs(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	c := newTestChain(t, ownerKey)
	ctx := context.Background()

	res, err := c.app.CheckTx(ctx, &abcitypes.RequestCheckTx{Tx: []byte("garbage")})
	require.NoError(t, err)
	assert.Equal(t, types.CodeInvalidTx, res.Code)

	good := c.sign(t, ownerKey, tx.AzTxTypeStartDocumentPoll, tx.DocumentPollTx{Galaxy: 0, Document: common.HexToHash("0xd0c")})
	res, err = c.app.CheckTx(ctx, &abcitypes.RequestCheckTx{Tx: good})
	require.NoError(t, err)
	assert.Equal(t, types.CodeOK, res.Code, res.Log)

	gap := c.sign(t, ownerKey, tx.AzTxTypeStartDocumentPoll, tx.DocumentPollTx{Galaxy: 0, Document: common.HexToHash("0xd0d")})
	res, err = c.app.CheckTx(ctx, &abcitypes.RequestCheckTx{Tx: gap})
	require.NoError(t, err)
	assert.Equal(t, types.CodeOK, res.Code, res.Log)

	// a forged signature is dropped from the proposal
	var forged tx.AzTx
	require.NoError(t, json.Unmarshal(good, &forged))
	forged.Sender = common.HexToAddress("0xee")
	bad, err := json.Marshal(&forged)
	require.NoError(t, err)
	prep, err := c.app.PrepareProposal(ctx, &abcitypes.RequestPrepareProposal{Txs: [][]byte{bad, good}, MaxTxBytes: 1 << 20, Height: 1, Time: genesisTime})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{good}, prep.Txs)

	proc, err := c.app.ProcessProposal(ctx, &abcitypes.RequestProcessProposal{Txs: [][]byte{bad}, Height: 1, Time: genesisTime})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.ResponseProcessProposal_REJECT, proc.Status)
}

func TestDocumentPollAndSenateQuery(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	c := newTestChain(t, ownerKey)
	doc := common.HexToHash("0xd0c")

	res := c.block(t,
		c.sign(t, ownerKey, tx.AzTxTypeStartDocumentPoll, tx.DocumentPollTx{Galaxy: 0, Document: doc}),
		c.sign(t, ownerKey, tx.AzTxTypeCastDocumentVote, tx.DocumentPollTx{Galaxy: 0, Document: doc, Yes: true}),
		c.sign(t, ownerKey, tx.AzTxTypeCastDocumentVote, tx.DocumentPollTx{Galaxy: 1, Document: doc, Yes: true}),
	)
	for _, r := range res {
		require.Equal(t, types.CodeOK, r.Code, r.Log)
	}
	assert.Equal(t, []byte{1}, res[2].Data)

	var senate SenateView
	require.Zero(t, c.query(t, "/senate/", nil, &senate))
	assert.Equal(t, uint16(3), senate.Voters)
	assert.Equal(t, []common.Hash{doc}, senate.DocumentMajorities)
	assert.Equal(t, state.GenesisController, senate.Controller)

	var poll PollView
	require.Zero(t, c.query(t, "/polls/", append([]byte{0}, doc.Bytes()...), &poll))
	assert.Equal(t, "majority", poll.Status)
	assert.Equal(t, uint16(2), poll.YesVotes)
	assert.Equal(t, []uint8{0, 1}, poll.Voters)

	var ctrl ControllerView
	require.Zero(t, c.query(t, "/controllers/", nil, &ctrl))
	assert.True(t, ctrl.Current)
	assert.Equal(t, crypto.PubkeyToAddress(ownerKey.PublicKey), ctrl.Owner)
}

func TestVotingProxyQuery(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	c := newTestChain(t, ownerKey)
	voterAddr := common.HexToAddress("0x00000000000000000000000000000000000000b0")

	res := c.block(t, c.sign(t, ownerKey, tx.AzTxTypeSetVotingProxy, tx.SetProxyTx{Point: 2, Proxy: voterAddr}))
	require.Equal(t, types.CodeOK, res[0].Code, res[0].Log)

	var delegated []uint32
	require.Zero(t, c.query(t, "/delegated/", append([]byte{byte(point.Voting)}, voterAddr.Bytes()...), &delegated))
	assert.Equal(t, []uint32{2}, delegated)
}

func TestThreeLevelLifecycle(t *testing.T) {
	ownerKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	c := newTestChain(t, ownerKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	const planet = 0x00010100

	requireOK := func(res []*abcitypes.ExecTxResult) {
		t.Helper()
		for i, r := range res {
			require.Equal(t, types.CodeOK, r.Code, "tx %d: %v", i, r.Log)
		}
	}

	// galaxy -> stars -> planet
	requireOK(c.block(t,
		c.keys(t, ownerKey, 0),
		c.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 256, Target: owner}),
		c.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: 512, Target: owner}),
		c.keys(t, ownerKey, 256),
		c.keys(t, ownerKey, 512),
		c.sign(t, ownerKey, tx.AzTxTypeSpawn, tx.SpawnTx{Point: planet, Target: bob}),
	))
	var pv PointView
	require.Zero(t, c.query(t, "/points/", []byte{0x00, 0x01, 0x01, 0x00}, &pv))
	assert.Equal(t, "planet", pv.Size)
	assert.Equal(t, uint32(256), pv.Prefix)
	assert.Equal(t, bob, pv.Owner)
	assert.True(t, pv.Active)
	assert.Equal(t, uint32(256), pv.Sponsor)

	var spawned []uint32
	require.Zero(t, c.query(t, "/spawned/", []byte{0x01, 0x00}, &spawned))
	assert.Equal(t, []uint32{planet}, spawned)

	// a planet cannot escape to another planet
	res := c.block(t, c.sign(t, bobKey, tx.AzTxTypeEscape, tx.EscapeTx{Point: planet, Sponsor: 0x00010200}))
	assert.Equal(t, types.CodeInvalidState, res[0].Code)

	requireOK(c.block(t, c.sign(t, bobKey, tx.AzTxTypeEscape, tx.EscapeTx{Point: planet, Sponsor: 512})))
	var escapes []uint32
	require.Zero(t, c.query(t, "/escapes/", []byte{0x02, 0x00}, &escapes))
	assert.Equal(t, []uint32{planet}, escapes)

	// only the requested sponsor may adopt
	res = c.block(t, c.sign(t, bobKey, tx.AzTxTypeAdopt, tx.PointTx{Point: planet}))
	assert.Equal(t, types.CodeUnauthorized, res[0].Code)

	requireOK(c.block(t, c.sign(t, ownerKey, tx.AzTxTypeAdopt, tx.PointTx{Point: planet})))
	var sponsoring []uint32
	require.Zero(t, c.query(t, "/sponsoring/", []byte{0x02, 0x00}, &sponsoring))
	assert.Equal(t, []uint32{planet}, sponsoring)
	require.Zero(t, c.query(t, "/sponsoring/", []byte{0x01, 0x00}, &sponsoring))
	assert.Empty(t, sponsoring)
	require.Zero(t, c.query(t, "/escapes/", []byte{0x02, 0x00}, &escapes))
	assert.Empty(t, escapes)

	requireOK(c.block(t, c.sign(t, ownerKey, tx.AzTxTypeDetach, tx.PointTx{Point: planet})))
	pv = PointView{}
	require.Zero(t, c.query(t, "/points/", []byte{0x00, 0x01, 0x01, 0x00}, &pv))
	assert.False(t, pv.HasSponsor)
	assert.Equal(t, uint32(512), pv.Sponsor)
	require.Zero(t, c.query(t, "/sponsoring/", []byte{0x02, 0x00}, &sponsoring))
	assert.Empty(t, sponsoring)

	var owned []uint32
	require.Zero(t, c.query(t, "/owned/", bob.Bytes(), &owned))
	assert.Equal(t, []uint32{planet}, owned)
}
