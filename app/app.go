package app

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/config"
	"github.com/urbit/azimuth/metrics"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/tx/handler"
	"github.com/urbit/azimuth/types"
)

type finalizeBlock struct {
	Height uint64
	Hash   common.Hash
}

func (b *finalizeBlock) Set(blk *abcitypes.RequestFinalizeBlock) {
	b.Height = uint64(blk.Height)
	b.Hash = common.BytesToHash(blk.Hash)
}

var _ abcitypes.Application = &AzApp{}

type AzApp struct {
	cfg     *config.AppConfig
	logger  cmtlog.Logger
	metrics *metrics.Metrics

	db       *state.StateDB
	lastBlk  finalizeBlock
	txHdlrs  map[tx.AzTxType]handler.TxHandler
	queriers map[string]Querier

	st *state.State
}

func NewAzApp(cfg *config.AppConfig, m *metrics.Metrics, logger cmtlog.Logger) (app *AzApp, err error) {
	logger = logger.With("module", "app")

	dir := cfg.Home + "/data"
	db, err := state.NewStateDB(dir, logger)
	if err != nil {
		return nil, err
	}
	return newAzApp(cfg, db, m, logger), nil
}

func newAzApp(cfg *config.AppConfig, db *state.StateDB, m *metrics.Metrics, logger cmtlog.Logger) *AzApp {
	app := &AzApp{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		db:       db,
		txHdlrs:  handler.Handlers(logger),
		queriers: make(map[string]Querier),
	}
	app.registerQuerier()
	return app
}

func (app *AzApp) Start(bs *store.BlockStore) {
	height := app.db.Header().Height
	if height > 0 {
		blk := bs.LoadBlock(int64(height))
		if blk == nil {
			panic("unexpected BlockStore")
		}
		app.lastBlk.Height = height
		app.lastBlk.Hash = common.BytesToHash(blk.Hash())
	}
}

func (app *AzApp) Stop() {
	err := app.db.Close()
	if err != nil {
		app.logger.Error("close db fail", "err", err)
	}
	app.logger.Info("azimuth app stopped")
}

func (app *AzApp) registerQuerier() {
	app.queriers["/accounts/"] = NewAccountQuerier(app.db, app.logger)
	app.queriers["/points/"] = NewPointQuerier(app.db, app.logger)
	app.queriers["/owned/"] = NewIndexQuerier(app.db, app.logger, registry.IndexOwned)
	app.queriers["/delegated/"] = NewIndexQuerier(app.db, app.logger, registry.IndexDelegated)
	app.queriers["/sponsoring/"] = NewIndexQuerier(app.db, app.logger, registry.IndexSponsoring)
	app.queriers["/escapes/"] = NewIndexQuerier(app.db, app.logger, registry.IndexEscapeRequests)
	app.queriers["/spawned/"] = NewIndexQuerier(app.db, app.logger, registry.IndexSpawned)
	app.queriers["/polls/"] = NewPollQuerier(app.db, app.logger)
	app.queriers["/controllers/"] = NewControllerQuerier(app.db, app.logger)
	app.queriers["/senate/"] = NewSenateQuerier(app.db, app.logger)
}

func (app *AzApp) InitChain(_ context.Context, chain *abcitypes.RequestInitChain) (res *abcitypes.ResponseInitChain, err error) {
	if cur := app.db.State(); cur.PointRegistry() != nil {
		app.logger.Info("InitChain skipped, genesis already applied")
		return &abcitypes.ResponseInitChain{AppHash: cur.Header().Hash}, nil
	}
	appState, err := types.ParseAppState(chain.AppStateBytes)
	if err != nil {
		app.logger.Error("InitChain parse app_state fail", "err", err)
		return nil, fmt.Errorf("app_state: %w", err)
	}
	st := app.db.NewState()
	st.SetChainId(chain.ChainId)
	if err = st.InitGenesis(appState, chain.Time); err != nil {
		app.logger.Error("InitChain genesis fail", "err", err)
		return nil, err
	}
	var h common.Hash
	_, err = st.Update()
	if err != nil {
		app.logger.Error("InitChain update state fail", "err", err)
		return nil, err
	}
	h, err = app.db.SetState(st)
	if err != nil {
		app.logger.Error("InitChain apply state fail", "err", err)
		return nil, err
	}
	app.logger.Info("InitChain", "chain", chain.ChainId, "owner", appState.Owner.Hex(), "hash", h.Hex())
	return &abcitypes.ResponseInitChain{
		AppHash: h.Bytes(),
	}, nil
}

func (app *AzApp) Info(ctx context.Context, info *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	header := app.db.Header()
	return &abcitypes.ResponseInfo{
		Data:             types.ModuleName,
		LastBlockHeight:  int64(header.Height),
		LastBlockAppHash: header.Hash,
	}, nil
}

func (app *AzApp) ExtendVote(_ context.Context, extend *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (app *AzApp) VerifyVoteExtension(_ context.Context, verify *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

func (app *AzApp) ApplySnapshotChunk(context.Context, *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{}, nil
}

func (app *AzApp) ListSnapshots(context.Context, *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (app *AzApp) LoadSnapshotChunk(context.Context, *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (app *AzApp) OfferSnapshot(context.Context, *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{}, nil
}
