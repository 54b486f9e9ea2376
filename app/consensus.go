package app

import (
	"context"
	"errors"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

var (
	ErrUnexpectedTxProcess = errors.New("unexpected tx process")
	ErrNoHandler           = errors.New("no handler for tx type")
)

func (app *AzApp) getState(blockTime time.Time) (st *state.State) {
	st = app.db.NewState()
	st.SetBlockTime(blockTime)
	app.st = st
	return
}

// parseTx decodes txDat and verifies it against st.
func (app *AzApp) parseTx(st *state.State, txDat []byte, allowNonceGap bool) (btx *tx.AzTx, err error) {
	btx, err = tx.UnmarshalAzTx(txDat)
	if err != nil {
		return
	}
	err = st.Verify(btx, allowNonceGap)
	return
}

func (app *AzApp) CheckTx(ctx context.Context, check *abcitypes.RequestCheckTx) (res *abcitypes.ResponseCheckTx, err error) {
	res = &abcitypes.ResponseCheckTx{Code: 0}
	st := app.db.State()
	btx, err := app.parseTx(st, check.Tx, true)
	if err != nil {
		app.logger.Debug("parse tx fail", "err", err)
		res.Code = types.CodeInvalidTx
		res.Codespace = types.ModuleName
		res.Log = err.Error()
		err = nil
		return
	}
	app.logger.Debug("check tx", "type", btx.Type)
	h, ok := app.txHdlrs[btx.Type]
	if !ok {
		app.logger.Error("unsupported tx", "type", btx.Type)
		res.Code = types.CodeInvalidTx
		res.Log = "unsupported tx"
		return
	}
	res, err = h.Check(ctx, st, btx)
	if err != nil {
		app.logger.Error("check tx fail", "err", err)
		res = &abcitypes.ResponseCheckTx{Code: types.CodeInternal, Log: err.Error()}
		err = nil
	}
	return
}

func (app *AzApp) PrepareProposal(ctx context.Context, proposal *abcitypes.RequestPrepareProposal) (res *abcitypes.ResponsePrepareProposal, err error) {
	app.logger.Info("PrepareProposal", "height", proposal.Height, "txs", len(proposal.Txs))
	st := app.getState(proposal.Time)
	for _, h := range app.txHdlrs {
		h.NewContext(ctx)
	}
	var size int64
	txs := make([][]byte, 0, len(proposal.Txs))
	for _, stx := range proposal.Txs {
		if size+int64(len(stx)) > proposal.MaxTxBytes {
			break
		}
		btx, err := app.parseTx(st, stx, false)
		if err != nil {
			app.logger.Info("drop tx, parse fail", "err", err)
			continue
		}
		h, ok := app.txHdlrs[btx.Type]
		if !ok {
			app.logger.Error("unsupported tx", "type", btx.Type)
			continue
		}
		result, err := h.Prepare(ctx, st, btx)
		if err != nil {
			app.logger.Error("prepare tx fail", "type", btx.Type, "err", err)
			return nil, err
		}
		if result.Code != 0 {
			app.logger.Info("prepare tx failed, included", "type", btx.Type, "code", result.Code, "log", result.Log)
		}
		size += int64(len(stx))
		txs = append(txs, stx)
	}
	return &abcitypes.ResponsePrepareProposal{Txs: txs}, nil
}

func (app *AzApp) process(ctx context.Context, st *state.State, txs [][]byte) (res []*abcitypes.ExecTxResult, err error) {
	for _, h := range app.txHdlrs {
		h.NewContext(ctx)
	}
	res = make([]*abcitypes.ExecTxResult, len(txs))
	for i, stx := range txs {
		btx, err := app.parseTx(st, stx, false)
		if err != nil {
			app.logger.Error("unexpected tx, parse fail", "err", err)
			return nil, err
		}
		h, ok := app.txHdlrs[btx.Type]
		if !ok {
			app.logger.Error("unexpected tx, no handler", "type", btx.Type)
			return nil, ErrNoHandler
		}
		result, err := h.Process(ctx, st, btx)
		if err != nil {
			app.logger.Error("unexpected process tx fail", "type", btx.Type, "err", err)
			return nil, ErrUnexpectedTxProcess
		}
		res[i] = result
	}
	return
}

func (app *AzApp) ProcessProposal(ctx context.Context, proposal *abcitypes.RequestProcessProposal) (res *abcitypes.ResponseProcessProposal, err error) {
	app.logger.Info("ProcessProposal", "height", proposal.Height)
	res = &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}
	st := app.getState(proposal.Time)
	_, err = app.process(ctx, st, proposal.Txs)
	if err != nil {
		app.logger.Error("process fail", "err", err)
		return res, nil
	}
	res.Status = abcitypes.ResponseProcessProposal_ACCEPT
	return res, nil
}

// finalize executes a decided block. Unlike process it never rejects: a
// transaction that does not parse gets a failed result.
func (app *AzApp) finalize(ctx context.Context, st *state.State, txs [][]byte) (res []*abcitypes.ExecTxResult, err error) {
	for _, h := range app.txHdlrs {
		h.NewContext(ctx)
	}
	res = make([]*abcitypes.ExecTxResult, len(txs))
	for i, stx := range txs {
		btx, err1 := app.parseTx(st, stx, false)
		if err1 != nil {
			app.logger.Error("unexpected tx in block, parse fail", "err", err1)
			res[i] = &abcitypes.ExecTxResult{Code: types.CodeInvalidTx, Codespace: types.ModuleName, Log: err1.Error()}
			continue
		}
		h, ok := app.txHdlrs[btx.Type]
		if !ok {
			res[i] = &abcitypes.ExecTxResult{Code: types.CodeInvalidTx, Codespace: types.ModuleName, Log: ErrNoHandler.Error()}
			continue
		}
		result, err := h.Process(ctx, st, btx)
		if err != nil {
			app.logger.Error("unexpected process tx fail", "type", btx.Type, "err", err)
			return nil, err
		}
		app.metrics.ObserveTx(btx.Type.String(), result.Code)
		for _, ev := range result.Events {
			if ev.Type == types.EventUpgradedType {
				app.metrics.IncUpgrade()
			}
		}
		res[i] = result
	}
	return
}

func (app *AzApp) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	app.logger.Info("FinalizeBlock", "height", req.Height, "txs", len(req.Txs))
	app.lastBlk.Set(req)
	st := app.getState(req.Time)
	res, err := app.finalize(ctx, st, req.Txs)
	if err != nil {
		return nil, err
	}
	h, err := st.Update()
	if err != nil {
		app.logger.Error("state update hash fail", "err", err)
		return nil, err
	}
	if reg, pol := st.PointRegistry(), st.PollsEngine(); reg != nil && pol != nil {
		app.metrics.ObserveBlock(st.Header().Height, reg.ActiveGalaxyCount(),
			len(pol.DocumentProposals()), len(pol.UpgradeProposals()))
	}
	return &abcitypes.ResponseFinalizeBlock{
		TxResults: res,
		AppHash:   h.Bytes(),
	}, nil
}

func (app *AzApp) Commit(ctx context.Context, commit *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	_, err := app.db.SetState(app.st)
	if err != nil {
		return nil, err
	}
	app.st = nil
	app.logger.Info("Commit", "height", app.lastBlk.Height)
	return &abcitypes.ResponseCommit{}, nil
}
