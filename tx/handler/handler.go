package handler

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/urbit/azimuth/controller"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

type TxHandler interface {
	Check(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ResponseCheckTx, err error)
	NewContext(ctx context.Context)
	Prepare(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error)
	Process(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error)
}

// Handlers returns one handler per transaction type.
func Handlers(logger cmtlog.Logger) map[tx.AzTxType]TxHandler {
	hdlrs := make(map[tx.AzTxType]TxHandler)
	register := func(h TxHandler, tps ...tx.AzTxType) {
		for _, tp := range tps {
			hdlrs[tp] = h
		}
	}
	register(NewPointTxHandler(logger),
		tx.AzTxTypeCreateGalaxy, tx.AzTxTypeSpawn, tx.AzTxTypeConfigureKeys, tx.AzTxTypeTransferPoint,
		tx.AzTxTypeSetManagementProxy, tx.AzTxTypeSetVotingProxy, tx.AzTxTypeSetSpawnProxy, tx.AzTxTypeSetTransferProxy)
	register(NewEscapeTxHandler(logger),
		tx.AzTxTypeEscape, tx.AzTxTypeCancelEscape, tx.AzTxTypeAdopt, tx.AzTxTypeReject, tx.AzTxTypeDetach)
	register(NewPollTxHandler(logger),
		tx.AzTxTypeStartDocumentPoll, tx.AzTxTypeCastDocumentVote, tx.AzTxTypeUpdateDocumentPoll,
		tx.AzTxTypeStartUpgradePoll, tx.AzTxTypeCastUpgradeVote, tx.AzTxTypeUpdateUpgradePoll)
	register(NewAdminTxHandler(logger),
		tx.AzTxTypeDeployController, tx.AzTxTypeSetDnsDomains, tx.AzTxTypeReconfigurePolls, tx.AzTxTypeTransferOwnership)
	return hdlrs
}

// execute runs fn and turns its outcome into a transaction result. A failed
// call still consumes the sender nonce but its events are dropped.
func execute(logger cmtlog.Logger, st *state.State, btx *tx.AzTx, fn func() ([]byte, error)) (res *abcitypes.ExecTxResult, err error) {
	res = &abcitypes.ExecTxResult{}
	data, err1 := fn()
	events := st.Journal().Drain()
	if code := types.Code(err1); code != types.CodeOK {
		logger.Info("tx failed", "type", btx.Type, "sender", btx.Sender.Hex(), "err", err1)
		res.Code = code
		res.Codespace = types.ModuleName
		res.Info = types.CodeName(code)
		res.Log = err1.Error()
	} else {
		res.Data = data
		res.Events = events
	}
	if err = st.IncrementNonce(btx.Sender); err != nil {
		return nil, err
	}
	return
}

func checkOK() *abcitypes.ResponseCheckTx {
	return &abcitypes.ResponseCheckTx{Code: types.CodeOK}
}

func checkFail(err error) *abcitypes.ResponseCheckTx {
	code := types.Code(err)
	return &abcitypes.ResponseCheckTx{
		Code:      code,
		Codespace: types.ModuleName,
		Info:      types.CodeName(code),
		Log:       err.Error(),
	}
}

// target resolves the controller addressed by btx.
func target(st *state.State, btx *tx.AzTx) (*controller.Controller, error) {
	c, err := st.Target(btx.Contract)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func payload[T any](btx *tx.AzTx) (*T, error) {
	switch v := btx.Tx.(type) {
	case *T:
		return v, nil
	case T:
		return &v, nil
	}
	return nil, fmt.Errorf("%w: %v payload %T", types.ErrInvalidArgument, btx.Type, btx.Tx)
}

func boolData(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
