package handler

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

// PointTxHandler covers creation, keys, transfer and the proxy setters.
type PointTxHandler struct {
	logger cmtlog.Logger
}

func NewPointTxHandler(logger cmtlog.Logger) (h *PointTxHandler) {
	logger = logger.With("module", "pointTx")
	h = &PointTxHandler{
		logger: logger,
	}
	return
}

func (h *PointTxHandler) Check(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ResponseCheckTx, err error) {
	if _, err1 := target(st, btx); err1 != nil {
		return checkFail(err1), nil
	}
	switch btx.Type {
	case tx.AzTxTypeCreateGalaxy:
		p, err1 := payload[tx.CreateGalaxyTx](btx)
		if err1 == nil && p.Target == (common.Address{}) {
			err1 = fmt.Errorf("%w: zero target", types.ErrInvalidArgument)
		}
		if err1 != nil {
			return checkFail(err1), nil
		}
	case tx.AzTxTypeSpawn:
		p, err1 := payload[tx.SpawnTx](btx)
		if err1 == nil && p.Target == (common.Address{}) {
			err1 = fmt.Errorf("%w: zero target", types.ErrInvalidArgument)
		}
		if err1 != nil {
			return checkFail(err1), nil
		}
	}
	return checkOK(), nil
}

func (h *PointTxHandler) NewContext(ctx context.Context) {}

func (h *PointTxHandler) handle(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return execute(h.logger, st, btx, func() ([]byte, error) {
		c, err := target(st, btx)
		if err != nil {
			return nil, err
		}
		switch btx.Type {
		case tx.AzTxTypeCreateGalaxy:
			p, err := payload[tx.CreateGalaxyTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.CreateGalaxy(btx.Sender, p.Galaxy, p.Target)
		case tx.AzTxTypeSpawn:
			p, err := payload[tx.SpawnTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.Spawn(btx.Sender, p.Point, p.Target)
		case tx.AzTxTypeConfigureKeys:
			p, err := payload[tx.ConfigureKeysTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.ConfigureKeys(btx.Sender, p.Point, p.Crypt, p.Auth, p.Suite, p.Discontinuous)
		case tx.AzTxTypeTransferPoint:
			p, err := payload[tx.TransferPointTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.TransferPoint(btx.Sender, p.Point, p.Target, p.Reset)
		}

		p, err := payload[tx.SetProxyTx](btx)
		if err != nil {
			return nil, err
		}
		switch btx.Type {
		case tx.AzTxTypeSetManagementProxy:
			return nil, c.SetManagementProxy(btx.Sender, p.Point, p.Proxy)
		case tx.AzTxTypeSetVotingProxy:
			return nil, c.SetVotingProxy(btx.Sender, p.Point, p.Proxy)
		case tx.AzTxTypeSetSpawnProxy:
			return nil, c.SetSpawnProxy(btx.Sender, p.Point, p.Proxy)
		case tx.AzTxTypeSetTransferProxy:
			return nil, c.SetTransferProxy(btx.Sender, p.Point, p.Proxy)
		}
		return nil, fmt.Errorf("%w: %v", tx.ErrUnsupportedTxType, btx.Type)
	})
}

func (h *PointTxHandler) Prepare(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}

func (h *PointTxHandler) Process(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}
