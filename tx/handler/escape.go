package handler

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

type EscapeTxHandler struct {
	logger cmtlog.Logger
}

func NewEscapeTxHandler(logger cmtlog.Logger) (h *EscapeTxHandler) {
	logger = logger.With("module", "escapeTx")
	h = &EscapeTxHandler{
		logger: logger,
	}
	return
}

// Check rejects escapes the sponsor could never accept.
func (h *EscapeTxHandler) Check(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ResponseCheckTx, err error) {
	c, err1 := target(st, btx)
	if err1 != nil {
		return checkFail(err1), nil
	}
	if btx.Type == tx.AzTxTypeEscape {
		p, err1 := payload[tx.EscapeTx](btx)
		if err1 != nil {
			return checkFail(err1), nil
		}
		ok, err1 := c.CanEscapeTo(p.Point, p.Sponsor)
		if err1 != nil {
			return checkFail(err1), nil
		}
		if !ok {
			return checkFail(fmt.Errorf("%w: %d cannot escape to %d", types.ErrInvalidState, p.Point, p.Sponsor)), nil
		}
	}
	return checkOK(), nil
}

func (h *EscapeTxHandler) NewContext(ctx context.Context) {}

func (h *EscapeTxHandler) handle(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return execute(h.logger, st, btx, func() ([]byte, error) {
		c, err := target(st, btx)
		if err != nil {
			return nil, err
		}
		if btx.Type == tx.AzTxTypeEscape {
			p, err := payload[tx.EscapeTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.Escape(btx.Sender, p.Point, p.Sponsor)
		}
		p, err := payload[tx.PointTx](btx)
		if err != nil {
			return nil, err
		}
		switch btx.Type {
		case tx.AzTxTypeCancelEscape:
			return nil, c.CancelEscape(btx.Sender, p.Point)
		case tx.AzTxTypeAdopt:
			return nil, c.Adopt(btx.Sender, p.Point)
		case tx.AzTxTypeReject:
			return nil, c.Reject(btx.Sender, p.Point)
		case tx.AzTxTypeDetach:
			return nil, c.Detach(btx.Sender, p.Point)
		}
		return nil, fmt.Errorf("%w: %v", tx.ErrUnsupportedTxType, btx.Type)
	})
}

func (h *EscapeTxHandler) Prepare(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}

func (h *EscapeTxHandler) Process(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}
