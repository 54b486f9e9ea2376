package handler

import (
	"context"
	"fmt"
	"math"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

const maxSeconds = uint64(math.MaxInt64 / int64(time.Second))

// AdminTxHandler serves the controller owner: deployment of successor
// candidates, DNS domains, poll timing and ownership.
type AdminTxHandler struct {
	logger cmtlog.Logger
}

func NewAdminTxHandler(logger cmtlog.Logger) (h *AdminTxHandler) {
	logger = logger.With("module", "adminTx")
	h = &AdminTxHandler{
		logger: logger,
	}
	return
}

func (h *AdminTxHandler) Check(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ResponseCheckTx, err error) {
	if btx.Type == tx.AzTxTypeDeployController {
		p, err1 := payload[tx.DeployControllerTx](btx)
		if err1 == nil {
			_, err1 = st.Controller(p.Previous)
		}
		if err1 != nil {
			return checkFail(err1), nil
		}
		return checkOK(), nil
	}
	c, err1 := target(st, btx)
	if err1 != nil {
		return checkFail(err1), nil
	}
	if c.Owner != btx.Sender {
		return checkFail(fmt.Errorf("%w: %v is not the controller owner", types.ErrUnauthorized, btx.Sender.Hex())), nil
	}
	return checkOK(), nil
}

func (h *AdminTxHandler) NewContext(ctx context.Context) {}

func (h *AdminTxHandler) handle(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return execute(h.logger, st, btx, func() ([]byte, error) {
		if btx.Type == tx.AzTxTypeDeployController {
			p, err := payload[tx.DeployControllerTx](btx)
			if err != nil {
				return nil, err
			}
			addr, err := st.DeployController(btx.Sender, btx.Nonce, p.Previous, p.Owner)
			if err != nil {
				return nil, err
			}
			h.logger.Info("controller deployed", "address", addr.Hex(), "previous", p.Previous.Hex())
			return addr.Bytes(), nil
		}

		c, err := target(st, btx)
		if err != nil {
			return nil, err
		}
		switch btx.Type {
		case tx.AzTxTypeSetDnsDomains:
			p, err := payload[tx.SetDnsDomainsTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.SetDnsDomains(btx.Sender, p.Primary, p.Secondary, p.Tertiary)
		case tx.AzTxTypeReconfigurePolls:
			p, err := payload[tx.ReconfigurePollsTx](btx)
			if err != nil {
				return nil, err
			}
			if p.Duration > maxSeconds || p.Cooldown > maxSeconds {
				return nil, fmt.Errorf("%w: poll timing out of range", types.ErrInvalidArgument)
			}
			return nil, c.ReconfigurePolls(btx.Sender, time.Duration(p.Duration)*time.Second, time.Duration(p.Cooldown)*time.Second)
		case tx.AzTxTypeTransferOwnership:
			p, err := payload[tx.TransferOwnershipTx](btx)
			if err != nil {
				return nil, err
			}
			return nil, c.TransferOwnership(btx.Sender, p.Owner)
		}
		return nil, fmt.Errorf("%w: %v", tx.ErrUnsupportedTxType, btx.Type)
	})
}

func (h *AdminTxHandler) Prepare(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}

func (h *AdminTxHandler) Process(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}
