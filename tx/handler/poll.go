package handler

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/state"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

// PollTxHandler drives the senate. Result data of cast and update carries
// one byte: 1 when the poll reached majority in this transaction.
type PollTxHandler struct {
	logger cmtlog.Logger
}

func NewPollTxHandler(logger cmtlog.Logger) (h *PollTxHandler) {
	logger = logger.With("module", "pollTx")
	h = &PollTxHandler{
		logger: logger,
	}
	return
}

// Check drops repeated votes before they reach a block.
func (h *PollTxHandler) Check(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ResponseCheckTx, err error) {
	if _, err1 := target(st, btx); err1 != nil {
		return checkFail(err1), nil
	}
	pol := st.PollsEngine()
	switch btx.Type {
	case tx.AzTxTypeCastDocumentVote:
		p, err1 := payload[tx.DocumentPollTx](btx)
		if err1 == nil {
			err1 = checkGalaxy(p.Galaxy)
		}
		if err1 == nil {
			err1 = pol.CheckDocumentVote(uint8(p.Galaxy), p.Document, st.Now())
		}
		if err1 != nil {
			return checkFail(err1), nil
		}
	case tx.AzTxTypeCastUpgradeVote:
		p, err1 := payload[tx.UpgradePollTx](btx)
		if err1 == nil {
			err1 = checkGalaxy(p.Galaxy)
		}
		if err1 == nil {
			err1 = pol.CheckUpgradeVote(uint8(p.Galaxy), p.Candidate, st.Now())
		}
		if err1 != nil {
			return checkFail(err1), nil
		}
	}
	return checkOK(), nil
}

func checkGalaxy(g uint32) error {
	if point.SizeOf(g) != point.Galaxy {
		return fmt.Errorf("%w: %d is not a galaxy", types.ErrInvalidArgument, g)
	}
	return nil
}

func (h *PollTxHandler) NewContext(ctx context.Context) {}

func (h *PollTxHandler) handle(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return execute(h.logger, st, btx, func() ([]byte, error) {
		c, err := target(st, btx)
		if err != nil {
			return nil, err
		}
		switch btx.Type {
		case tx.AzTxTypeStartDocumentPoll, tx.AzTxTypeCastDocumentVote, tx.AzTxTypeUpdateDocumentPoll:
			p, err := payload[tx.DocumentPollTx](btx)
			if err != nil {
				return nil, err
			}
			var majority bool
			switch btx.Type {
			case tx.AzTxTypeStartDocumentPoll:
				return nil, c.StartDocumentPoll(btx.Sender, p.Galaxy, p.Document)
			case tx.AzTxTypeCastDocumentVote:
				majority, err = c.CastDocumentVote(btx.Sender, p.Galaxy, p.Document, p.Yes)
			default:
				majority, err = c.UpdateDocumentPoll(btx.Sender, p.Document)
			}
			if err != nil {
				return nil, err
			}
			if majority {
				h.logger.Info("document majority", "document", p.Document.Hex())
			}
			return boolData(majority), nil
		}

		p, err := payload[tx.UpgradePollTx](btx)
		if err != nil {
			return nil, err
		}
		var majority bool
		switch btx.Type {
		case tx.AzTxTypeStartUpgradePoll:
			return nil, c.StartUpgradePoll(btx.Sender, p.Galaxy, p.Candidate)
		case tx.AzTxTypeCastUpgradeVote:
			majority, err = c.CastUpgradeVote(btx.Sender, p.Galaxy, p.Candidate, p.Yes)
		case tx.AzTxTypeUpdateUpgradePoll:
			majority, err = c.UpdateUpgradePoll(btx.Sender, p.Candidate)
		default:
			return nil, fmt.Errorf("%w: %v", tx.ErrUnsupportedTxType, btx.Type)
		}
		if err != nil {
			return nil, err
		}
		if majority {
			h.logger.Info("controller upgraded", "from", c.Address.Hex(), "to", p.Candidate.Hex())
		}
		return boolData(majority), nil
	})
}

func (h *PollTxHandler) Prepare(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}

func (h *PollTxHandler) Process(ctx context.Context, st *state.State, btx *tx.AzTx) (res *abcitypes.ExecTxResult, err error) {
	return h.handle(ctx, st, btx)
}
