package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/polls"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/state"
)

const (
	QueryCodeNotFound    = 1
	QueryCodeBadRequest  = 2
	QueryCodeUnavailable = 3
	QueryCodeNoPath      = 404
)

func (app *AzApp) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	path := req.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	q, ok := app.queriers[path]
	if !ok {
		res = &abcitypes.ResponseQuery{}
		res.Code = QueryCodeNoPath
		return
	}
	res, err = q.Query(ctx, req)
	return
}

type Querier interface {
	Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error)
}

// parsePoint reads a big-endian point number of up to four bytes.
func parsePoint(dat []byte) (p uint32, ok bool) {
	if len(dat) == 0 || len(dat) > 4 {
		return 0, false
	}
	for _, v := range dat {
		p <<= 8
		p |= uint32(v)
	}
	return p, true
}

func respond(res *abcitypes.ResponseQuery, st *state.State, v any) {
	res.Height = int64(st.Header().Height)
	res.Value, _ = json.Marshal(v)
}

// leaves returns the committed registry and polls engine, or marks res
// unavailable before genesis.
func leaves(st *state.State, res *abcitypes.ResponseQuery) (*registry.Registry, *polls.Polls, bool) {
	reg, pol := st.PointRegistry(), st.PollsEngine()
	if reg == nil || pol == nil {
		res.Code = QueryCodeUnavailable
		res.Log = "state not initialized"
		return nil, nil, false
	}
	return reg, pol, true
}

type AccountQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
}

func NewAccountQuerier(db *state.StateDB, logger cmtlog.Logger) (q *AccountQuerier) {
	q = &AccountQuerier{
		db:     db,
		logger: logger,
	}
	return
}

func (q *AccountQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	if len(req.Data) != common.AddressLength {
		res.Code = QueryCodeBadRequest
		return
	}
	a, height, err1 := q.db.GetAccountByAddress(common.BytesToAddress(req.Data))
	if err1 != nil {
		q.logger.Error("query account fail", "err", err1)
	}
	if a != nil {
		res.Value, _ = a.MarshalJSON()
		res.Height = int64(height)
	} else {
		res.Code = QueryCodeNotFound
	}
	return
}

// PointView is the query form of a point.
type PointView struct {
	ID     uint32 `json:"id"`
	Size   string `json:"size"`
	Prefix uint32 `json:"prefix"`
	*point.Point
}

type PointQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
}

func NewPointQuerier(db *state.StateDB, logger cmtlog.Logger) (q *PointQuerier) {
	q = &PointQuerier{
		db:     db,
		logger: logger,
	}
	return
}

func (q *PointQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	id, ok := parsePoint(req.Data)
	if !ok {
		res.Code = QueryCodeBadRequest
		return
	}
	st := q.db.State()
	reg, _, ok := leaves(st, res)
	if !ok {
		return
	}
	pt := reg.Point(id)
	if pt == nil {
		pt = &point.Point{}
	}
	respond(res, st, PointView{
		ID:     id,
		Size:   point.SizeOf(id).String(),
		Prefix: point.Prefix(id),
		Point:  pt,
	})
	return
}

// IndexQuerier lists one reverse index. Owned indexes take an address,
// delegated ones a role byte followed by an address, the rest a point.
type IndexQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
	kind   registry.IndexKind
}

func NewIndexQuerier(db *state.StateDB, logger cmtlog.Logger, kind registry.IndexKind) (q *IndexQuerier) {
	q = &IndexQuerier{
		db:     db,
		logger: logger,
		kind:   kind,
	}
	return
}

func (q *IndexQuerier) key(dat []byte) (key registry.IndexKey, ok bool) {
	key.Kind = q.kind
	switch q.kind {
	case registry.IndexOwned:
		if len(dat) != common.AddressLength {
			return key, false
		}
		key.Address = common.BytesToAddress(dat)
	case registry.IndexDelegated:
		if len(dat) != 1+common.AddressLength || dat[0] >= point.NumProxyRoles {
			return key, false
		}
		key.Role = point.ProxyRole(dat[0])
		key.Address = common.BytesToAddress(dat[1:])
	default:
		key.Point, ok = parsePoint(dat)
		return
	}
	return key, true
}

func (q *IndexQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	key, ok := q.key(req.Data)
	if !ok {
		res.Code = QueryCodeBadRequest
		return
	}
	st := q.db.State()
	reg, _, ok := leaves(st, res)
	if !ok {
		return
	}
	respond(res, st, reg.Index(key))
	return
}

// PollView is the query form of a poll.
type PollView struct {
	Kind     string        `json:"kind"`
	Subject  string        `json:"subject"`
	Status   string        `json:"status"`
	Start    time.Time     `json:"start"`
	Deadline time.Time     `json:"deadline"`
	Duration time.Duration `json:"duration"`
	Cooldown time.Duration `json:"cooldown"`
	YesVotes uint16        `json:"yesVotes"`
	NoVotes  uint16        `json:"noVotes"`
	Voters   []uint8       `json:"voters"`
}

func newPollView(kind polls.Kind, subject string, status polls.Status, p polls.Poll) PollView {
	v := PollView{
		Kind:     kind.String(),
		Subject:  subject,
		Status:   status.String(),
		Start:    p.Start,
		Deadline: p.Deadline(),
		Duration: p.Duration,
		Cooldown: p.Cooldown,
		YesVotes: p.YesVotes,
		NoVotes:  p.NoVotes,
		Voters:   []uint8{},
	}
	for i := 0; i < polls.MaxVoters; i++ {
		if p.HasVoted(uint8(i)) {
			v.Voters = append(v.Voters, uint8(i))
		}
	}
	return v
}

// PollQuerier takes a kind byte followed by the subject: a 32-byte
// document hash or a 20-byte candidate address.
type PollQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
}

func NewPollQuerier(db *state.StateDB, logger cmtlog.Logger) (q *PollQuerier) {
	q = &PollQuerier{
		db:     db,
		logger: logger,
	}
	return
}

func (q *PollQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	if len(req.Data) < 1 {
		res.Code = QueryCodeBadRequest
		return
	}
	st := q.db.State()
	_, pol, ok := leaves(st, res)
	if !ok {
		return
	}
	now := st.Now()
	kind, subject := polls.Kind(req.Data[0]), req.Data[1:]
	var (
		p      polls.Poll
		found  bool
		view   PollView
		status polls.Status
	)
	switch {
	case kind == polls.KindDocument && len(subject) == common.HashLength:
		doc := common.BytesToHash(subject)
		p, found = pol.DocumentPoll(doc)
		status = pol.DocumentStatus(doc, now)
		view = newPollView(kind, doc.Hex(), status, p)
	case kind == polls.KindUpgrade && len(subject) == common.AddressLength:
		candidate := common.BytesToAddress(subject)
		p, found = pol.UpgradePoll(candidate)
		status = pol.UpgradeStatus(candidate, now)
		view = newPollView(kind, candidate.Hex(), status, p)
	default:
		res.Code = QueryCodeBadRequest
		return
	}
	if !found {
		res.Code = QueryCodeNotFound
		return
	}
	respond(res, st, view)
	return
}

// ControllerView adds the derived retirement flag to the stored record.
type ControllerView struct {
	Address  common.Address `json:"address"`
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
	Registry common.Address `json:"registry"`
	Polls    common.Address `json:"polls"`
	Current  bool           `json:"current"`
	Retired  bool           `json:"retired"`
}

// ControllerQuerier takes an address, or nothing for the current controller.
type ControllerQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
}

func NewControllerQuerier(db *state.StateDB, logger cmtlog.Logger) (q *ControllerQuerier) {
	q = &ControllerQuerier{
		db:     db,
		logger: logger,
	}
	return
}

func (q *ControllerQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	var addr common.Address
	switch len(req.Data) {
	case 0:
	case common.AddressLength:
		addr = common.BytesToAddress(req.Data)
	default:
		res.Code = QueryCodeBadRequest
		return
	}
	st := q.db.State()
	reg, pol, ok := leaves(st, res)
	if !ok {
		return
	}
	if addr == (common.Address{}) {
		addr = reg.Owner()
	}
	c := st.ControllerRecord(addr)
	if c == nil {
		res.Code = QueryCodeNotFound
		return
	}
	current := reg.Owner() == c.Address && pol.Owner() == c.Address
	respond(res, st, ControllerView{
		Address:  c.Address,
		Previous: c.Previous,
		Owner:    c.Owner,
		Registry: c.Registry,
		Polls:    c.Polls,
		Current:  current,
		Retired:  !current,
	})
	return
}

// SenateView summarizes governance.
type SenateView struct {
	Controller         common.Address   `json:"controller"`
	Registry           common.Address   `json:"registry"`
	Polls              common.Address   `json:"polls"`
	Voters             uint16           `json:"voters"`
	PollDuration       time.Duration    `json:"pollDuration"`
	PollCooldown       time.Duration    `json:"pollCooldown"`
	DocumentProposals  []common.Hash    `json:"documentProposals"`
	DocumentMajorities []common.Hash    `json:"documentMajorities"`
	UpgradeProposals   []common.Address `json:"upgradeProposals"`
	DnsDomains         [3]string        `json:"dnsDomains"`
	Controllers        []common.Address `json:"controllers"`
}

type SenateQuerier struct {
	db     *state.StateDB
	logger cmtlog.Logger
}

func NewSenateQuerier(db *state.StateDB, logger cmtlog.Logger) (q *SenateQuerier) {
	q = &SenateQuerier{
		db:     db,
		logger: logger,
	}
	return
}

func (q *SenateQuerier) Query(ctx context.Context, req *abcitypes.RequestQuery) (res *abcitypes.ResponseQuery, err error) {
	res = &abcitypes.ResponseQuery{}
	st := q.db.State()
	reg, pol, ok := leaves(st, res)
	if !ok {
		return
	}
	respond(res, st, SenateView{
		Controller:         reg.Owner(),
		Registry:           reg.Address(),
		Polls:              pol.Address(),
		Voters:             reg.ActiveGalaxyCount(),
		PollDuration:       pol.Duration(),
		PollCooldown:       pol.Cooldown(),
		DocumentProposals:  pol.DocumentProposals(),
		DocumentMajorities: pol.DocumentMajorities(),
		UpgradeProposals:   pol.UpgradeProposals(),
		DnsDomains:         reg.DnsDomains(),
		Controllers:        st.ControllerAddresses(),
	})
	return
}
