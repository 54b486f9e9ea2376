// Package polls implements the senate polling engine: majority polls over
// document hashes and upgrade candidates. It does not know about points;
// the caller supplies the voter id, the voter count and the current time.
package polls

import (
	"fmt"
	"sort"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/types"
)

const ContractName = "polls"

const (
	MinDuration = 5 * 24 * time.Hour
	MaxDuration = 90 * 24 * time.Hour
	MinCooldown = 5 * 24 * time.Hour
	MaxCooldown = 90 * 24 * time.Hour

	MaxVoters = 256
)

type Kind uint8

const (
	KindDocument Kind = iota
	KindUpgrade
)

func (k Kind) String() string {
	if k == KindUpgrade {
		return "upgrade"
	}
	return "document"
}

type Status uint8

const (
	StatusNone Status = iota
	StatusOpen
	StatusExpired
	StatusMajority
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusExpired:
		return "expired"
	case StatusMajority:
		return "majority"
	}
	return "none"
}

// Poll captures the duration and cooldown in force when it was started.
type Poll struct {
	Start    time.Time           `json:"start"`
	Duration time.Duration       `json:"duration"`
	Cooldown time.Duration       `json:"cooldown"`
	YesVotes uint16              `json:"yesVotes"`
	NoVotes  uint16              `json:"noVotes"`
	Voted    [MaxVoters / 8]byte `json:"voted"`
}

func (p *Poll) HasVoted(voter uint8) bool {
	return p.Voted[voter/8]&(1<<(voter%8)) != 0
}

func (p *Poll) setVoted(voter uint8) {
	p.Voted[voter/8] |= 1 << (voter % 8)
}

func (p *Poll) Deadline() time.Time {
	return p.Start.Add(p.Duration)
}

// Restartable is the earliest instant after which a new poll may start.
func (p *Poll) Restartable() time.Time {
	return p.Start.Add(p.Duration + p.Cooldown)
}

// hasMajority reports whether yes votes are strictly more than half of all
// eligible voters. Widened arithmetic keeps 2*yes from wrapping.
func hasMajority(yes uint16, totalVoters uint16) bool {
	return 2*uint32(yes) > uint32(totalVoters)
}

// pollSet is one kind of poll keyed by its subject.
type pollSet[K comparable] struct {
	kind       Kind
	polls      map[K]*Poll
	majority   map[K]bool
	proposals  []K
	majorities []K
}

func newPollSet[K comparable](kind Kind) *pollSet[K] {
	return &pollSet[K]{
		kind:     kind,
		polls:    make(map[K]*Poll),
		majority: make(map[K]bool),
	}
}

// clone shares the poll records with s. They are treated as immutable:
// a vote replaces the record instead of editing it.
func (s *pollSet[K]) clone() *pollSet[K] {
	n := &pollSet[K]{
		kind:       s.kind,
		polls:      make(map[K]*Poll, len(s.polls)),
		majority:   make(map[K]bool, len(s.majority)),
		proposals:  s.proposals[:len(s.proposals):len(s.proposals)],
		majorities: s.majorities[:len(s.majorities):len(s.majorities)],
	}
	for k, p := range s.polls {
		n.polls[k] = p
	}
	for k, v := range s.majority {
		n.majority[k] = v
	}
	return n
}

func (s *pollSet[K]) status(key K, now time.Time) Status {
	if s.majority[key] {
		return StatusMajority
	}
	p, ok := s.polls[key]
	if !ok {
		return StatusNone
	}
	if now.Before(p.Deadline()) {
		return StatusOpen
	}
	return StatusExpired
}

type Polls struct {
	address  common.Address
	owner    common.Address
	duration time.Duration
	cooldown time.Duration

	documents *pollSet[common.Hash]
	upgrades  *pollSet[common.Address]

	journal *types.Journal
	dirty   bool
}

func New(address, owner common.Address, duration, cooldown time.Duration, journal *types.Journal) (*Polls, error) {
	if err := checkBounds(duration, cooldown); err != nil {
		return nil, err
	}
	return &Polls{
		address:   address,
		owner:     owner,
		duration:  duration,
		cooldown:  cooldown,
		documents: newPollSet[common.Hash](KindDocument),
		upgrades:  newPollSet[common.Address](KindUpgrade),
		journal:   journal,
		dirty:     true,
	}, nil
}

func checkBounds(duration, cooldown time.Duration) error {
	if duration < MinDuration || duration > MaxDuration {
		return fmt.Errorf("%w: poll duration %v out of bounds", types.ErrInvalidArgument, duration)
	}
	if cooldown < MinCooldown || cooldown > MaxCooldown {
		return fmt.Errorf("%w: poll cooldown %v out of bounds", types.ErrInvalidArgument, cooldown)
	}
	return nil
}

func (e *Polls) Clone(journal *types.Journal) *Polls {
	return &Polls{
		address:   e.address,
		owner:     e.owner,
		duration:  e.duration,
		cooldown:  e.cooldown,
		documents: e.documents.clone(),
		upgrades:  e.upgrades.clone(),
		journal:   journal,
		dirty:     e.dirty,
	}
}

func (e *Polls) emit(ev abcitypes.Event) {
	if e.journal != nil {
		e.journal.Emit(ev)
	}
}

func (e *Polls) onlyOwner(caller common.Address) error {
	if caller != e.owner {
		return fmt.Errorf("%w: %v is not the polls owner", types.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (e *Polls) Address() common.Address {
	return e.address
}

func (e *Polls) Owner() common.Address {
	return e.owner
}

func (e *Polls) Duration() time.Duration {
	return e.duration
}

func (e *Polls) Cooldown() time.Duration {
	return e.cooldown
}

func (e *Polls) TransferOwnership(caller, newOwner common.Address) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", types.ErrInvalidArgument)
	}
	prev := e.owner
	e.owner = newOwner
	e.dirty = true
	e.emit(types.EncodeEventOwnershipTransferred(&types.EventOwnershipTransferred{
		Contract: ContractName,
		Previous: prev,
		Owner:    newOwner,
	}))
	return nil
}

// Reconfigure changes the parameters for polls started from now on.
func (e *Polls) Reconfigure(caller common.Address, duration, cooldown time.Duration) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	if err := checkBounds(duration, cooldown); err != nil {
		return err
	}
	e.duration = duration
	e.cooldown = cooldown
	e.dirty = true
	e.emit(types.EncodeEventPollsReconfigured(&types.EventPollsReconfigured{
		Duration: uint64(duration / time.Second),
		Cooldown: uint64(cooldown / time.Second),
	}))
	return nil
}

func startPoll[K comparable](e *Polls, s *pollSet[K], key K, subject string, now time.Time) error {
	if s.majority[key] {
		return fmt.Errorf("%w: %v poll %v already reached majority", types.ErrInvalidState, s.kind, subject)
	}
	prev, exists := s.polls[key]
	if exists && !now.After(prev.Restartable()) {
		if now.Before(prev.Deadline()) {
			return fmt.Errorf("%w: %v poll %v is still open", types.ErrInvalidState, s.kind, subject)
		}
		return fmt.Errorf("%w: %v poll %v is cooling down until %v", types.ErrInvalidState, s.kind, subject, prev.Restartable().UTC())
	}
	if !exists {
		s.proposals = append(s.proposals, key)
	}
	s.polls[key] = &Poll{
		Start:    now,
		Duration: e.duration,
		Cooldown: e.cooldown,
	}
	e.dirty = true
	e.emit(types.EncodeEventPoll(types.EventPollStartedType, &types.EventPoll{Kind: s.kind.String(), Subject: subject}))
	return nil
}

func castVote[K comparable](e *Polls, s *pollSet[K], voter uint8, key K, subject string, yes bool, totalVoters uint16, now time.Time) (bool, error) {
	if s.majority[key] {
		return false, fmt.Errorf("%w: %v poll %v already reached majority", types.ErrInvalidState, s.kind, subject)
	}
	p, ok := s.polls[key]
	if !ok {
		return false, fmt.Errorf("%w: no %v poll for %v", types.ErrNotFound, s.kind, subject)
	}
	if !now.Before(p.Deadline()) {
		return false, fmt.Errorf("%w: %v poll %v has expired", types.ErrInvalidState, s.kind, subject)
	}
	if p.HasVoted(voter) {
		return false, fmt.Errorf("%w: voter %d already voted on %v", types.ErrInvalidState, voter, subject)
	}
	v := *p
	if yes {
		v.YesVotes++
	} else {
		v.NoVotes++
	}
	v.setVoted(voter)
	s.polls[key] = &v
	e.dirty = true
	return checkMajority(e, s, key, subject, totalVoters), nil
}

func updatePoll[K comparable](e *Polls, s *pollSet[K], key K, subject string, totalVoters uint16) (bool, error) {
	if s.majority[key] {
		return false, fmt.Errorf("%w: %v poll %v already reached majority", types.ErrInvalidState, s.kind, subject)
	}
	if _, ok := s.polls[key]; !ok {
		return false, fmt.Errorf("%w: no %v poll for %v", types.ErrNotFound, s.kind, subject)
	}
	return checkMajority(e, s, key, subject, totalVoters), nil
}

func checkMajority[K comparable](e *Polls, s *pollSet[K], key K, subject string, totalVoters uint16) bool {
	p := s.polls[key]
	if !hasMajority(p.YesVotes, totalVoters) {
		return false
	}
	s.majority[key] = true
	s.majorities = append(s.majorities, key)
	e.dirty = true
	e.emit(types.EncodeEventPoll(types.EventMajorityType, &types.EventPoll{Kind: s.kind.String(), Subject: subject}))
	return true
}

func (e *Polls) StartDocumentPoll(caller common.Address, doc common.Hash, now time.Time) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	return startPoll(e, e.documents, doc, doc.Hex(), now)
}

func (e *Polls) StartUpgradePoll(caller common.Address, candidate common.Address, now time.Time) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	return startPoll(e, e.upgrades, candidate, candidate.Hex(), now)
}

// CastDocumentVote records the vote and reports whether this vote brought
// the poll to majority.
func (e *Polls) CastDocumentVote(caller common.Address, voter uint8, doc common.Hash, yes bool, totalVoters uint16, now time.Time) (bool, error) {
	if err := e.onlyOwner(caller); err != nil {
		return false, err
	}
	return castVote(e, e.documents, voter, doc, doc.Hex(), yes, totalVoters, now)
}

func (e *Polls) CastUpgradeVote(caller common.Address, voter uint8, candidate common.Address, yes bool, totalVoters uint16, now time.Time) (bool, error) {
	if err := e.onlyOwner(caller); err != nil {
		return false, err
	}
	return castVote(e, e.upgrades, voter, candidate, candidate.Hex(), yes, totalVoters, now)
}

func (e *Polls) UpdateDocumentPoll(caller common.Address, doc common.Hash, totalVoters uint16) (bool, error) {
	if err := e.onlyOwner(caller); err != nil {
		return false, err
	}
	return updatePoll(e, e.documents, doc, doc.Hex(), totalVoters)
}

func (e *Polls) UpdateUpgradePoll(caller common.Address, candidate common.Address, totalVoters uint16) (bool, error) {
	if err := e.onlyOwner(caller); err != nil {
		return false, err
	}
	return updatePoll(e, e.upgrades, candidate, candidate.Hex(), totalVoters)
}

// CheckDocumentVote runs the cast preconditions without recording anything.
func (e *Polls) CheckDocumentVote(voter uint8, doc common.Hash, now time.Time) error {
	return checkVote(e.documents, voter, doc, doc.Hex(), now)
}

func (e *Polls) CheckUpgradeVote(voter uint8, candidate common.Address, now time.Time) error {
	return checkVote(e.upgrades, voter, candidate, candidate.Hex(), now)
}

func checkVote[K comparable](s *pollSet[K], voter uint8, key K, subject string, now time.Time) error {
	switch s.status(key, now) {
	case StatusMajority:
		return fmt.Errorf("%w: %v poll %v already reached majority", types.ErrInvalidState, s.kind, subject)
	case StatusNone:
		return fmt.Errorf("%w: no %v poll for %v", types.ErrNotFound, s.kind, subject)
	case StatusExpired:
		return fmt.Errorf("%w: %v poll %v has expired", types.ErrInvalidState, s.kind, subject)
	}
	if s.polls[key].HasVoted(voter) {
		return fmt.Errorf("%w: voter %d already voted on %v", types.ErrInvalidState, voter, subject)
	}
	return nil
}

func (e *Polls) DocumentPoll(doc common.Hash) (Poll, bool) {
	p, ok := e.documents.polls[doc]
	if !ok {
		return Poll{}, false
	}
	return *p, true
}

func (e *Polls) UpgradePoll(candidate common.Address) (Poll, bool) {
	p, ok := e.upgrades.polls[candidate]
	if !ok {
		return Poll{}, false
	}
	return *p, true
}

func (e *Polls) DocumentStatus(doc common.Hash, now time.Time) Status {
	return e.documents.status(doc, now)
}

func (e *Polls) UpgradeStatus(candidate common.Address, now time.Time) Status {
	return e.upgrades.status(candidate, now)
}

func (e *Polls) HasVotedOnDocumentPoll(voter uint8, doc common.Hash) bool {
	p, ok := e.documents.polls[doc]
	return ok && p.HasVoted(voter)
}

func (e *Polls) HasVotedOnUpgradePoll(voter uint8, candidate common.Address) bool {
	p, ok := e.upgrades.polls[candidate]
	return ok && p.HasVoted(voter)
}

func (e *Polls) DocumentHasAchievedMajority(doc common.Hash) bool {
	return e.documents.majority[doc]
}

func (e *Polls) UpgradeHasAchievedMajority(candidate common.Address) bool {
	return e.upgrades.majority[candidate]
}

// DocumentMajorities lists documents in the order they reached majority.
func (e *Polls) DocumentMajorities() []common.Hash {
	return append([]common.Hash{}, e.documents.majorities...)
}

func (e *Polls) DocumentProposals() []common.Hash {
	return append([]common.Hash{}, e.documents.proposals...)
}

func (e *Polls) UpgradeProposals() []common.Address {
	return append([]common.Address{}, e.upgrades.proposals...)
}

// Snapshot is the persisted form of the engine.
type Snapshot struct {
	Address           common.Address   `json:"address"`
	Owner             common.Address   `json:"owner"`
	Duration          time.Duration    `json:"duration"`
	Cooldown          time.Duration    `json:"cooldown"`
	DocumentPolls     []DocumentEntry  `json:"documentPolls"`
	UpgradePolls      []UpgradeEntry   `json:"upgradePolls"`
	DocumentProposals []common.Hash    `json:"documentProposals"`
	DocumentMajority  []common.Hash    `json:"documentMajorities"`
	UpgradeProposals  []common.Address `json:"upgradeProposals"`
	UpgradeMajority   []common.Address `json:"upgradeMajorities"`
}

type DocumentEntry struct {
	Subject common.Hash `json:"subject"`
	Poll    Poll        `json:"poll"`
}

type UpgradeEntry struct {
	Subject common.Address `json:"subject"`
	Poll    Poll           `json:"poll"`
}

func (e *Polls) Snapshot() *Snapshot {
	s := &Snapshot{
		Address:           e.address,
		Owner:             e.owner,
		Duration:          e.duration,
		Cooldown:          e.cooldown,
		DocumentPolls:     make([]DocumentEntry, 0, len(e.documents.polls)),
		UpgradePolls:      make([]UpgradeEntry, 0, len(e.upgrades.polls)),
		DocumentProposals: e.DocumentProposals(),
		DocumentMajority:  e.DocumentMajorities(),
		UpgradeProposals:  e.UpgradeProposals(),
		UpgradeMajority:   append([]common.Address{}, e.upgrades.majorities...),
	}
	for k, p := range e.documents.polls {
		s.DocumentPolls = append(s.DocumentPolls, DocumentEntry{Subject: k, Poll: *p})
	}
	for k, p := range e.upgrades.polls {
		s.UpgradePolls = append(s.UpgradePolls, UpgradeEntry{Subject: k, Poll: *p})
	}
	sort.Slice(s.DocumentPolls, func(i, j int) bool {
		return s.DocumentPolls[i].Subject.Cmp(s.DocumentPolls[j].Subject) < 0
	})
	sort.Slice(s.UpgradePolls, func(i, j int) bool {
		return s.UpgradePolls[i].Subject.Cmp(s.UpgradePolls[j].Subject) < 0
	})
	return s
}

func Restore(s *Snapshot, journal *types.Journal) *Polls {
	e := &Polls{
		address:   s.Address,
		owner:     s.Owner,
		duration:  s.Duration,
		cooldown:  s.Cooldown,
		documents: newPollSet[common.Hash](KindDocument),
		upgrades:  newPollSet[common.Address](KindUpgrade),
		journal:   journal,
	}
	for _, d := range s.DocumentPolls {
		p := d.Poll
		e.documents.polls[d.Subject] = &p
	}
	for _, u := range s.UpgradePolls {
		p := u.Poll
		e.upgrades.polls[u.Subject] = &p
	}
	e.documents.proposals = append(e.documents.proposals, s.DocumentProposals...)
	e.upgrades.proposals = append(e.upgrades.proposals, s.UpgradeProposals...)
	for _, k := range s.DocumentMajority {
		e.documents.majority[k] = true
		e.documents.majorities = append(e.documents.majorities, k)
	}
	for _, k := range s.UpgradeMajority {
		e.upgrades.majority[k] = true
		e.upgrades.majorities = append(e.upgrades.majorities, k)
	}
	return e
}

// Dirty reports whether anything changed since the last ClearDirty.
func (e *Polls) Dirty() bool {
	return e.dirty
}

func (e *Polls) ClearDirty() {
	e.dirty = false
}
