package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	abci_types "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cosmos/iavl"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/urbit/azimuth/controller"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/polls"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/tx"
	"github.com/urbit/azimuth/types"
)

var (
	ErrTxNonceInvalid      = errors.New("nonce invalid")
	ErrStateNotInitialized = fmt.Errorf("%w: state not initialized", types.ErrInvalidState)
	ErrControllerExists    = fmt.Errorf("%w: controller already exists", types.ErrInvalidState)
)

// indexRecord is the stored form of one reverse index.
type indexRecord struct {
	Kind    uint8
	Role    uint8
	Address common.Address
	Point   uint32
	Items   []uint32
}

type State struct {
	logger cmtlog.Logger
	db     *iavl.MutableTree
	dbVer  int64

	header      *StateHeader
	journal     *types.Journal
	registry    *registry.Registry
	polls       *polls.Polls
	controllers map[common.Address]*controller.Controller

	acnts         map[common.Address]*Account
	modifiedAcnts map[common.Address]struct{}
}

var _ controller.Env = (*State)(nil)

func newState(db *iavl.MutableTree, logger cmtlog.Logger) *State {
	return &State{
		logger:        logger,
		db:            db,
		header:        new(StateHeader),
		journal:       types.NewJournal(),
		controllers:   make(map[common.Address]*controller.Controller),
		acnts:         make(map[common.Address]*Account),
		modifiedAcnts: make(map[common.Address]struct{}),
	}
}

// nextState returns a working copy for the next block. Nothing it does is
// visible to the receiver.
func (s *State) nextState() *State {
	n := &State{
		logger:        s.logger,
		db:            s.db,
		dbVer:         s.dbVer,
		journal:       types.NewJournal(),
		controllers:   make(map[common.Address]*controller.Controller, len(s.controllers)),
		acnts:         make(map[common.Address]*Account, len(s.acnts)),
		modifiedAcnts: make(map[common.Address]struct{}),
	}
	n.header = s.header.Clone()
	if s.header.GetHash() != nil {
		n.header.Height = s.header.Height + 1
	}
	if s.registry != nil {
		n.registry = s.registry.Clone(n.journal)
	}
	if s.polls != nil {
		n.polls = s.polls.Clone(n.journal)
	}
	for addr, c := range s.controllers {
		n.controllers[addr] = c.Clone().Bind(n)
	}
	for addr, a := range s.acnts {
		n.acnts[addr] = a.Clone()
	}
	return n
}

func (s *State) get(key string) ([]byte, error) {
	val, err := s.db.Get([]byte(key))
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return val, nil
}

func (s *State) iterate(prefix string, fn func(key, val []byte) error) error {
	start := []byte(prefix)
	it, err := s.db.Iterator(start, PrefixEndBytes(start), true)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *State) load() (err error) {
	val, err := s.get(KeyState)
	if err != nil || val == nil {
		return err
	}
	if err = s.header.Unmarshal(val); err != nil {
		return
	}
	if h := s.db.Hash(); h != nil {
		s.calcHash(h, true)
	}
	if s.header.Registry == (common.Address{}) {
		return nil
	}

	var meta registry.Meta
	val, err = s.get(KeyRegistryMeta)
	if err != nil {
		return
	}
	if err = json.Unmarshal(val, &meta); err != nil {
		return fmt.Errorf("registry meta: %w", err)
	}
	points := make(map[uint32]*point.Point)
	err = s.iterate(KeyPointPrefix, func(key, val []byte) error {
		var id uint32
		if _, err := fmt.Sscanf(string(key), KeyPoint, &id); err != nil {
			return fmt.Errorf("point key %q: %w", key, err)
		}
		pt := new(point.Point)
		if err := json.Unmarshal(val, pt); err != nil {
			return fmt.Errorf("point %d: %w", id, err)
		}
		points[id] = pt
		return nil
	})
	if err != nil {
		return
	}
	indexes := make(map[registry.IndexKey][]uint32)
	err = s.iterate(KeyIndexPrefix, func(key, val []byte) error {
		var rec indexRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return fmt.Errorf("index %q: %w", key, err)
		}
		if len(rec.Items) > 0 {
			indexes[registry.IndexKey{
				Kind:    registry.IndexKind(rec.Kind),
				Role:    point.ProxyRole(rec.Role),
				Address: rec.Address,
				Point:   rec.Point,
			}] = rec.Items
		}
		return nil
	})
	if err != nil {
		return
	}
	s.registry = registry.Restore(meta, points, indexes, s.journal)

	val, err = s.get(KeyPolls)
	if err != nil {
		return
	}
	var snap polls.Snapshot
	if err = json.Unmarshal(val, &snap); err != nil {
		return fmt.Errorf("polls: %w", err)
	}
	s.polls = polls.Restore(&snap, s.journal)

	err = s.iterate(KeyControllerPrefix, func(key, val []byte) error {
		c := new(controller.Controller)
		if err := json.Unmarshal(val, c); err != nil {
			return fmt.Errorf("controller %q: %w", key, err)
		}
		s.controllers[c.Address] = c.Bind(s)
		return nil
	})
	if err != nil {
		return
	}
	s.logger.Info("state loaded", "height", s.header.Height, "points", len(points), "controllers", len(s.controllers))
	return nil
}

func (s *State) calcHash(rootHash []byte, update bool) (h common.Hash) {
	h = crypto.Keccak256Hash(rootHash)
	if update {
		s.header.RootHash = common.CopyBytes(rootHash)
		s.header.Hash = common.CopyBytes(h[:])
	}
	return
}

func (s *State) set(key string, val []byte) error {
	_, err := s.db.Set([]byte(key), val)
	return err
}

func indexStoreKey(k registry.IndexKey) string {
	return fmt.Sprintf(KeyIndex, uint8(k.Kind), uint8(k.Role), k.Address, k.Point)
}

// Update writes everything modified in this block to the working tree and
// returns the resulting app hash.
func (s *State) Update() (h common.Hash, err error) {
	var hash []byte
	defer func() {
		if hash == nil {
			s.db.Rollback()
		}
	}()

	if s.registry != nil {
		ch := s.registry.Changes()
		if ch.Meta != nil {
			var val []byte
			if val, err = json.Marshal(ch.Meta); err != nil {
				return h, fmt.Errorf("registry meta: %w", err)
			}
			if err = s.set(KeyRegistryMeta, val); err != nil {
				return
			}
		}
		for _, p := range ch.Points {
			var val []byte
			if val, err = json.Marshal(s.registry.Point(p)); err != nil {
				return h, fmt.Errorf("point %d: %w", p, err)
			}
			if err = s.set(fmt.Sprintf(KeyPoint, p), val); err != nil {
				return
			}
		}
		for _, k := range ch.Indexes {
			var val []byte
			val, err = rlp.EncodeToBytes(&indexRecord{
				Kind:    uint8(k.Kind),
				Role:    uint8(k.Role),
				Address: k.Address,
				Point:   k.Point,
				Items:   s.registry.Index(k),
			})
			if err != nil {
				return
			}
			if err = s.set(indexStoreKey(k), val); err != nil {
				return
			}
		}
		s.registry.ClearChanges()
	}
	if s.polls != nil && s.polls.Dirty() {
		var val []byte
		if val, err = json.Marshal(s.polls.Snapshot()); err != nil {
			return h, fmt.Errorf("polls: %w", err)
		}
		if err = s.set(KeyPolls, val); err != nil {
			return
		}
		s.polls.ClearDirty()
	}

	addrs := make([]common.Address, 0, len(s.controllers))
	for addr, c := range s.controllers {
		if c.Dirty() {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	for _, addr := range addrs {
		c := s.controllers[addr]
		var val []byte
		if val, err = json.Marshal(c); err != nil {
			return h, fmt.Errorf("controller %v: %w", addr.Hex(), err)
		}
		if err = s.set(fmt.Sprintf(KeyController, addr), val); err != nil {
			return
		}
		c.ClearDirty()
	}

	addrs = addrs[:0]
	for addr := range s.modifiedAcnts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	for _, addr := range addrs {
		var val []byte
		val, err = s.acnts[addr].encode()
		if err != nil {
			return
		}
		if err = s.set(fmt.Sprintf(KeyAccount, addr), val); err != nil {
			return
		}
	}
	s.modifiedAcnts = make(map[common.Address]struct{})

	if err = s.set(KeyState, s.header.Marshal()); err != nil {
		return
	}
	hash = s.db.WorkingHash()
	h = s.calcHash(hash, false)
	return
}

func (s *State) save() (h common.Hash, err error) {
	hash, ver, err := s.db.SaveVersion()
	if err != nil {
		return h, err
	}
	s.dbVer = ver
	h = s.calcHash(hash, true)
	return
}

func (s *State) Header() *StateHeader {
	return s.header
}

func (s *State) Hash() (h common.Hash) {
	if s.header.Hash != nil {
		copy(h[:], s.header.Hash)
	}
	return
}

func (s *State) SetChainId(chainId string) {
	s.header.ChainId = chainId
}

// SetBlockTime fixes the clock seen by every operation of the block.
func (s *State) SetBlockTime(t time.Time) {
	s.header.BlockTime = t.UnixNano()
}

func (s *State) Journal() *types.Journal {
	return s.journal
}

func (s *State) Registry(addr common.Address) (*registry.Registry, error) {
	if s.registry == nil || s.registry.Address() != addr {
		return nil, fmt.Errorf("%w: registry %v", types.ErrNotFound, addr.Hex())
	}
	return s.registry, nil
}

func (s *State) Polls(addr common.Address) (*polls.Polls, error) {
	if s.polls == nil || s.polls.Address() != addr {
		return nil, fmt.Errorf("%w: polls %v", types.ErrNotFound, addr.Hex())
	}
	return s.polls, nil
}

func (s *State) Controller(addr common.Address) (*controller.Controller, error) {
	c, ok := s.controllers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: controller %v", types.ErrNotFound, addr.Hex())
	}
	return c, nil
}

func (s *State) Now() time.Time {
	return s.header.Time()
}

func (s *State) Emit(ev abci_types.Event) {
	s.journal.Emit(ev)
}

// PointRegistry and PollsEngine expose the leaves for reads.
func (s *State) PointRegistry() *registry.Registry {
	return s.registry
}

func (s *State) PollsEngine() *polls.Polls {
	return s.polls
}

// CurrentController is whichever controller owns the registry.
func (s *State) CurrentController() (*controller.Controller, error) {
	if s.registry == nil {
		return nil, ErrStateNotInitialized
	}
	return s.Controller(s.registry.Owner())
}

// Target resolves the controller a transaction addresses.
func (s *State) Target(contract common.Address) (*controller.Controller, error) {
	if contract == (common.Address{}) {
		return s.CurrentController()
	}
	return s.Controller(contract)
}

// ControllerRecord returns a detached copy for readers.
func (s *State) ControllerRecord(addr common.Address) *controller.Controller {
	c, ok := s.controllers[addr]
	if !ok {
		return nil
	}
	return c.Clone()
}

func (s *State) ControllerAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(s.controllers))
	for addr := range s.controllers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}

// DeployController registers a successor candidate bound to the live
// registry and polls engine. Its address follows the sender's nonce.
func (s *State) DeployController(sender common.Address, nonce uint64, previous, owner common.Address) (addr common.Address, err error) {
	if s.registry == nil || s.polls == nil {
		return addr, ErrStateNotInitialized
	}
	if _, err = s.Controller(previous); err != nil {
		return addr, err
	}
	if owner == (common.Address{}) {
		owner = sender
	}
	addr = crypto.CreateAddress(sender, nonce)
	if _, ok := s.controllers[addr]; ok {
		return addr, fmt.Errorf("%w: %v", ErrControllerExists, addr.Hex())
	}
	s.controllers[addr] = controller.New(addr, previous, owner, s.registry.Address(), s.polls.Address()).Bind(s)
	s.Emit(types.EncodeEventControllerDeployed(&types.EventControllerDeployed{
		Address:  addr,
		Previous: previous,
		Owner:    owner,
	}))
	return addr, nil
}

// GetAccount reads through the block cache without populating it, so the
// committed state stays read-only for queries.
func (s *State) GetAccount(addr common.Address) (acnt *Account, err error) {
	if a, ok := s.acnts[addr]; ok {
		return a, nil
	}
	val, err := s.get(fmt.Sprintf(KeyAccount, addr))
	if err != nil || val == nil {
		return nil, err
	}
	return decodeAccount(val)
}

func (s *State) IncrementNonce(addr common.Address) error {
	a, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if a == nil {
		a = &Account{Address: addr}
	} else {
		a = a.Clone()
	}
	a.Nonce += 1
	s.acnts[addr] = a
	s.modifiedAcnts[addr] = struct{}{}
	return nil
}

// Verify checks the signature and the sender nonce. Mempool checks allow a
// gap so that a sender can queue several transactions.
func (s *State) Verify(btx *tx.AzTx, allowNonceGap bool) error {
	a, err := s.GetAccount(btx.Sender)
	if err != nil {
		return err
	}
	var nonce uint64
	if a != nil {
		nonce = a.Nonce
	}
	if !(nonce == btx.Nonce || (allowNonceGap && nonce < btx.Nonce)) {
		return fmt.Errorf("%w: expected %d got %d", ErrTxNonceInvalid, nonce, btx.Nonce)
	}
	return btx.Verify([]byte(s.header.ChainId))
}

func PrefixEndBytes(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)

	for {
		if end[len(end)-1] != byte(255) {
			end[len(end)-1]++
			break
		}

		end = end[:len(end)-1]

		if len(end) == 0 {
			end = nil
			break
		}
	}

	return end
}
