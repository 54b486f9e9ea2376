// Package state keeps the constitution in an iavl tree and stages each
// block in a working copy that replaces the committed one on Commit.
package state

import (
	"sync"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cosmos/iavl"
	dbm "github.com/cosmos/iavl/db"
	"github.com/ethereum/go-ethereum/common"
)

// Tree layout. Records are JSON unless noted.
//
//	s                      state header (protowire)
//	rm                     registry meta: address, owner, dns domains, senate size
//	p<point %08x>          one point record
//	x<kind><role><addr><point>  one reverse index (rlp)
//	q                      polls snapshot
//	c<address>             one controller
//	a<address>             one account nonce (rlp)
var (
	KeyState            = "s"
	KeyRegistryMeta     = "rm"
	KeyPoint            = "p%08x"
	KeyPointPrefix      = "p"
	KeyIndex            = "x%02x%02x%x%08x"
	KeyIndexPrefix      = "x"
	KeyPolls            = "q"
	KeyController       = "c%x"
	KeyControllerPrefix = "c"
	KeyAccount          = "a%x"
)

// treeCacheSize is the iavl node cache, in nodes.
const treeCacheSize = 128

// StateDB guards the committed state. Block execution works on copies from
// NewState; queries and CheckTx read State under the read lock.
type StateDB struct {
	mtx sync.RWMutex

	dir    string
	logger cmtlog.Logger
	tree   *iavl.MutableTree

	state *State
}

func NewStateDB(dir string, logger cmtlog.Logger) (*StateDB, error) {
	ldb, err := dbm.NewDB("azimuth", "goleveldb", dir)
	if err != nil {
		return nil, err
	}
	return newStateDB(ldb, dir, logger)
}

// NewMemStateDB backs the state with an in-memory store.
func NewMemStateDB(logger cmtlog.Logger) (*StateDB, error) {
	return newStateDB(dbm.NewMemDB(), "", logger)
}

func newStateDB(ldb dbm.DB, dir string, logger cmtlog.Logger) (*StateDB, error) {
	logger = logger.With("module", "azdb")
	tree := iavl.NewMutableTree(ldb, treeCacheSize, true, newTreeLogger(logger))
	version, err := tree.Load()
	if err != nil {
		return nil, err
	}
	st := newState(tree, logger)
	st.dbVer = version
	if err = st.load(); err != nil {
		logger.Error("load state fail", "version", version, "err", err)
		return nil, err
	}
	logger.Info("state db opened", "version", version, "height", st.header.Height)
	return &StateDB{
		dir:    dir,
		logger: logger,
		tree:   tree,
		state:  st,
	}, nil
}

func (db *StateDB) Close() error {
	return db.tree.Close()
}

// Version is the last saved tree version.
func (db *StateDB) Version() int64 {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	return db.state.dbVer
}

func (db *StateDB) Header() *StateHeader {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	return db.state.Header()
}

// State returns the last committed state. Callers must treat it as
// read-only.
func (db *StateDB) State() *State {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	return db.state
}

// NewState stages the next block on top of the committed state.
func (db *StateDB) NewState() *State {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	return db.state.nextState()
}

// SetState saves the tree version written by st.Update and makes st the
// committed state.
func (db *StateDB) SetState(st *State) (hash common.Hash, err error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if hash, err = st.save(); err != nil {
		return
	}
	db.state = st
	return
}

// GetAccountByAddress returns a copy of the committed account, or nil for
// an address that never sent a transaction.
func (db *StateDB) GetAccountByAddress(addr common.Address) (acnt *Account, height uint64, err error) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	height = db.state.header.Height
	if acnt, err = db.state.GetAccount(addr); err != nil || acnt == nil {
		return
	}
	return acnt.Clone(), height, nil
}
