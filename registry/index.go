package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
)

// IndexSet is an ordered set of points backed by an array and a position
// map. Removal moves the last element into the vacated slot, so enumeration
// order after removals is deterministic and observable.
type IndexSet struct {
	items []uint32
	pos   map[uint32]int
}

func NewIndexSet() *IndexSet {
	return &IndexSet{pos: make(map[uint32]int)}
}

func restoreIndexSet(items []uint32) *IndexSet {
	s := &IndexSet{
		items: make([]uint32, len(items)),
		pos:   make(map[uint32]int, len(items)),
	}
	copy(s.items, items)
	for i, p := range s.items {
		s.pos[p] = i
	}
	return s
}

func (s *IndexSet) Add(p uint32) bool {
	if _, ok := s.pos[p]; ok {
		return false
	}
	s.pos[p] = len(s.items)
	s.items = append(s.items, p)
	return true
}

func (s *IndexSet) Remove(p uint32) bool {
	i, ok := s.pos[p]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.pos[moved] = i
	}
	s.items = s.items[:last]
	delete(s.pos, p)
	return true
}

func (s *IndexSet) Has(p uint32) bool {
	_, ok := s.pos[p]
	return ok
}

// Position returns the recorded slot of p.
func (s *IndexSet) Position(p uint32) (int, bool) {
	i, ok := s.pos[p]
	return i, ok
}

func (s *IndexSet) Len() int {
	return len(s.items)
}

func (s *IndexSet) At(i int) (uint32, bool) {
	if i < 0 || i >= len(s.items) {
		return 0, false
	}
	return s.items[i], true
}

// Items returns a copy of the backing array.
func (s *IndexSet) Items() []uint32 {
	res := make([]uint32, len(s.items))
	copy(res, s.items)
	return res
}

func (s *IndexSet) Clone() *IndexSet {
	return restoreIndexSet(s.items)
}

type IndexKind uint8

const (
	IndexOwned IndexKind = iota
	IndexDelegated
	IndexSponsoring
	IndexEscapeRequests
	IndexSpawned
)

func (k IndexKind) String() string {
	switch k {
	case IndexOwned:
		return "owned"
	case IndexDelegated:
		return "delegated"
	case IndexSponsoring:
		return "sponsoring"
	case IndexEscapeRequests:
		return "escapes"
	case IndexSpawned:
		return "spawned"
	}
	return "unknown"
}

// IndexKey names one reverse index. Owned and delegated indexes are keyed by
// address, the others by point.
type IndexKey struct {
	Kind    IndexKind
	Role    point.ProxyRole
	Address common.Address
	Point   uint32
}

func OwnedKey(addr common.Address) IndexKey {
	return IndexKey{Kind: IndexOwned, Address: addr}
}

func DelegatedKey(role point.ProxyRole, addr common.Address) IndexKey {
	return IndexKey{Kind: IndexDelegated, Role: role, Address: addr}
}

func SponsoringKey(sponsor uint32) IndexKey {
	return IndexKey{Kind: IndexSponsoring, Point: sponsor}
}

func EscapeRequestsKey(sponsor uint32) IndexKey {
	return IndexKey{Kind: IndexEscapeRequests, Point: sponsor}
}

func SpawnedKey(prefix uint32) IndexKey {
	return IndexKey{Kind: IndexSpawned, Point: prefix}
}
