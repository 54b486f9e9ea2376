// Package registry keeps canonical point state and its reverse indexes.
// It carries no policy: every mutator only checks that the caller is the
// registry's current owner, which is re-read on each call.
package registry

import (
	"fmt"
	"sort"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/types"
)

const ContractName = "registry"

type Registry struct {
	address common.Address
	owner   common.Address

	// points and indexes hold what this registry wrote; anything else is
	// read through base, which is never modified.
	points         map[uint32]*point.Point
	indexes        map[IndexKey]*IndexSet
	base           *Registry
	depth          int
	dnsDomains     [3]string
	activeGalaxies uint16

	journal      *types.Journal
	dirtyPoints  map[uint32]struct{}
	dirtyIndexes map[IndexKey]struct{}
	dirtyMeta    bool
}

func New(address, owner common.Address, journal *types.Journal) *Registry {
	return &Registry{
		address:      address,
		owner:        owner,
		points:       make(map[uint32]*point.Point),
		indexes:      make(map[IndexKey]*IndexSet),
		journal:      journal,
		dirtyPoints:  make(map[uint32]struct{}),
		dirtyIndexes: make(map[IndexKey]struct{}),
		dirtyMeta:    true,
	}
}

// maxLayers bounds the read path of a clone chain.
const maxLayers = 16

// Clone returns a copy bound to journal that layers its writes over r, so a
// block only pays for the records it touches. r must not be modified
// afterwards. Pending dirty marks are carried over.
func (r *Registry) Clone(journal *types.Journal) *Registry {
	base, depth := r, r.depth+1
	if depth > maxLayers {
		base, depth = r.flatten(), 1
	}
	n := &Registry{
		address:        r.address,
		owner:          r.owner,
		points:         make(map[uint32]*point.Point),
		indexes:        make(map[IndexKey]*IndexSet),
		base:           base,
		depth:          depth,
		dnsDomains:     r.dnsDomains,
		activeGalaxies: r.activeGalaxies,
		journal:        journal,
		dirtyPoints:    make(map[uint32]struct{}, len(r.dirtyPoints)),
		dirtyIndexes:   make(map[IndexKey]struct{}, len(r.dirtyIndexes)),
		dirtyMeta:      r.dirtyMeta,
	}
	for k := range r.dirtyPoints {
		n.dirtyPoints[k] = struct{}{}
	}
	for k := range r.dirtyIndexes {
		n.dirtyIndexes[k] = struct{}{}
	}
	return n
}

// flatten merges the layer chain into a single read-only layer.
func (r *Registry) flatten() *Registry {
	var layers []*Registry
	for l := r; l != nil; l = l.base {
		layers = append(layers, l)
	}
	flat := &Registry{
		points:  make(map[uint32]*point.Point),
		indexes: make(map[IndexKey]*IndexSet),
	}
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i].points {
			flat.points[k] = v
		}
		for k, v := range layers[i].indexes {
			flat.indexes[k] = v
		}
	}
	return flat
}

func (r *Registry) lookupPoint(p uint32) (*point.Point, bool) {
	for l := r; l != nil; l = l.base {
		if pt, ok := l.points[p]; ok {
			return pt, true
		}
	}
	return nil, false
}

func (r *Registry) lookupIndex(key IndexKey) (*IndexSet, bool) {
	for l := r; l != nil; l = l.base {
		if s, ok := l.indexes[key]; ok {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) emit(ev abcitypes.Event) {
	if r.journal != nil {
		r.journal.Emit(ev)
	}
}

func (r *Registry) onlyOwner(caller common.Address) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %v is not the registry owner", types.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (r *Registry) Address() common.Address {
	return r.address
}

func (r *Registry) Owner() common.Address {
	return r.owner
}

func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", types.ErrInvalidArgument)
	}
	prev := r.owner
	r.owner = newOwner
	r.dirtyMeta = true
	r.emit(types.EncodeEventOwnershipTransferred(&types.EventOwnershipTransferred{
		Contract: ContractName,
		Previous: prev,
		Owner:    newOwner,
	}))
	return nil
}

// get returns the stored record or an empty one. The result must not be
// modified; use mut for that.
func (r *Registry) get(p uint32) *point.Point {
	if pt, ok := r.lookupPoint(p); ok {
		return pt
	}
	return &point.Point{}
}

func (r *Registry) mut(p uint32) *point.Point {
	pt, ok := r.points[p]
	if !ok {
		if shared, found := r.base.lookupPoint(p); found {
			pt = shared.Clone()
		} else {
			pt = &point.Point{}
		}
		r.points[p] = pt
	}
	r.dirtyPoints[p] = struct{}{}
	return pt
}

// mutIndex returns the index set owned by r, copying it up from base.
func (r *Registry) mutIndex(key IndexKey) *IndexSet {
	s, ok := r.indexes[key]
	if !ok {
		if shared, found := r.base.lookupIndex(key); found {
			s = shared.Clone()
		} else {
			s = NewIndexSet()
		}
		r.indexes[key] = s
	}
	return s
}

func (r *Registry) insert(key IndexKey, p uint32) {
	if key.Kind <= IndexDelegated && key.Address == (common.Address{}) {
		return
	}
	if s, ok := r.lookupIndex(key); ok && s.Has(p) {
		return
	}
	r.mutIndex(key).Add(p)
	r.dirtyIndexes[key] = struct{}{}
}

func (r *Registry) remove(key IndexKey, p uint32) {
	if s, ok := r.lookupIndex(key); !ok || !s.Has(p) {
		return
	}
	r.mutIndex(key).Remove(p)
	r.dirtyIndexes[key] = struct{}{}
}

func (r *Registry) SetOwner(caller common.Address, p uint32, owner common.Address) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	prev := r.get(p).Owner
	if prev == owner {
		return nil
	}
	r.remove(OwnedKey(prev), p)
	r.insert(OwnedKey(owner), p)
	r.mut(p).Owner = owner
	r.emit(types.EncodeEventOwnerChanged(&types.EventOwnerChanged{Point: p, Owner: owner}))
	return nil
}

// Activate latches the point active and makes its prefix its sponsor. The
// spawn is registered with the prefix unless already counted.
func (r *Registry) Activate(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	if r.get(p).Active {
		return fmt.Errorf("%w: point %d already active", types.ErrInvalidState, p)
	}
	prefix := point.Prefix(p)
	pt := r.mut(p)
	pt.Active = true
	pt.Sponsor = prefix
	pt.HasSponsor = true
	r.insert(SponsoringKey(prefix), p)
	if point.SizeOf(p) == point.Galaxy {
		r.activeGalaxies++
		r.dirtyMeta = true
	}
	r.emit(types.EncodeEventActivated(&types.EventActivated{Point: p}))
	r.registerSpawned(p)
	return nil
}

func (r *Registry) RegisterSpawned(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	r.registerSpawned(p)
	return nil
}

func (r *Registry) registerSpawned(p uint32) {
	if point.SizeOf(p) == point.Galaxy {
		return
	}
	prefix := point.Prefix(p)
	key := SpawnedKey(prefix)
	if s, ok := r.lookupIndex(key); ok && s.Has(p) {
		return
	}
	r.insert(key, p)
	r.mut(prefix).SpawnCount++
	r.emit(types.EncodeEventSpawned(&types.EventSpawned{Prefix: prefix, Child: p}))
}

// SetKeys bumps the revision whenever the key material changes.
func (r *Registry) SetKeys(caller common.Address, p uint32, crypt, auth common.Hash, suite uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	if r.get(p).Keys.Same(crypt, auth, suite) {
		return nil
	}
	pt := r.mut(p)
	pt.Keys.Crypt = crypt
	pt.Keys.Auth = auth
	pt.Keys.Suite = suite
	pt.Keys.Revision++
	r.emit(types.EncodeEventChangedKeys(&types.EventChangedKeys{
		Point:    p,
		Crypt:    crypt,
		Auth:     auth,
		Suite:    suite,
		Revision: pt.Keys.Revision,
	}))
	return nil
}

func (r *Registry) IncrementContinuity(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	pt := r.mut(p)
	pt.Continuity++
	r.emit(types.EncodeEventBrokeContinuity(&types.EventBrokeContinuity{Point: p, Number: pt.Continuity}))
	return nil
}

func (r *Registry) SetProxy(caller common.Address, role point.ProxyRole, p uint32, proxy common.Address) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	if role >= point.NumProxyRoles {
		return fmt.Errorf("%w: proxy role %d", types.ErrInvalidArgument, role)
	}
	prev := r.get(p).Proxies[role]
	if prev == proxy {
		return nil
	}
	r.remove(DelegatedKey(role, prev), p)
	r.insert(DelegatedKey(role, proxy), p)
	r.mut(p).Proxies[role] = proxy
	r.emit(types.EncodeEventChangedProxy(&types.EventChangedProxy{Point: p, Role: role.String(), Proxy: proxy}))
	return nil
}

func (r *Registry) SetManagementProxy(caller common.Address, p uint32, proxy common.Address) error {
	return r.SetProxy(caller, point.Management, p, proxy)
}

func (r *Registry) SetVotingProxy(caller common.Address, p uint32, proxy common.Address) error {
	return r.SetProxy(caller, point.Voting, p, proxy)
}

func (r *Registry) SetSpawnProxy(caller common.Address, p uint32, proxy common.Address) error {
	return r.SetProxy(caller, point.Spawn, p, proxy)
}

func (r *Registry) SetTransferProxy(caller common.Address, p uint32, proxy common.Address) error {
	return r.SetProxy(caller, point.Transfer, p, proxy)
}

func (r *Registry) RequestEscape(caller common.Address, p, sponsor uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	cur := r.get(p)
	if cur.EscapeRequested && cur.EscapeTo == sponsor {
		return nil
	}
	if cur.EscapeRequested {
		r.remove(EscapeRequestsKey(cur.EscapeTo), p)
	}
	pt := r.mut(p)
	pt.EscapeRequested = true
	pt.EscapeTo = sponsor
	r.insert(EscapeRequestsKey(sponsor), p)
	r.emit(types.EncodeEventSponsorship(types.EventEscapeRequestedType, &types.EventSponsorship{Point: p, Sponsor: sponsor}))
	return nil
}

func (r *Registry) CancelEscape(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	cur := r.get(p)
	if !cur.EscapeRequested {
		return nil
	}
	sponsor := cur.EscapeTo
	r.remove(EscapeRequestsKey(sponsor), p)
	pt := r.mut(p)
	pt.EscapeRequested = false
	pt.EscapeTo = 0
	r.emit(types.EncodeEventSponsorship(types.EventEscapeCanceledType, &types.EventSponsorship{Point: p, Sponsor: sponsor}))
	return nil
}

// LoseSponsor drops the sponsorship flag. The sponsor id is kept as history.
func (r *Registry) LoseSponsor(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	cur := r.get(p)
	if !cur.HasSponsor {
		return nil
	}
	r.remove(SponsoringKey(cur.Sponsor), p)
	pt := r.mut(p)
	pt.HasSponsor = false
	r.emit(types.EncodeEventSponsorship(types.EventLostSponsorType, &types.EventSponsorship{Point: p, Sponsor: pt.Sponsor}))
	return nil
}

// AcceptEscape moves the point under the sponsor it requested.
func (r *Registry) AcceptEscape(caller common.Address, p uint32) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	cur := r.get(p)
	if !cur.EscapeRequested {
		return fmt.Errorf("%w: point %d is not escaping", types.ErrInvalidState, p)
	}
	sponsor := cur.EscapeTo
	r.remove(EscapeRequestsKey(sponsor), p)
	if cur.HasSponsor {
		r.remove(SponsoringKey(cur.Sponsor), p)
	}
	pt := r.mut(p)
	pt.EscapeRequested = false
	pt.EscapeTo = 0
	pt.Sponsor = sponsor
	pt.HasSponsor = true
	r.insert(SponsoringKey(sponsor), p)
	r.emit(types.EncodeEventSponsorship(types.EventEscapeAcceptedType, &types.EventSponsorship{Point: p, Sponsor: sponsor}))
	return nil
}

func (r *Registry) SetDnsDomains(caller common.Address, primary, secondary, tertiary string) error {
	if err := r.onlyOwner(caller); err != nil {
		return err
	}
	domains := [3]string{primary, secondary, tertiary}
	if domains == r.dnsDomains {
		return nil
	}
	r.dnsDomains = domains
	r.dirtyMeta = true
	r.emit(types.EncodeEventChangedDns(&types.EventChangedDns{Primary: primary, Secondary: secondary, Tertiary: tertiary}))
	return nil
}

// Point returns a copy of the record, or nil when nothing was ever written.
func (r *Registry) Point(p uint32) *point.Point {
	pt, ok := r.lookupPoint(p)
	if !ok {
		return nil
	}
	return pt.Clone()
}

func (r *Registry) IsOwner(p uint32, addr common.Address) bool {
	return r.get(p).Owner == addr
}

func (r *Registry) GetOwner(p uint32) common.Address {
	return r.get(p).Owner
}

func (r *Registry) IsActive(p uint32) bool {
	return r.get(p).Active
}

func (r *Registry) GetKeys(p uint32) point.Keys {
	return r.get(p).Keys
}

func (r *Registry) GetKeyRevision(p uint32) uint32 {
	return r.get(p).Keys.Revision
}

// IsLive reports whether all key fields of the point are set.
func (r *Registry) IsLive(p uint32) bool {
	return r.get(p).Keys.Complete()
}

func (r *Registry) GetContinuity(p uint32) uint32 {
	return r.get(p).Continuity
}

func (r *Registry) GetSpawnCount(p uint32) uint32 {
	return r.get(p).SpawnCount
}

func (r *Registry) GetSpawned(p uint32) []uint32 {
	return r.Index(SpawnedKey(p))
}

func (r *Registry) GetProxy(role point.ProxyRole, p uint32) common.Address {
	if role >= point.NumProxyRoles {
		return common.Address{}
	}
	return r.get(p).Proxies[role]
}

func (r *Registry) IsProxy(role point.ProxyRole, p uint32, addr common.Address) bool {
	return r.GetProxy(role, p) == addr
}

func (r *Registry) IsManagementProxy(p uint32, addr common.Address) bool {
	return r.IsProxy(point.Management, p, addr)
}

func (r *Registry) IsVotingProxy(p uint32, addr common.Address) bool {
	return r.IsProxy(point.Voting, p, addr)
}

func (r *Registry) IsSpawnProxy(p uint32, addr common.Address) bool {
	return r.IsProxy(point.Spawn, p, addr)
}

func (r *Registry) IsTransferProxy(p uint32, addr common.Address) bool {
	return r.IsProxy(point.Transfer, p, addr)
}

// CanManage is true for the owner and the management proxy.
func (r *Registry) CanManage(p uint32, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	pt := r.get(p)
	return pt.Owner == addr || pt.Proxies[point.Management] == addr
}

// CanVoteAs is true for the owner and the voting proxy of an active galaxy.
func (r *Registry) CanVoteAs(p uint32, addr common.Address) bool {
	if addr == (common.Address{}) || point.SizeOf(p) != point.Galaxy {
		return false
	}
	pt := r.get(p)
	return pt.Active && (pt.Owner == addr || pt.Proxies[point.Voting] == addr)
}

func (r *Registry) GetSponsor(p uint32) uint32 {
	return r.get(p).Sponsor
}

func (r *Registry) HasSponsor(p uint32) bool {
	return r.get(p).HasSponsor
}

func (r *Registry) IsSponsor(p, sponsor uint32) bool {
	pt := r.get(p)
	return pt.HasSponsor && pt.Sponsor == sponsor
}

func (r *Registry) IsEscaping(p uint32) bool {
	return r.get(p).EscapeRequested
}

func (r *Registry) GetEscapeRequest(p uint32) uint32 {
	return r.get(p).EscapeTo
}

func (r *Registry) IsRequestingEscapeTo(p, sponsor uint32) bool {
	pt := r.get(p)
	return pt.EscapeRequested && pt.EscapeTo == sponsor
}

func (r *Registry) GetOwnedPoints(addr common.Address) []uint32 {
	return r.Index(OwnedKey(addr))
}

func (r *Registry) GetOwnedPointCount(addr common.Address) int {
	return r.IndexLen(OwnedKey(addr))
}

func (r *Registry) GetOwnedPointAtIndex(addr common.Address, i int) (uint32, error) {
	s, ok := r.lookupIndex(OwnedKey(addr))
	if !ok {
		return 0, fmt.Errorf("%w: index %d out of range", types.ErrNotFound, i)
	}
	p, ok := s.At(i)
	if !ok {
		return 0, fmt.Errorf("%w: index %d out of range", types.ErrNotFound, i)
	}
	return p, nil
}

func (r *Registry) GetDelegated(role point.ProxyRole, addr common.Address) []uint32 {
	return r.Index(DelegatedKey(role, addr))
}

func (r *Registry) GetSponsoring(sponsor uint32) []uint32 {
	return r.Index(SponsoringKey(sponsor))
}

func (r *Registry) GetEscapeRequests(sponsor uint32) []uint32 {
	return r.Index(EscapeRequestsKey(sponsor))
}

func (r *Registry) Index(key IndexKey) []uint32 {
	s, ok := r.lookupIndex(key)
	if !ok {
		return []uint32{}
	}
	return s.Items()
}

func (r *Registry) IndexLen(key IndexKey) int {
	s, ok := r.lookupIndex(key)
	if !ok {
		return 0
	}
	return s.Len()
}

// IndexPosition reports the recorded slot of p in the given index.
func (r *Registry) IndexPosition(key IndexKey, p uint32) (int, bool) {
	s, ok := r.lookupIndex(key)
	if !ok {
		return 0, false
	}
	return s.Position(p)
}

// ActiveGalaxyCount is the size of the senate.
func (r *Registry) ActiveGalaxyCount() uint16 {
	return r.activeGalaxies
}

func (r *Registry) DnsDomains() [3]string {
	return r.dnsDomains
}

// Meta is the registry-wide record persisted alongside points and indexes.
type Meta struct {
	Address        common.Address `json:"address"`
	Owner          common.Address `json:"owner"`
	DnsDomains     [3]string      `json:"dnsDomains"`
	ActiveGalaxies uint16         `json:"activeGalaxies"`
}

func (r *Registry) Meta() Meta {
	return Meta{
		Address:        r.address,
		Owner:          r.owner,
		DnsDomains:     r.dnsDomains,
		ActiveGalaxies: r.activeGalaxies,
	}
}

// Restore rebuilds a registry from persisted records.
func Restore(meta Meta, points map[uint32]*point.Point, indexes map[IndexKey][]uint32, journal *types.Journal) *Registry {
	r := New(meta.Address, meta.Owner, journal)
	r.dnsDomains = meta.DnsDomains
	r.activeGalaxies = meta.ActiveGalaxies
	for p, pt := range points {
		r.points[p] = pt.Clone()
	}
	for k, items := range indexes {
		r.indexes[k] = restoreIndexSet(items)
	}
	r.dirtyMeta = false
	return r
}

// Changes lists what was modified since the last ClearChanges, in a
// deterministic order.
type Changes struct {
	Meta    *Meta
	Points  []uint32
	Indexes []IndexKey
}

func (r *Registry) Changes() (c Changes) {
	if r.dirtyMeta {
		m := r.Meta()
		c.Meta = &m
	}
	c.Points = make([]uint32, 0, len(r.dirtyPoints))
	for p := range r.dirtyPoints {
		c.Points = append(c.Points, p)
	}
	sort.Slice(c.Points, func(i, j int) bool { return c.Points[i] < c.Points[j] })
	c.Indexes = make([]IndexKey, 0, len(r.dirtyIndexes))
	for k := range r.dirtyIndexes {
		c.Indexes = append(c.Indexes, k)
	}
	sort.Slice(c.Indexes, func(i, j int) bool { return lessIndexKey(c.Indexes[i], c.Indexes[j]) })
	return
}

func (r *Registry) ClearChanges() {
	r.dirtyMeta = false
	r.dirtyPoints = make(map[uint32]struct{})
	r.dirtyIndexes = make(map[IndexKey]struct{})
}

func lessIndexKey(a, b IndexKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Role != b.Role {
		return a.Role < b.Role
	}
	if c := a.Address.Cmp(b.Address); c != 0 {
		return c < 0
	}
	return a.Point < b.Point
}
