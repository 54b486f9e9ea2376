package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/types"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	other = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func newRegistry() (*Registry, *types.Journal) {
	j := types.NewJournal()
	return New(common.HexToAddress("0x01"), owner, j), j
}

func eventTypes(j *types.Journal) []string {
	res := []string{}
	for _, ev := range j.Drain() {
		res = append(res, ev.Type)
	}
	return res
}

func TestOnlyOwnerMutates(t *testing.T) {
	r, j := newRegistry()
	calls := []func() error{
		func() error { return r.SetOwner(user, 0, user) },
		func() error { return r.Activate(user, 0) },
		func() error { return r.RegisterSpawned(user, 256) },
		func() error { return r.SetKeys(user, 0, common.Hash{1}, common.Hash{2}, 1) },
		func() error { return r.IncrementContinuity(user, 0) },
		func() error { return r.SetManagementProxy(user, 0, user) },
		func() error { return r.RequestEscape(user, 256, 1) },
		func() error { return r.CancelEscape(user, 256) },
		func() error { return r.LoseSponsor(user, 256) },
		func() error { return r.AcceptEscape(user, 256) },
		func() error { return r.SetDnsDomains(user, "a", "b", "c") },
		func() error { return r.TransferOwnership(user, user) },
	}
	for i, call := range calls {
		err := call()
		require.Error(t, err, "call %d", i)
		assert.True(t, errors.Is(err, types.ErrUnauthorized), "call %d: %v", i, err)
	}
	assert.Zero(t, j.Len())
	assert.Nil(t, r.Point(0))
}

func TestOwnerAndOwnedPoints(t *testing.T) {
	r, j := newRegistry()
	require.NoError(t, r.SetOwner(owner, 0, user))
	assert.Equal(t, []string{types.EventOwnerChangedType}, eventTypes(j))
	assert.True(t, r.IsOwner(0, user))
	assert.False(t, r.IsOwner(0, owner))

	require.NoError(t, r.SetOwner(owner, 0, user))
	assert.Empty(t, eventTypes(j))

	require.NoError(t, r.SetOwner(owner, 1, user))
	require.NoError(t, r.SetOwner(owner, 2, user))
	assert.Equal(t, []uint32{0, 1, 2}, r.GetOwnedPoints(user))
	p, err := r.GetOwnedPointAtIndex(user, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p)
	_, err = r.GetOwnedPointAtIndex(user, 3)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	require.NoError(t, r.SetOwner(owner, 0, owner))
	assert.Equal(t, []uint32{2, 1}, r.GetOwnedPoints(user))
	require.NoError(t, r.SetOwner(owner, 2, owner))
	assert.Equal(t, []uint32{1}, r.GetOwnedPoints(user))
	assert.Equal(t, 1, r.GetOwnedPointCount(user))
	assert.Equal(t, []uint32{0, 2}, r.GetOwnedPoints(owner))

	// clearing the owner never indexes the zero address
	require.NoError(t, r.SetOwner(owner, 1, common.Address{}))
	assert.Empty(t, r.GetOwnedPoints(common.Address{}))
	assert.Empty(t, r.GetOwnedPoints(user))
}

func TestActivateAndSpawned(t *testing.T) {
	r, j := newRegistry()
	require.NoError(t, r.Activate(owner, 0))
	assert.Equal(t, []string{types.EventActivatedType}, eventTypes(j))
	assert.Equal(t, uint16(1), r.ActiveGalaxyCount())
	assert.True(t, r.IsSponsor(0, 0))

	require.NoError(t, r.Activate(owner, 257))
	assert.Equal(t, []string{types.EventActivatedType, types.EventSpawnedType}, eventTypes(j))
	assert.True(t, r.IsActive(257))
	assert.Equal(t, uint32(1), r.GetSponsor(257))
	assert.True(t, r.HasSponsor(257))
	assert.True(t, r.IsSponsor(257, 1))
	assert.Equal(t, uint32(1), r.GetSpawnCount(1))
	assert.Equal(t, []uint32{257}, r.GetSpawned(1))

	err := r.Activate(owner, 257)
	assert.True(t, errors.Is(err, types.ErrInvalidState))
	assert.Empty(t, eventTypes(j))

	// re-registering a counted child or a galaxy is a no-op
	require.NoError(t, r.RegisterSpawned(owner, 257))
	require.NoError(t, r.RegisterSpawned(owner, 1))
	assert.Empty(t, eventTypes(j))
	assert.Equal(t, uint32(1), r.GetSpawnCount(1))

	require.NoError(t, r.Activate(owner, 513))
	require.NoError(t, r.Activate(owner, 769))
	assert.Equal(t, []uint32{257, 513, 769}, r.GetSponsoring(1))
	assert.Equal(t, uint32(3), r.GetSpawnCount(1))
	assert.Equal(t, uint16(1), r.ActiveGalaxyCount())
}

func TestSponsorshipAndEscapes(t *testing.T) {
	r, j := newRegistry()
	for _, p := range []uint32{257, 513, 769} {
		require.NoError(t, r.Activate(owner, p))
	}
	j.Drain()

	pos, ok := r.IndexPosition(SponsoringKey(1), 257)
	require.True(t, ok)
	assert.Equal(t, 0, pos)

	require.NoError(t, r.LoseSponsor(owner, 257))
	assert.Equal(t, []string{types.EventLostSponsorType}, eventTypes(j))
	assert.False(t, r.HasSponsor(257))
	assert.False(t, r.IsSponsor(257, 1))
	assert.Equal(t, uint32(1), r.GetSponsor(257))
	require.NoError(t, r.LoseSponsor(owner, 257))
	assert.Empty(t, eventTypes(j))
	assert.Equal(t, []uint32{769, 513}, r.GetSponsoring(1))
	_, ok = r.IndexPosition(SponsoringKey(1), 257)
	assert.False(t, ok)
	require.NoError(t, r.LoseSponsor(owner, 769))
	assert.Equal(t, []uint32{513}, r.GetSponsoring(1))
	j.Drain()

	require.NoError(t, r.RequestEscape(owner, 257, 2))
	assert.Equal(t, []string{types.EventEscapeRequestedType}, eventTypes(j))
	assert.True(t, r.IsRequestingEscapeTo(257, 2))
	assert.True(t, r.IsEscaping(257))
	assert.Equal(t, uint32(2), r.GetEscapeRequest(257))
	require.NoError(t, r.RequestEscape(owner, 257, 2))
	assert.Empty(t, eventTypes(j))

	require.NoError(t, r.RequestEscape(owner, 513, 2))
	require.NoError(t, r.RequestEscape(owner, 769, 2))
	assert.Equal(t, []uint32{257, 513, 769}, r.GetEscapeRequests(2))
	j.Drain()

	require.NoError(t, r.CancelEscape(owner, 257))
	assert.Equal(t, []string{types.EventEscapeCanceledType}, eventTypes(j))
	assert.False(t, r.IsEscaping(257))
	require.NoError(t, r.CancelEscape(owner, 257))
	assert.Empty(t, eventTypes(j))
	assert.Equal(t, []uint32{769, 513}, r.GetEscapeRequests(2))
	require.NoError(t, r.CancelEscape(owner, 769))

	err := r.AcceptEscape(owner, 257)
	assert.True(t, errors.Is(err, types.ErrInvalidState))

	require.NoError(t, r.RequestEscape(owner, 257, 2))
	j.Drain()
	require.NoError(t, r.AcceptEscape(owner, 257))
	assert.Equal(t, []string{types.EventEscapeAcceptedType}, eventTypes(j))
	assert.False(t, r.IsRequestingEscapeTo(257, 2))
	assert.Equal(t, uint32(2), r.GetSponsor(257))
	assert.True(t, r.IsSponsor(257, 2))
	assert.Equal(t, []uint32{257}, r.GetSponsoring(2))
	assert.Equal(t, []uint32{513}, r.GetEscapeRequests(2))

	// moving a request to another sponsor leaves the old index
	require.NoError(t, r.RequestEscape(owner, 513, 3))
	assert.Empty(t, r.GetEscapeRequests(2))
	assert.Equal(t, []uint32{513}, r.GetEscapeRequests(3))

	// accepting while sponsored removes the point from the old sponsor
	require.NoError(t, r.RequestEscape(owner, 257, 4))
	require.NoError(t, r.AcceptEscape(owner, 257))
	assert.Empty(t, r.GetSponsoring(2))
	assert.Equal(t, []uint32{257}, r.GetSponsoring(4))
}

func TestKeysAndContinuity(t *testing.T) {
	r, j := newRegistry()
	k := r.GetKeys(0)
	assert.Equal(t, uint32(0), k.Revision)
	assert.False(t, r.IsLive(0))

	require.NoError(t, r.SetKeys(owner, 0, common.Hash{10}, common.Hash{11}, 2))
	assert.Equal(t, []string{types.EventChangedKeysType}, eventTypes(j))
	k = r.GetKeys(0)
	assert.Equal(t, common.Hash{10}, k.Crypt)
	assert.Equal(t, common.Hash{11}, k.Auth)
	assert.Equal(t, uint32(2), k.Suite)
	assert.Equal(t, uint32(1), k.Revision)
	assert.True(t, r.IsLive(0))

	require.NoError(t, r.SetKeys(owner, 0, common.Hash{10}, common.Hash{11}, 2))
	assert.Empty(t, eventTypes(j))
	assert.Equal(t, uint32(1), r.GetKeyRevision(0))

	require.NoError(t, r.SetKeys(owner, 0, common.Hash{}, common.Hash{}, 0))
	assert.Equal(t, uint32(2), r.GetKeyRevision(0))
	assert.False(t, r.IsLive(0))

	require.NoError(t, r.IncrementContinuity(owner, 0))
	require.NoError(t, r.IncrementContinuity(owner, 0))
	assert.Equal(t, uint32(2), r.GetContinuity(0))
	assert.Equal(t, []string{types.EventChangedKeysType, types.EventBrokeContinuityType, types.EventBrokeContinuityType}, eventTypes(j))
}

func TestProxies(t *testing.T) {
	r, j := newRegistry()
	setters := map[point.ProxyRole]func(common.Address, uint32, common.Address) error{
		point.Management: r.SetManagementProxy,
		point.Voting:     r.SetVotingProxy,
		point.Spawn:      r.SetSpawnProxy,
		point.Transfer:   r.SetTransferProxy,
	}
	for role, set := range setters {
		require.NoError(t, set(owner, 0, user))
		require.NoError(t, set(owner, 1, user))
		assert.True(t, r.IsProxy(role, 0, user))
		assert.Equal(t, []uint32{0, 1}, r.GetDelegated(role, user))
		assert.Equal(t, []string{types.EventChangedProxyType, types.EventChangedProxyType}, eventTypes(j))

		require.NoError(t, set(owner, 0, user))
		assert.Empty(t, eventTypes(j))

		require.NoError(t, set(owner, 0, other))
		assert.Equal(t, []uint32{1}, r.GetDelegated(role, user))
		assert.Equal(t, []uint32{0}, r.GetDelegated(role, other))

		require.NoError(t, set(owner, 0, common.Address{}))
		assert.Empty(t, r.GetDelegated(role, other))
		assert.Empty(t, r.GetDelegated(role, common.Address{}))
		assert.Equal(t, common.Address{}, r.GetProxy(role, 0))
		j.Drain()
	}
	assert.True(t, r.IsManagementProxy(1, user))
	assert.True(t, r.IsVotingProxy(1, user))
	assert.True(t, r.IsSpawnProxy(1, user))
	assert.True(t, r.IsTransferProxy(1, user))
}

func TestCanManageAndVote(t *testing.T) {
	r, _ := newRegistry()
	require.NoError(t, r.SetOwner(owner, 0, user))
	require.NoError(t, r.SetVotingProxy(owner, 0, other))
	assert.False(t, r.CanVoteAs(0, user))
	require.NoError(t, r.Activate(owner, 0))
	assert.True(t, r.CanVoteAs(0, user))
	assert.True(t, r.CanVoteAs(0, other))
	assert.False(t, r.CanVoteAs(0, owner))
	assert.False(t, r.CanVoteAs(0, common.Address{}))

	require.NoError(t, r.SetOwner(owner, 256, user))
	require.NoError(t, r.Activate(owner, 256))
	assert.False(t, r.CanVoteAs(256, user))

	require.NoError(t, r.SetManagementProxy(owner, 256, other))
	assert.True(t, r.CanManage(256, user))
	assert.True(t, r.CanManage(256, other))
	assert.False(t, r.CanManage(256, owner))
	assert.False(t, r.CanManage(300, common.Address{}))
}

func TestDnsAndOwnership(t *testing.T) {
	r, j := newRegistry()
	require.NoError(t, r.SetDnsDomains(owner, "new1", "new2", "new3"))
	assert.Equal(t, [3]string{"new1", "new2", "new3"}, r.DnsDomains())
	require.NoError(t, r.SetDnsDomains(owner, "new1", "new2", "new3"))
	assert.Equal(t, []string{types.EventChangedDnsType}, eventTypes(j))

	err := r.TransferOwnership(owner, common.Address{})
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	require.NoError(t, r.TransferOwnership(owner, user))
	assert.Equal(t, user, r.Owner())
	err = r.SetOwner(owner, 0, owner)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
	require.NoError(t, r.SetOwner(user, 0, owner))
}

func TestChangesAndRestore(t *testing.T) {
	r, _ := newRegistry()
	require.NoError(t, r.SetOwner(owner, 0, user))
	require.NoError(t, r.Activate(owner, 0))
	require.NoError(t, r.SetOwner(owner, 256, user))
	require.NoError(t, r.Activate(owner, 256))

	c := r.Changes()
	require.NotNil(t, c.Meta)
	assert.Equal(t, []uint32{0, 256}, c.Points)
	assert.Equal(t, []IndexKey{OwnedKey(user), SponsoringKey(0), SpawnedKey(0)}, c.Indexes)

	r.ClearChanges()
	c = r.Changes()
	assert.Nil(t, c.Meta)
	assert.Empty(t, c.Points)
	assert.Empty(t, c.Indexes)

	points := map[uint32]*point.Point{0: r.Point(0), 256: r.Point(256)}
	indexes := map[IndexKey][]uint32{
		OwnedKey(user):   r.GetOwnedPoints(user),
		SponsoringKey(0): r.GetSponsoring(0),
		SpawnedKey(0):    r.GetSpawned(0),
	}
	n := Restore(r.Meta(), points, indexes, nil)
	assert.Equal(t, r.Meta(), n.Meta())
	assert.Equal(t, []uint32{0, 256}, n.GetOwnedPoints(user))
	assert.Equal(t, []uint32{0, 256}, n.GetSponsoring(0))
	assert.Equal(t, uint32(1), n.GetSpawnCount(0))
	assert.Nil(t, n.Changes().Meta)

	// clones do not share records
	cl := n.Clone(nil)
	require.NoError(t, cl.SetOwner(owner, 0, other))
	assert.True(t, n.IsOwner(0, user))
	assert.Equal(t, []uint32{0, 256}, n.GetOwnedPoints(user))
}

func TestCloneChainLeavesAncestorsIntact(t *testing.T) {
	r, _ := newRegistry()
	require.NoError(t, r.SetOwner(owner, 0, user))
	require.NoError(t, r.Activate(owner, 0))
	r.ClearChanges()

	// each generation spawns one star and moves galaxy 0 back and forth
	gens := []*Registry{r}
	for i := 1; i <= 3*maxLayers; i++ {
		n := gens[i-1].Clone(nil)
		star := uint32(i) << 8
		require.NoError(t, n.Activate(owner, star))
		require.NoError(t, n.SetOwner(owner, star, user))
		next := user
		if i%2 == 1 {
			next = other
		}
		require.NoError(t, n.SetOwner(owner, 0, next))
		assert.Equal(t, []uint32{0, star}, n.Changes().Points)
		n.ClearChanges()
		assert.LessOrEqual(t, n.depth, maxLayers)
		gens = append(gens, n)
	}

	for i, g := range gens {
		assert.Equal(t, uint32(i), g.GetSpawnCount(0), "generation %d", i)
		// galaxy 0 sponsors itself
		assert.Len(t, g.GetSponsoring(0), i+1)
		want := user
		if i%2 == 1 {
			want = other
		}
		assert.Equal(t, want, g.GetOwner(0), "generation %d", i)
		if i > 0 {
			assert.False(t, gens[i-1].IsActive(uint32(i)<<8))
			assert.True(t, g.IsActive(uint32(i)<<8))
		}
	}
	last := gens[len(gens)-1]
	assert.Equal(t, 3*maxLayers+1, last.GetOwnedPointCount(user)+last.GetOwnedPointCount(other))
}
