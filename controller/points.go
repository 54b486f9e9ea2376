package controller

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

// spawnEpoch is 2019-01-01T00:00:00Z, the start of star spawn limits.
const spawnEpoch = 1546300800

const spawnYear = 365 * 24 * time.Hour

// GetSpawnLimit is the number of children p may have spawned by time t.
// Galaxies may spawn all their stars; a star starts at 1024 planets and
// doubles every year until the limit is lifted in the sixth year.
func GetSpawnLimit(p uint32, t time.Time) uint32 {
	switch point.SizeOf(p) {
	case point.Galaxy:
		return 255
	case point.Star:
		var years int64
		if since := t.Sub(time.Unix(spawnEpoch, 0)); since > 0 {
			years = int64(since / spawnYear)
		}
		if years >= 6 {
			return 65535
		}
		return 1024 << uint(years)
	default:
		return 0
	}
}

// CreateGalaxy assigns an unowned galaxy. Granting it to oneself activates
// it right away; any other target has to claim it through the transfer
// proxy.
func (c *Controller) CreateGalaxy(caller common.Address, galaxy uint32, target common.Address) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if point.SizeOf(galaxy) != point.Galaxy {
		return fmt.Errorf("%w: %d is not a galaxy", types.ErrInvalidArgument, galaxy)
	}
	if target == (common.Address{}) {
		return fmt.Errorf("%w: zero target", types.ErrInvalidArgument)
	}
	if reg.IsActive(galaxy) || reg.GetOwner(galaxy) != (common.Address{}) {
		return fmt.Errorf("%w: galaxy %d already exists", types.ErrInvalidState, galaxy)
	}

	if target == caller {
		if err := reg.Activate(c.Address, galaxy); err != nil {
			return err
		}
		if err := reg.SetOwner(c.Address, galaxy, target); err != nil {
			return err
		}
		c.emitTransfer(common.Address{}, target, galaxy)
		return nil
	}
	return c.hold(reg, galaxy, caller, target)
}

// Spawn activates a star or planet under its prefix.
func (c *Controller) Spawn(caller common.Address, p uint32, target common.Address) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	size := point.SizeOf(p)
	prefix := point.Prefix(p)
	if size == point.Galaxy || point.SizeOf(prefix)+1 != size {
		return fmt.Errorf("%w: %d cannot be spawned by %d", types.ErrInvalidArgument, p, prefix)
	}
	if target == (common.Address{}) {
		return fmt.Errorf("%w: zero target", types.ErrInvalidArgument)
	}
	prefixOwner := reg.GetOwner(prefix)
	if caller == (common.Address{}) || (caller != prefixOwner && !reg.IsSpawnProxy(prefix, caller)) {
		return fmt.Errorf("%w: %v may not spawn from %d", types.ErrUnauthorized, caller.Hex(), prefix)
	}
	if !reg.IsActive(prefix) || reg.GetKeyRevision(prefix) == 0 {
		return fmt.Errorf("%w: prefix %d is not active and linked", types.ErrInvalidState, prefix)
	}
	if reg.IsActive(p) || reg.GetOwner(p) != (common.Address{}) {
		return fmt.Errorf("%w: point %d already exists", types.ErrInvalidState, p)
	}
	if limit := GetSpawnLimit(prefix, c.env.Now()); reg.GetSpawnCount(prefix) >= limit {
		return fmt.Errorf("%w: %d reached its spawn limit of %d", types.ErrInvalidState, prefix, limit)
	}

	if err := reg.Activate(c.Address, p); err != nil {
		return err
	}
	if caller == prefixOwner {
		if err := reg.SetOwner(c.Address, p, target); err != nil {
			return err
		}
		c.emitTransfer(common.Address{}, target, p)
		return nil
	}
	return c.hold(reg, p, prefixOwner, target)
}

// hold gives p to holder with target approved to claim it.
func (c *Controller) hold(reg *registry.Registry, p uint32, holder, target common.Address) error {
	if err := reg.SetOwner(c.Address, p, holder); err != nil {
		return err
	}
	if err := reg.SetTransferProxy(c.Address, p, target); err != nil {
		return err
	}
	c.emitTransfer(common.Address{}, holder, p)
	c.env.Emit(types.EncodeEventApproval(&types.EventApproval{Owner: holder, Approved: target, Point: p}))
	return nil
}

func (c *Controller) emitTransfer(from, to common.Address, p uint32) {
	c.env.Emit(types.EncodeEventTransfer(&types.EventTransfer{From: from, To: to, Point: p}))
}

func (c *Controller) ConfigureKeys(caller common.Address, p uint32, crypt, auth common.Hash, suite uint32, discontinuous bool) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if err := activeManager(reg, p, caller); err != nil {
		return err
	}
	if err := reg.SetKeys(c.Address, p, crypt, auth, suite); err != nil {
		return err
	}
	if discontinuous {
		return reg.IncrementContinuity(c.Address, p)
	}
	return nil
}

// TransferPoint moves p to target. The transfer proxy is single use and is
// always cleared. With reset, the new owner starts from a clean slate.
func (c *Controller) TransferPoint(caller common.Address, p uint32, target common.Address, reset bool) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if target == (common.Address{}) {
		return fmt.Errorf("%w: zero target", types.ErrInvalidArgument)
	}
	if caller == (common.Address{}) || (!reg.IsOwner(p, caller) && !reg.IsTransferProxy(p, caller)) {
		return fmt.Errorf("%w: %v may not transfer %d", types.ErrUnauthorized, caller.Hex(), p)
	}

	if !reg.IsActive(p) {
		if err := reg.Activate(c.Address, p); err != nil {
			return err
		}
	}
	if from := reg.GetOwner(p); from != target {
		if err := reg.SetOwner(c.Address, p, target); err != nil {
			return err
		}
		c.emitTransfer(from, target, p)
	}
	if reset {
		if reg.GetKeyRevision(p) > 0 {
			if err := reg.SetKeys(c.Address, p, common.Hash{}, common.Hash{}, 0); err != nil {
				return err
			}
			if err := reg.IncrementContinuity(c.Address, p); err != nil {
				return err
			}
		}
		for _, role := range []point.ProxyRole{point.Management, point.Voting, point.Spawn} {
			if err := reg.SetProxy(c.Address, role, p, common.Address{}); err != nil {
				return err
			}
		}
		if err := reg.CancelEscape(c.Address, p); err != nil {
			return err
		}
	}
	return reg.SetTransferProxy(c.Address, p, common.Address{})
}

func (c *Controller) SetManagementProxy(caller common.Address, p uint32, proxy common.Address) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if err := activeOwner(reg, p, caller); err != nil {
		return err
	}
	return reg.SetManagementProxy(c.Address, p, proxy)
}

func (c *Controller) SetVotingProxy(caller common.Address, galaxy uint32, proxy common.Address) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if point.SizeOf(galaxy) != point.Galaxy {
		return fmt.Errorf("%w: only galaxies have voting proxies", types.ErrInvalidArgument)
	}
	if err := activeOwner(reg, galaxy, caller); err != nil {
		return err
	}
	return reg.SetVotingProxy(c.Address, galaxy, proxy)
}

func (c *Controller) SetSpawnProxy(caller common.Address, prefix uint32, proxy common.Address) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if point.SizeOf(prefix) == point.Planet {
		return fmt.Errorf("%w: planets cannot spawn", types.ErrInvalidArgument)
	}
	if err := activeOwner(reg, prefix, caller); err != nil {
		return err
	}
	return reg.SetSpawnProxy(c.Address, prefix, proxy)
}

// SetTransferProxy approves proxy to transfer p. The point need not be
// active, which is how a held galaxy or point gets claimed.
func (c *Controller) SetTransferProxy(caller common.Address, p uint32, proxy common.Address) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if caller == (common.Address{}) || !reg.IsOwner(p, caller) {
		return fmt.Errorf("%w: %v does not own %d", types.ErrUnauthorized, caller.Hex(), p)
	}
	if reg.IsTransferProxy(p, proxy) {
		return nil
	}
	if err := reg.SetTransferProxy(c.Address, p, proxy); err != nil {
		return err
	}
	c.env.Emit(types.EncodeEventApproval(&types.EventApproval{Owner: caller, Approved: proxy, Point: p}))
	return nil
}

func activeOwner(reg *registry.Registry, p uint32, caller common.Address) error {
	if caller == (common.Address{}) || !reg.IsOwner(p, caller) {
		return fmt.Errorf("%w: %v does not own %d", types.ErrUnauthorized, caller.Hex(), p)
	}
	if !reg.IsActive(p) {
		return fmt.Errorf("%w: point %d is not active", types.ErrInvalidState, p)
	}
	return nil
}

func activeManager(reg *registry.Registry, p uint32, caller common.Address) error {
	if !reg.CanManage(p, caller) {
		return fmt.Errorf("%w: %v may not manage %d", types.ErrUnauthorized, caller.Hex(), p)
	}
	if !reg.IsActive(p) {
		return fmt.Errorf("%w: point %d is not active", types.ErrInvalidState, p)
	}
	return nil
}
