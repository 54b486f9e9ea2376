package controller

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

// CanEscapeTo reports whether p may request sponsor as its new sponsor.
// The sponsor must be able to vouch for it: active, linked and with a full
// set of keys. It is either exactly one size up, or of the same size when p
// itself was never linked.
func (c *Controller) CanEscapeTo(p, sponsor uint32) (bool, error) {
	reg, _, err := c.leaves()
	if err != nil {
		return false, err
	}
	return canEscapeTo(reg, p, sponsor), nil
}

func canEscapeTo(reg *registry.Registry, p, sponsor uint32) bool {
	size := point.SizeOf(p)
	if size == point.Galaxy {
		return false
	}
	sp := reg.Point(sponsor)
	if sp == nil || !sp.Active || !sp.Linked() || !sp.Keys.Complete() {
		return false
	}
	sponsorSize := point.SizeOf(sponsor)
	return sponsorSize+1 == size || (sponsorSize == size && reg.GetKeyRevision(p) == 0)
}

func (c *Controller) Escape(caller common.Address, p, sponsor uint32) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if err := activeManager(reg, p, caller); err != nil {
		return err
	}
	if point.SizeOf(p) == point.Galaxy {
		return fmt.Errorf("%w: galaxies cannot escape", types.ErrInvalidArgument)
	}
	if !canEscapeTo(reg, p, sponsor) {
		return fmt.Errorf("%w: %d cannot escape to %d", types.ErrInvalidState, p, sponsor)
	}
	return reg.RequestEscape(c.Address, p, sponsor)
}

func (c *Controller) CancelEscape(caller common.Address, p uint32) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if err := activeManager(reg, p, caller); err != nil {
		return err
	}
	return reg.CancelEscape(c.Address, p)
}

// escapeTo returns the sponsor p asked for, if caller may answer for it.
func escapeTo(reg *registry.Registry, p uint32, caller common.Address) (uint32, error) {
	if !reg.IsEscaping(p) {
		return 0, fmt.Errorf("%w: point %d is not escaping", types.ErrInvalidState, p)
	}
	sponsor := reg.GetEscapeRequest(p)
	if err := activeManager(reg, sponsor, caller); err != nil {
		return 0, err
	}
	return sponsor, nil
}

func (c *Controller) Adopt(caller common.Address, p uint32) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if _, err := escapeTo(reg, p, caller); err != nil {
		return err
	}
	return reg.AcceptEscape(c.Address, p)
}

func (c *Controller) Reject(caller common.Address, p uint32) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if _, err := escapeTo(reg, p, caller); err != nil {
		return err
	}
	return reg.CancelEscape(c.Address, p)
}

// Detach lets a sponsor drop p without its consent.
func (c *Controller) Detach(caller common.Address, p uint32) error {
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	if !reg.HasSponsor(p) {
		return fmt.Errorf("%w: point %d has no sponsor", types.ErrInvalidState, p)
	}
	if err := activeManager(reg, reg.GetSponsor(p), caller); err != nil {
		return err
	}
	return reg.LoseSponsor(c.Address, p)
}
