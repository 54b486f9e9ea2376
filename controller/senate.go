package controller

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

// voter checks that caller may vote as galaxy and returns its voter id.
func voter(reg *registry.Registry, galaxy uint32, caller common.Address) (uint8, error) {
	if point.SizeOf(galaxy) != point.Galaxy {
		return 0, fmt.Errorf("%w: %d is not a galaxy", types.ErrInvalidArgument, galaxy)
	}
	if !reg.CanVoteAs(galaxy, caller) {
		return 0, fmt.Errorf("%w: %v may not vote as %d", types.ErrUnauthorized, caller.Hex(), galaxy)
	}
	return uint8(galaxy), nil
}

func (c *Controller) StartDocumentPoll(caller common.Address, galaxy uint32, doc common.Hash) error {
	reg, pol, err := c.ready()
	if err != nil {
		return err
	}
	if _, err := voter(reg, galaxy, caller); err != nil {
		return err
	}
	return pol.StartDocumentPoll(c.Address, doc, c.env.Now())
}

// CastDocumentVote reports whether the vote brought the document to majority.
func (c *Controller) CastDocumentVote(caller common.Address, galaxy uint32, doc common.Hash, yes bool) (bool, error) {
	reg, pol, err := c.ready()
	if err != nil {
		return false, err
	}
	id, err := voter(reg, galaxy, caller)
	if err != nil {
		return false, err
	}
	return pol.CastDocumentVote(c.Address, id, doc, yes, reg.ActiveGalaxyCount(), c.env.Now())
}

// UpdateDocumentPoll may be called by anyone.
func (c *Controller) UpdateDocumentPoll(caller common.Address, doc common.Hash) (bool, error) {
	reg, pol, err := c.ready()
	if err != nil {
		return false, err
	}
	return pol.UpdateDocumentPoll(c.Address, doc, reg.ActiveGalaxyCount())
}

// StartUpgradePoll proposes candidate as the next controller. The candidate
// has to name this controller as its predecessor so that upgrades form a
// single chain.
func (c *Controller) StartUpgradePoll(caller common.Address, galaxy uint32, candidate common.Address) error {
	reg, pol, err := c.ready()
	if err != nil {
		return err
	}
	if _, err := voter(reg, galaxy, caller); err != nil {
		return err
	}
	if _, err := c.successor(candidate); err != nil {
		return err
	}
	return pol.StartUpgradePoll(c.Address, candidate, c.env.Now())
}

// CastUpgradeVote records the vote and performs the upgrade when it brings
// the candidate to majority.
func (c *Controller) CastUpgradeVote(caller common.Address, galaxy uint32, candidate common.Address, yes bool) (bool, error) {
	reg, pol, err := c.ready()
	if err != nil {
		return false, err
	}
	id, err := voter(reg, galaxy, caller)
	if err != nil {
		return false, err
	}
	if _, err := c.successor(candidate); err != nil {
		return false, err
	}
	majority, err := pol.CastUpgradeVote(c.Address, id, candidate, yes, reg.ActiveGalaxyCount(), c.env.Now())
	if err != nil || !majority {
		return false, err
	}
	return true, c.upgrade(reg, pol, candidate)
}

func (c *Controller) UpdateUpgradePoll(caller common.Address, candidate common.Address) (bool, error) {
	reg, pol, err := c.ready()
	if err != nil {
		return false, err
	}
	if _, err := c.successor(candidate); err != nil {
		return false, err
	}
	majority, err := pol.UpdateUpgradePoll(c.Address, candidate, reg.ActiveGalaxyCount())
	if err != nil || !majority {
		return false, err
	}
	return true, c.upgrade(reg, pol, candidate)
}
