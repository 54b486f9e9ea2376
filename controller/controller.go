// Package controller is the governance layer. A Controller is the sole
// authorized mutator of one registry and one polls engine; it carries the
// caller policy and the hierarchy rules, and it drives the upgrade protocol
// that hands both leaves to a successor controller.
package controller

import (
	"fmt"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/polls"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

const ContractName = "controller"

// Env resolves the contracts a controller talks to and supplies the block
// clock. The state implements it.
type Env interface {
	Registry(addr common.Address) (*registry.Registry, error)
	Polls(addr common.Address) (*polls.Polls, error)
	Controller(addr common.Address) (*Controller, error)
	Now() time.Time
	Emit(ev abcitypes.Event)
}

// Controller is the persisted record of one deployed controller. There is
// no retired flag: a controller is retired once it no longer owns its
// registry and polls engine.
type Controller struct {
	Address  common.Address `json:"address"`
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
	Registry common.Address `json:"registry"`
	Polls    common.Address `json:"polls"`

	env   Env
	dirty bool
}

func New(address, previous, owner, reg, pol common.Address) *Controller {
	return &Controller{
		Address:  address,
		Previous: previous,
		Owner:    owner,
		Registry: reg,
		Polls:    pol,
		dirty:    true,
	}
}

// Bind attaches the environment the controller resolves its leaves from.
func (c *Controller) Bind(env Env) *Controller {
	c.env = env
	return c
}

// Clone copies the record without its environment.
func (c *Controller) Clone() *Controller {
	n := *c
	n.env = nil
	return &n
}

func (c *Controller) Dirty() bool {
	return c.dirty
}

func (c *Controller) ClearDirty() {
	c.dirty = false
}

func (c *Controller) leaves() (*registry.Registry, *polls.Polls, error) {
	if c.env == nil {
		return nil, nil, fmt.Errorf("controller %v is not bound", c.Address.Hex())
	}
	reg, err := c.env.Registry(c.Registry)
	if err != nil {
		return nil, nil, err
	}
	pol, err := c.env.Polls(c.Polls)
	if err != nil {
		return nil, nil, err
	}
	return reg, pol, nil
}

// ready resolves both leaves and checks, against their current owners, that
// this controller may still mutate them.
func (c *Controller) ready() (*registry.Registry, *polls.Polls, error) {
	reg, pol, err := c.leaves()
	if err != nil {
		return nil, nil, err
	}
	if reg.Owner() != c.Address || pol.Owner() != c.Address {
		return nil, nil, fmt.Errorf("%w: controller %v no longer owns its registry and polls", types.ErrUnauthorized, c.Address.Hex())
	}
	return reg, pol, nil
}

// Retired reports whether the controller lost ownership of its leaves.
func (c *Controller) Retired() bool {
	_, _, err := c.ready()
	return err != nil
}

func (c *Controller) onlyOwner(caller common.Address) error {
	if caller != c.Owner {
		return fmt.Errorf("%w: %v is not the controller owner", types.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (c *Controller) TransferOwnership(caller, newOwner common.Address) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if _, _, err := c.ready(); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", types.ErrInvalidArgument)
	}
	prev := c.Owner
	c.Owner = newOwner
	c.dirty = true
	c.env.Emit(types.EncodeEventOwnershipTransferred(&types.EventOwnershipTransferred{
		Contract: ContractName,
		Previous: prev,
		Owner:    newOwner,
	}))
	return nil
}

func (c *Controller) SetDnsDomains(caller common.Address, primary, secondary, tertiary string) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	reg, _, err := c.ready()
	if err != nil {
		return err
	}
	return reg.SetDnsDomains(c.Address, primary, secondary, tertiary)
}

func (c *Controller) ReconfigurePolls(caller common.Address, duration, cooldown time.Duration) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	_, pol, err := c.ready()
	if err != nil {
		return err
	}
	return pol.Reconfigure(c.Address, duration, cooldown)
}

// OnUpgrade is called by the previous controller once it handed over the
// registry and the polls engine.
func (c *Controller) OnUpgrade(caller common.Address) error {
	if c.Previous == (common.Address{}) || caller != c.Previous {
		return fmt.Errorf("%w: only %v may upgrade to %v", types.ErrUnauthorized, c.Previous.Hex(), c.Address.Hex())
	}
	reg, pol, err := c.leaves()
	if err != nil {
		return err
	}
	if reg.Owner() != c.Address || pol.Owner() != c.Address {
		return fmt.Errorf("%w: %v was not handed the registry and polls", types.ErrInvalidState, c.Address.Hex())
	}
	c.env.Emit(types.EncodeEventUpgraded(&types.EventUpgraded{From: caller, To: c.Address}))
	return nil
}

// successor resolves an upgrade candidate and checks that it continues the
// chain from this controller.
func (c *Controller) successor(candidate common.Address) (*Controller, error) {
	next, err := c.env.Controller(candidate)
	if err != nil {
		return nil, err
	}
	if next.Previous != c.Address {
		return nil, fmt.Errorf("%w: candidate %v does not follow %v", types.ErrInvalidState, candidate.Hex(), c.Address.Hex())
	}
	if next.Registry != c.Registry || next.Polls != c.Polls {
		return nil, fmt.Errorf("%w: candidate %v is bound to other contracts", types.ErrInvalidState, candidate.Hex())
	}
	return next, nil
}

// upgrade hands both leaves to the candidate and runs its hook. Every
// precondition was checked before the majority vote was recorded.
func (c *Controller) upgrade(reg *registry.Registry, pol *polls.Polls, candidate common.Address) error {
	next, err := c.successor(candidate)
	if err != nil {
		return err
	}
	if err := reg.TransferOwnership(c.Address, candidate); err != nil {
		return err
	}
	if err := pol.TransferOwnership(c.Address, candidate); err != nil {
		return err
	}
	return next.Bind(c.env).OnUpgrade(c.Address)
}
