package state

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urbit/azimuth/controller"
	"github.com/urbit/azimuth/polls"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

// Genesis contracts sit at fixed addresses derived from the zero deployer.
var (
	GenesisRegistry   = crypto.CreateAddress(common.Address{}, 0)
	GenesisPolls      = crypto.CreateAddress(common.Address{}, 1)
	GenesisController = crypto.CreateAddress(common.Address{}, 2)
)

// InitGenesis deploys the registry, the polls engine and the first
// controller, then creates the genesis galaxies through that controller.
func (s *State) InitGenesis(app *types.AppState, genesisTime time.Time) (err error) {
	if s.registry != nil {
		return fmt.Errorf("%w: genesis already applied", types.ErrInvalidState)
	}
	s.SetBlockTime(genesisTime)

	s.registry = registry.New(GenesisRegistry, GenesisController, s.journal)
	s.polls, err = polls.New(GenesisPolls, GenesisController,
		time.Duration(app.PollDuration)*time.Second,
		time.Duration(app.PollCooldown)*time.Second,
		s.journal)
	if err != nil {
		return
	}
	s.header.Registry = GenesisRegistry
	s.header.Polls = GenesisPolls

	c := controller.New(GenesisController, common.Address{}, app.Owner, GenesisRegistry, GenesisPolls).Bind(s)
	s.controllers[GenesisController] = c
	if err = c.SetDnsDomains(app.Owner, app.DnsDomains[0], app.DnsDomains[1], app.DnsDomains[2]); err != nil {
		return
	}
	for _, g := range app.Galaxies {
		if err = c.CreateGalaxy(app.Owner, g.Point, g.Owner); err != nil {
			return fmt.Errorf("genesis galaxy %d: %w", g.Point, err)
		}
	}
	s.logger.Info("genesis applied", "owner", app.Owner.Hex(), "galaxies", len(app.Galaxies))
	s.journal.Drain()
	return nil
}
