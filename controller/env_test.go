package controller

import (
	"fmt"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/urbit/azimuth/polls"
	"github.com/urbit/azimuth/registry"
	"github.com/urbit/azimuth/types"
)

const day = 24 * time.Hour

var (
	registryAddr = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	pollsAddr    = common.HexToAddress("0x0000000000000000000000000000000000000e02")
	firstAddr    = common.HexToAddress("0x0000000000000000000000000000000000000c01")

	deployer = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	mallory  = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	crypt = common.HexToHash("0x0101")
	auth  = common.HexToHash("0x0202")
)

type memEnv struct {
	reg         *registry.Registry
	pol         *polls.Polls
	controllers map[common.Address]*Controller
	journal     *types.Journal
	now         time.Time
}

func (e *memEnv) Registry(addr common.Address) (*registry.Registry, error) {
	if addr != e.reg.Address() {
		return nil, fmt.Errorf("%w: registry %v", types.ErrNotFound, addr.Hex())
	}
	return e.reg, nil
}

func (e *memEnv) Polls(addr common.Address) (*polls.Polls, error) {
	if addr != e.pol.Address() {
		return nil, fmt.Errorf("%w: polls %v", types.ErrNotFound, addr.Hex())
	}
	return e.pol, nil
}

func (e *memEnv) Controller(addr common.Address) (*Controller, error) {
	c, ok := e.controllers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: controller %v", types.ErrNotFound, addr.Hex())
	}
	return c, nil
}

func (e *memEnv) Now() time.Time {
	return e.now
}

func (e *memEnv) Emit(ev abcitypes.Event) {
	e.journal.Emit(ev)
}

func (e *memEnv) deploy(addr, previous common.Address) *Controller {
	c := New(addr, previous, deployer, registryAddr, pollsAddr).Bind(e)
	e.controllers[addr] = c
	return c
}

func newEnv(t *testing.T) (*memEnv, *Controller) {
	t.Helper()
	j := types.NewJournal()
	pol, err := polls.New(pollsAddr, firstAddr, 30*day, 30*day, j)
	require.NoError(t, err)
	env := &memEnv{
		reg:         registry.New(registryAddr, firstAddr, j),
		pol:         pol,
		controllers: make(map[common.Address]*Controller),
		journal:     j,
		now:         time.Unix(spawnEpoch, 0).Add(100 * day),
	}
	return env, env.deploy(firstAddr, common.Address{})
}

// galaxy creates g for owner and gives it keys.
func galaxy(t *testing.T, c *Controller, g uint32, owner common.Address) {
	t.Helper()
	require.NoError(t, c.CreateGalaxy(deployer, g, deployer))
	if owner != deployer {
		require.NoError(t, c.TransferPoint(deployer, g, owner, false))
	}
	require.NoError(t, c.ConfigureKeys(owner, g, crypt, auth, 1, false))
}

func eventTypes(evs []abcitypes.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
