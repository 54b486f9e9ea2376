package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cometbft/cometbft/crypto"
	cmtjson "github.com/cometbft/cometbft/libs/json"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultPollDuration uint64 = 30 * 24 * 60 * 60
	DefaultPollCooldown uint64 = 30 * 24 * 60 * 60
)

// GenesisGalaxy is a galaxy created by the first controller at InitChain.
// When Owner differs from the chain owner the galaxy is left as a pending
// transfer to Owner.
type GenesisGalaxy struct {
	Point uint32         `json:"point"`
	Owner common.Address `json:"owner"`
}

// AppState is the app_state section of the genesis document.
type AppState struct {
	Owner        common.Address  `json:"owner"`
	PollDuration uint64          `json:"poll_duration"`
	PollCooldown uint64          `json:"poll_cooldown"`
	DnsDomains   [3]string       `json:"dns_domains"`
	Galaxies     []GenesisGalaxy `json:"galaxies"`
}

func DefaultAppState(owner common.Address) *AppState {
	return &AppState{
		Owner:        owner,
		PollDuration: DefaultPollDuration,
		PollCooldown: DefaultPollCooldown,
		DnsDomains:   [3]string{"urbit.org", "urbit.org", "urbit.org"},
		Galaxies:     []GenesisGalaxy{},
	}
}

func (s *AppState) Validate() error {
	if s.Owner == (common.Address{}) {
		return errors.New("genesis app_state must include an owner")
	}
	seen := make(map[uint32]bool)
	for _, g := range s.Galaxies {
		if g.Point > 255 {
			return fmt.Errorf("genesis galaxy %v is not a galaxy", g.Point)
		}
		if seen[g.Point] {
			return fmt.Errorf("genesis galaxy %v listed twice", g.Point)
		}
		if g.Owner == (common.Address{}) {
			return fmt.Errorf("genesis galaxy %v has no owner", g.Point)
		}
		seen[g.Point] = true
	}
	return nil
}

func ParseAppState(dat []byte) (*AppState, error) {
	var s AppState
	if err := json.Unmarshal(dat, &s); err != nil {
		return nil, err
	}
	if s.PollDuration == 0 {
		s.PollDuration = DefaultPollDuration
	}
	if s.PollCooldown == 0 {
		s.PollCooldown = DefaultPollCooldown
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

type GenesisValidator struct {
	Address crypto.Address `json:"address"`
	PubKey  crypto.PubKey  `json:"pub_key"`
	Power   int64          `json:"power"`
	Name    string         `json:"name"`
}

// GenesisDoc defines the initial conditions for a CometBFT blockchain, in particular its validator set.
type GenesisDoc struct {
	GenesisTime     time.Time                 `json:"genesis_time"`
	ChainID         string                    `json:"chain_id"`
	InitialHeight   int64                     `json:"initial_height"`
	ConsensusParams *cmttypes.ConsensusParams `json:"consensus_params,omitempty"`
	Validators      []GenesisValidator        `json:"validators"`
	AppHash         []byte                    `json:"app_hash"`
	AppState        json.RawMessage           `json:"app_state"`
}

// SaveAs is a utility method for saving GenensisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := cmtjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, genDocBytes, 0o600)
}

func (ag *GenesisDoc) ValidateAndComplete() error {
	if ag.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}

	if ag.InitialHeight < 0 {
		return fmt.Errorf("initial_height cannot be negative (got %v)", ag.InitialHeight)
	}

	if ag.InitialHeight == 0 {
		ag.InitialHeight = 1
	}

	if ag.GenesisTime.IsZero() {
		ag.GenesisTime = time.Now().Round(0).UTC()
	}

	return nil
}

func ExportGenesisFile(genesis *GenesisDoc, genFile string) error {
	if err := genesis.ValidateAndComplete(); err != nil {
		return err
	}
	return genesis.SaveAs(genFile)
}

const ModuleName = "azimuth"
const DefaultPower = 1000
