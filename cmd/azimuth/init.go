package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/config"
	"github.com/urbit/azimuth/types"
)

type printInfo struct {
	Moniker    string          `json:"moniker" yaml:"moniker"`
	ChainID    string          `json:"chain_id" yaml:"chain_id"`
	NodeID     string          `json:"node_id" yaml:"node_id"`
	Owner      string          `json:"owner" yaml:"owner"`
	AppMessage json.RawMessage `json:"app_message" yaml:"app_message"`
}

func displayInfo(info printInfo) error {
	out, err := json.MarshalIndent(info, "", " ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stderr, "%s\n", out)

	return err
}

type initArguments struct {
	Home         string
	ChainID      string
	Overwrite    bool
	Galaxies     []uint
	PollDuration time.Duration
	PollCooldown time.Duration
}

var initArgs initArguments

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize private validator, p2p, genesis, owner key and application configuration files",
	Long: `Initialize the node's configuration files and a single validator genesis.
The owner key is created unless present; it owns the first controller and
every galaxy listed with --galaxies.`,
	Args: cobra.ExactArgs(0),
	RunE: initRun,
}

func init() {
	homeFlag(initCmd, &initArgs.Home)
	initCmd.Flags().BoolVarP(&initArgs.Overwrite, types.FlagOverwrite, "o", false, "overwrite the genesis.json file")
	initCmd.Flags().StringVar(&initArgs.ChainID, types.FlagChainID, "", "genesis file chain-id, if left blank will be randomly created")
	initCmd.Flags().UintSliceVar(&initArgs.Galaxies, types.FlagGalaxies, nil, "galaxies created for the owner at genesis")
	initCmd.Flags().DurationVar(&initArgs.PollDuration, "poll-duration", time.Duration(types.DefaultPollDuration)*time.Second, "senate poll duration")
	initCmd.Flags().DurationVar(&initArgs.PollCooldown, "poll-cooldown", time.Duration(types.DefaultPollCooldown)*time.Second, "senate poll cooldown")
}

func initRun(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig(initArgs.Home)
	chainID := initArgs.ChainID
	if chainID == "" {
		chainID = fmt.Sprintf("azimuth-%v", rand.Uint64())
	}

	genFile := cfg.GenesisFile()
	if _, err := os.Stat(genFile); err == nil && !initArgs.Overwrite {
		return fmt.Errorf("genesis file %v exists, use --%v to replace it", genFile, types.FlagOverwrite)
	}

	nodeID, pk, err := config.InitializeNodeValidatorFiles(cfg, nil)
	if err != nil {
		return err
	}
	owner, err := config.InitializeOwner(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("owner key: %w", err)
	}

	appState := types.DefaultAppState(owner.Address())
	appState.PollDuration = uint64(initArgs.PollDuration / time.Second)
	appState.PollCooldown = uint64(initArgs.PollCooldown / time.Second)
	for _, g := range initArgs.Galaxies {
		if g > 0xff {
			return fmt.Errorf("%v is not a galaxy", g)
		}
		appState.Galaxies = append(appState.Galaxies, types.GenesisGalaxy{Point: uint32(g), Owner: owner.Address()})
	}
	if err := appState.Validate(); err != nil {
		return err
	}
	appStateJSON, err := json.Marshal(appState)
	if err != nil {
		return err
	}

	appGenesis := &types.GenesisDoc{
		GenesisTime:     time.Now(),
		ChainID:         chainID,
		ConsensusParams: cmttypes.DefaultConsensusParams(),
		InitialHeight:   1,
		Validators: []types.GenesisValidator{
			{Address: pk.Address(), PubKey: pk, Power: types.DefaultPower},
		},
		AppState: appStateJSON,
	}
	if err = types.ExportGenesisFile(appGenesis, genFile); err != nil {
		return fmt.Errorf("failed to export genesis file: %w", err)
	}
	config.WriteConfigFile(filepath.Join(cfg.RootDir, "config", config.CometConfigFile), cfg)
	return displayInfo(printInfo{
		Moniker:    cfg.Moniker,
		ChainID:    chainID,
		NodeID:     nodeID,
		Owner:      owner.Address().Hex(),
		AppMessage: appGenesis.AppState,
	})
}
