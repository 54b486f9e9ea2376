package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cometbft/cometbft/config"
	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/spf13/viper"
	az_crypto "github.com/urbit/azimuth/crypto"
)

const (
	DefaultHomeDir   = "$HOME/.azimuth"
	OwnerKeyFile     = "owner_priv_key"
	AppConfigFile    = "app.toml"
	CometConfigFile  = "config.toml"
	DefaultApiAddr   = "127.0.0.1:8080"
	DefaultIndexerDB = "indexer.db"
)

// AppConfig is the [app] section of app.toml.
type AppConfig struct {
	Home      string `mapstructure:"-"`
	Indexer   bool   `mapstructure:"indexer"`
	IndexerDB string `mapstructure:"indexer_db"`
	ApiAddr   string `mapstructure:"api_addr"`
	Metrics   bool   `mapstructure:"metrics"`
}

func DefaultAppConfig(home string) *AppConfig {
	return &AppConfig{
		Home:      home,
		Indexer:   true,
		IndexerDB: DefaultIndexerDB,
		ApiAddr:   DefaultApiAddr,
		Metrics:   true,
	}
}

// IndexerPath resolves the indexer database relative to the home directory.
func (c *AppConfig) IndexerPath() string {
	if filepath.IsAbs(c.IndexerDB) {
		return c.IndexerDB
	}
	return filepath.Join(c.Home, "data", c.IndexerDB)
}

type Config struct {
	*config.Config `mapstructure:",squash"`

	App *AppConfig `mapstructure:"app"`
}

func ExpandHome(home string) string {
	if len(home) == 0 {
		home = os.ExpandEnv(DefaultHomeDir)
	}
	return home
}

func DefaultConfig(home string) *Config {
	home = ExpandHome(home)
	config := &Config{
		DefaultCometConfig(),
		DefaultAppConfig(home),
	}
	config.SetRoot(home)
	_ = os.MkdirAll(home+"/config", 0755)
	return config
}

// Load reads config.toml and app.toml from home/config on top of the
// defaults.
func Load(home string) (*Config, error) {
	home = ExpandHome(home)
	cfg := &Config{
		Config: DefaultCometConfig(),
		App:    DefaultAppConfig(home),
	}
	cfg.SetRoot(home)

	v := viper.New()
	v.SetConfigFile(filepath.Join(home, "config", CometConfigFile))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	v.SetConfigFile(filepath.Join(home, "config", AppConfigFile))
	if err := v.MergeInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading app config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.SetRoot(home)
	cfg.App.Home = home
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration data: %w", err)
	}
	return cfg, nil
}

func OwnerKeyPath(home string) string {
	return filepath.Join(home, "config", OwnerKeyFile)
}

// InitializeOwner creates the chain owner key unless one already exists.
func InitializeOwner(home string) (key *az_crypto.Key, err error) {
	path := OwnerKeyPath(home)
	if _, err = os.Stat(path); err == nil {
		return az_crypto.LoadKeyFile(path)
	}
	key, err = az_crypto.GenerateKey()
	if err != nil {
		return
	}
	err = key.Save(path)
	return
}

func InitializeNodeValidatorFiles(config *Config, privKey crypto.PrivKey) (nodeID string, pk crypto.PubKey, err error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return "", nil, err
	}
	nodeID = string(nodeKey.ID())

	pvKeyFile := config.PrivValidatorKeyFile()
	if err := os.MkdirAll(filepath.Dir(pvKeyFile), 0o777); err != nil {
		return "", nil, fmt.Errorf("could not create directory %q: %w", filepath.Dir(pvKeyFile), err)
	}

	pvStateFile := config.PrivValidatorStateFile()
	if err := os.MkdirAll(filepath.Dir(pvStateFile), 0o777); err != nil {
		return "", nil, fmt.Errorf("could not create directory %q: %w", filepath.Dir(pvStateFile), err)
	}

	var filePV *privval.FilePV
	if privKey == nil {
		filePV = privval.LoadOrGenFilePV(pvKeyFile, pvStateFile)
	} else {
		filePV = privval.NewFilePV(privKey, pvKeyFile, pvStateFile)
		filePV.Save()
	}
	pukey, err := filePV.GetPubKey()
	if err != nil {
		return "", nil, err
	}

	return nodeID, pukey, nil
}

func DefaultCometConfig() *config.Config {
	cometConfig := config.DefaultConfig()
	cometConfig.Consensus.TimeoutPropose = time.Second * 3
	cometConfig.Consensus.TimeoutPrevote = time.Second * 1
	cometConfig.Consensus.TimeoutPrecommit = time.Second * 1
	cometConfig.Consensus.TimeoutCommit = time.Millisecond * 1200
	return cometConfig
}
