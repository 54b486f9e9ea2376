package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtconfig "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/agent"
	"github.com/urbit/azimuth/app"
	"github.com/urbit/azimuth/config"
	"github.com/urbit/azimuth/metrics"
	"golang.org/x/sync/errgroup"
)

var homeDir string

var rootCmd = &cobra.Command{
	Use:   "azimuth",
	Short: "Azimuth is the Urbit address space registry",
	Long: `A CometBFT chain running the Azimuth constitution:
point registry, senate polls and upgradeable governance.`,
	SilenceUsage: true,
	RunE:         nodeRun,
}

var nodeCmd = &cobra.Command{
	Use:          "node",
	Short:        "Run the node with its indexer and REST API",
	SilenceUsage: true,
	RunE:         nodeRun,
}

func init() {
	homeFlag(rootCmd, &homeDir)
	homeFlag(nodeCmd, &homeDir)
}

func nodeRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(homeDir)
	if err != nil {
		return err
	}

	pv := privval.LoadFilePV(
		cfg.PrivValidatorKeyFile(),
		cfg.PrivValidatorStateFile(),
	)

	nodeKey, err := p2p.LoadNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return fmt.Errorf("failed to load node's key: %w", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(cfg.LogLevel, logger, cmtconfig.DefaultLogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	m := metrics.New()
	if cfg.App.Metrics {
		m.Register(prometheus.DefaultRegisterer)
	}

	// the indexer only dials the rpc endpoint once it starts
	var indexer *agent.ChainIndexer
	if cfg.App.Indexer {
		rpcUrl, err := url.Parse(cfg.RPC.ListenAddress)
		if err != nil {
			return fmt.Errorf("parse rpc address: %w", err)
		}
		rpcUrl.Scheme = "http"
		indexer, err = agent.NewChainIndexer(logger, cfg.App.IndexerPath(), rpcUrl.String())
		if err != nil {
			return fmt.Errorf("new chain indexer: %w", err)
		}
		defer indexer.Close()
	}

	azApp, err := app.NewAzApp(cfg.App, m, logger)
	if err != nil {
		return fmt.Errorf("new app: %w", err)
	}

	node, err := nm.NewNode(
		cfg.Config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(azApp),
		nm.DefaultGenesisDocProviderFunc(cfg.Config),
		cmtconfig.DefaultDBProvider,
		nm.DefaultMetricsProvider(cfg.Instrumentation),
		logger,
	)
	if err != nil {
		azApp.Stop()
		return fmt.Errorf("creating node: %w", err)
	}

	azApp.Start(node.BlockStore())
	if err = node.Start(); err != nil {
		azApp.Stop()
		return fmt.Errorf("start comet node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if indexer != nil {
		g.Go(func() error {
			return indexer.Start(ctx)
		})
	}

	if cfg.App.ApiAddr != "" && (indexer != nil || cfg.App.Metrics) {
		var gatherer prometheus.Gatherer
		if cfg.App.Metrics {
			gatherer = prometheus.DefaultGatherer
		}
		svc := agent.NewService(cfg.App.ApiAddr, indexer, gatherer)
		g.Go(func() error {
			return svc.Start(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := node.Stop(); err != nil {
				logger.Error("stop comet node", "err", err)
			}
			node.Wait()
			azApp.Stop()
		}()
		select {
		case <-done:
			return nil
		case <-time.After(10 * time.Second):
			return fmt.Errorf("shutdown timed out")
		}
	})

	return g.Wait()
}
