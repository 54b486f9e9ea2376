package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/crypto"
	"github.com/urbit/azimuth/tx"
)

type txArguments struct {
	Url      string
	Key      string
	Nonce    int64
	Contract string
	NoSend   bool

	Discontinuous bool
	Reset         bool
	Vote          bool
	Owner         string
}

var txArgs txArguments

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Sign and broadcast transactions",
}

// txBuilder turns positional arguments into a typed payload.
type txBuilder func(args []string) (any, error)

func newTxCommand(tp tx.AzTxType, use, short string, nargs int, build txBuilder) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         cobra.ExactArgs(nargs),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := build(args)
			if err != nil {
				return err
			}
			return sendTx(cmd.Context(), tp, payload)
		},
	}
}

func sendTx(ctx context.Context, tp tx.AzTxType, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := crypto.LoadKeyFile(txArgs.Key)
	if err != nil {
		return err
	}
	cli, err := newClient(txArgs.Url)
	if err != nil {
		return err
	}
	gres, err := cli.Genesis(ctx)
	if err != nil {
		return fmt.Errorf("get chain genesis: %w", err)
	}
	chainId := gres.Genesis.ChainID

	var nonce uint64
	if txArgs.Nonce >= 0 {
		nonce = uint64(txArgs.Nonce)
	} else {
		act, err := queryAccount(ctx, cli, key.Address())
		switch {
		case errors.Is(err, errNotFound):
		case err != nil:
			return err
		default:
			nonce = act.Nonce
		}
	}

	btx := &tx.AzTx{
		Version: tx.AzTxVersion0,
		Type:    tp,
		Nonce:   nonce,
		Tx:      payload,
	}
	if txArgs.Contract != "" {
		if btx.Contract, err = parseAddress(txArgs.Contract); err != nil {
			return err
		}
	}
	dat, err := key.SignTx(btx, chainId)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	if txArgs.NoSend {
		fmt.Printf("%x\n", dat)
		return nil
	}
	res, err := cli.BroadcastTxSync(ctx, dat)
	if err != nil {
		return fmt.Errorf("broadcast tx: %w", err)
	}
	out, _ := json.Marshal(res)
	fmt.Println(string(out))
	if res.Code != 0 {
		return fmt.Errorf("tx rejected with code %v: %v", res.Code, res.Log)
	}
	return nil
}

func pointArgs(args []string) ([]uint32, error) {
	out := make([]uint32, len(args))
	for i, a := range args {
		p, err := parsePoint(a)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func pointAndAddress(args []string) (uint32, common.Address, error) {
	p, err := parsePoint(args[0])
	if err != nil {
		return 0, common.Address{}, err
	}
	addr, err := parseAddress(args[1])
	return p, addr, err
}

func proxyCommand(tp tx.AzTxType, use, role string) *cobra.Command {
	return newTxCommand(tp, use+" <point> <proxy>", "Set the "+role+" proxy of a point", 2, func(args []string) (any, error) {
		p, proxy, err := pointAndAddress(args)
		return &tx.SetProxyTx{Point: p, Proxy: proxy}, err
	})
}

func pointCommand(tp tx.AzTxType, use, short string) *cobra.Command {
	return newTxCommand(tp, use+" <point>", short, 1, func(args []string) (any, error) {
		p, err := parsePoint(args[0])
		return &tx.PointTx{Point: p}, err
	})
}

func documentCommand(tp tx.AzTxType, use, short string) *cobra.Command {
	return newTxCommand(tp, use+" <galaxy> <document>", short, 2, func(args []string) (any, error) {
		g, err := parsePoint(args[0])
		if err != nil {
			return nil, err
		}
		doc, err := parseHash(args[1])
		return &tx.DocumentPollTx{Galaxy: g, Document: doc, Yes: txArgs.Vote}, err
	})
}

func upgradeCommand(tp tx.AzTxType, use, short string) *cobra.Command {
	return newTxCommand(tp, use+" <galaxy> <candidate>", short, 2, func(args []string) (any, error) {
		g, candidate, err := pointAndAddress(args)
		return &tx.UpgradePollTx{Galaxy: g, Candidate: candidate, Yes: txArgs.Vote}, err
	})
}

func parseSeconds(s string) (uint64, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return uint64(d / time.Second), nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func init() {
	txCmd.PersistentFlags().StringVarP(&txArgs.Url, "url", "u", "http://127.0.0.1:26657", "azimuth node rpc url")
	txCmd.PersistentFlags().StringVarP(&txArgs.Key, "key", "k", "./config/owner_priv_key", "private key path")
	txCmd.PersistentFlags().Int64VarP(&txArgs.Nonce, "nonce", "n", -1, "account nonce, queried when negative")
	txCmd.PersistentFlags().StringVarP(&txArgs.Contract, "contract", "c", "", "controller address, defaults to the current one")
	txCmd.PersistentFlags().BoolVar(&txArgs.NoSend, "nosend", false, "print the signed transaction instead of sending it")

	configureKeys := newTxCommand(tx.AzTxTypeConfigureKeys, "configure-keys <point> <crypt> <auth> <suite>", "Set the networking keys of a point", 4,
		func(args []string) (any, error) {
			p, err := parsePoint(args[0])
			if err != nil {
				return nil, err
			}
			crypt, err := parseHash(args[1])
			if err != nil {
				return nil, err
			}
			auth, err := parseHash(args[2])
			if err != nil {
				return nil, err
			}
			suite, err := strconv.ParseUint(args[3], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid suite %q: %w", args[3], err)
			}
			return &tx.ConfigureKeysTx{Point: p, Crypt: crypt, Auth: auth, Suite: uint32(suite), Discontinuous: txArgs.Discontinuous}, nil
		})
	configureKeys.Flags().BoolVar(&txArgs.Discontinuous, "discontinuous", false, "break continuity, signaling a network reset")

	transfer := newTxCommand(tx.AzTxTypeTransferPoint, "transfer-point <point> <target>", "Transfer a point, or approve the target as new owner", 2,
		func(args []string) (any, error) {
			p, target, err := pointAndAddress(args)
			return &tx.TransferPointTx{Point: p, Target: target, Reset: txArgs.Reset}, err
		})
	transfer.Flags().BoolVar(&txArgs.Reset, "reset", false, "clear keys and proxies")

	deploy := newTxCommand(tx.AzTxTypeDeployController, "deploy-controller <previous>", "Deploy a controller that can take over from previous", 1,
		func(args []string) (any, error) {
			previous, err := parseAddress(args[0])
			if err != nil {
				return nil, err
			}
			dtx := &tx.DeployControllerTx{Previous: previous}
			if txArgs.Owner != "" {
				dtx.Owner, err = parseAddress(txArgs.Owner)
			}
			return dtx, err
		})
	deploy.Flags().StringVar(&txArgs.Owner, "owner", "", "controller owner, defaults to the sender")

	votes := []*cobra.Command{
		documentCommand(tx.AzTxTypeStartDocumentPoll, "start-document-poll", "Open a poll on a document hash"),
		documentCommand(tx.AzTxTypeCastDocumentVote, "cast-document-vote", "Vote on a document poll as a galaxy"),
		upgradeCommand(tx.AzTxTypeStartUpgradePoll, "start-upgrade-poll", "Open a poll on an upgrade candidate"),
		upgradeCommand(tx.AzTxTypeCastUpgradeVote, "cast-upgrade-vote", "Vote on an upgrade poll as a galaxy"),
	}
	for _, c := range []*cobra.Command{votes[1], votes[3]} {
		c.Flags().BoolVar(&txArgs.Vote, "yes", true, "vote yes, set --yes=false to vote no")
	}

	txCmd.AddCommand(
		newTxCommand(tx.AzTxTypeCreateGalaxy, "create-galaxy <galaxy> <target>", "Create a galaxy for target", 2,
			func(args []string) (any, error) {
				g, target, err := pointAndAddress(args)
				return &tx.CreateGalaxyTx{Galaxy: g, Target: target}, err
			}),
		newTxCommand(tx.AzTxTypeSpawn, "spawn <point> <target>", "Spawn a child point for target", 2,
			func(args []string) (any, error) {
				p, target, err := pointAndAddress(args)
				return &tx.SpawnTx{Point: p, Target: target}, err
			}),
		configureKeys,
		transfer,
		proxyCommand(tx.AzTxTypeSetManagementProxy, "set-management-proxy", "management"),
		proxyCommand(tx.AzTxTypeSetVotingProxy, "set-voting-proxy", "voting"),
		proxyCommand(tx.AzTxTypeSetSpawnProxy, "set-spawn-proxy", "spawn"),
		proxyCommand(tx.AzTxTypeSetTransferProxy, "set-transfer-proxy", "transfer"),
		newTxCommand(tx.AzTxTypeEscape, "escape <point> <sponsor>", "Request a new sponsor", 2,
			func(args []string) (any, error) {
				ps, err := pointArgs(args)
				if err != nil {
					return nil, err
				}
				return &tx.EscapeTx{Point: ps[0], Sponsor: ps[1]}, nil
			}),
		pointCommand(tx.AzTxTypeCancelEscape, "cancel-escape", "Withdraw an escape request"),
		pointCommand(tx.AzTxTypeAdopt, "adopt", "Accept the escape request of a point"),
		pointCommand(tx.AzTxTypeReject, "reject", "Deny the escape request of a point"),
		pointCommand(tx.AzTxTypeDetach, "detach", "Stop sponsoring a point"),
		votes[0],
		votes[1],
		newTxCommand(tx.AzTxTypeUpdateDocumentPoll, "update-document-poll <document>", "Settle a document poll", 1,
			func(args []string) (any, error) {
				doc, err := parseHash(args[0])
				return &tx.DocumentPollTx{Document: doc}, err
			}),
		votes[2],
		votes[3],
		newTxCommand(tx.AzTxTypeUpdateUpgradePoll, "update-upgrade-poll <candidate>", "Settle an upgrade poll, upgrading on majority", 1,
			func(args []string) (any, error) {
				candidate, err := parseAddress(args[0])
				return &tx.UpgradePollTx{Candidate: candidate}, err
			}),
		deploy,
		newTxCommand(tx.AzTxTypeSetDnsDomains, "set-dns-domains <primary> <secondary> <tertiary>", "Set the bootstrap dns domains", 3,
			func(args []string) (any, error) {
				return &tx.SetDnsDomainsTx{Primary: args[0], Secondary: args[1], Tertiary: args[2]}, nil
			}),
		newTxCommand(tx.AzTxTypeReconfigurePolls, "reconfigure-polls <duration> <cooldown>", "Change poll duration and cooldown, e.g. 720h", 2,
			func(args []string) (any, error) {
				duration, err := parseSeconds(args[0])
				if err != nil {
					return nil, err
				}
				cooldown, err := parseSeconds(args[1])
				if err != nil {
					return nil, err
				}
				return &tx.ReconfigurePollsTx{Duration: duration, Cooldown: cooldown}, nil
			}),
		newTxCommand(tx.AzTxTypeTransferOwnership, "transfer-ownership <owner>", "Hand the controller to a new owner", 1,
			func(args []string) (any, error) {
				owner, err := parseAddress(args[0])
				return &tx.TransferOwnershipTx{Owner: owner}, err
			}),
	)
}
