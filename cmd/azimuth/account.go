package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/crypto"
)

type accountArguments struct {
	Url     string
	Address string
	Key     string
}

var accountArgs accountArguments

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the transaction nonce of an address",
	RunE:  accountRun,
}

func init() {
	urlFlag(accountCmd, &accountArgs.Url)
	accountCmd.Flags().StringVarP(&accountArgs.Address, "address", "a", "", "account address, defaults to the key's")
	keyFlag(accountCmd, &accountArgs.Key)
}

func accountRun(cmd *cobra.Command, args []string) error {
	addrStr := accountArgs.Address
	if addrStr == "" {
		key, err := crypto.LoadKeyFile(accountArgs.Key)
		if err != nil {
			return err
		}
		addrStr = key.Address().Hex()
	}
	addr, err := parseAddress(addrStr)
	if err != nil {
		return err
	}
	cli, err := newClient(accountArgs.Url)
	if err != nil {
		return err
	}
	act, err := queryAccount(context.Background(), cli, addr)
	if errors.Is(err, errNotFound) {
		fmt.Printf("address:%v nonce:0 (no transactions)\n", addr.Hex())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("address:%v nonce:%v\n", act.Address.Hex(), act.Nonce)
	return nil
}
