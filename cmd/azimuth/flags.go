package main

import (
	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/types"
)

func urlFlag(cmd *cobra.Command, url *string) {
	cmd.Flags().StringVarP(url, "url", "u", "http://127.0.0.1:26657", "azimuth node rpc url")
}

func homeFlag(cmd *cobra.Command, home *string) {
	cmd.Flags().StringVarP(home, types.FlagHome, "d", "", "home directory")
}

func keyFlag(cmd *cobra.Command, key *string) {
	cmd.Flags().StringVarP(key, "key", "k", "./config/owner_priv_key", "private key path")
}
