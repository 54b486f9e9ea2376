package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/crypto"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage transaction signing keys",
}

type keysArguments struct {
	Key       string
	Overwrite bool
}

var keysArgs keysArguments

var keysNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a key and write it to --key",
	RunE:  keysNewRun,
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the address of --key",
	RunE:  keysShowRun,
}

func init() {
	keyFlag(keysNewCmd, &keysArgs.Key)
	keysNewCmd.Flags().BoolVarP(&keysArgs.Overwrite, "overwrite", "o", false, "replace an existing key file")
	keyFlag(keysShowCmd, &keysArgs.Key)
	keysCmd.AddCommand(keysNewCmd)
	keysCmd.AddCommand(keysShowCmd)
}

func keysNewRun(cmd *cobra.Command, args []string) error {
	if _, err := crypto.LoadKeyFile(keysArgs.Key); err == nil && !keysArgs.Overwrite {
		return fmt.Errorf("key file %v exists", keysArgs.Key)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := key.Save(keysArgs.Key); err != nil {
		return err
	}
	fmt.Println("address:", key.Address().Hex())
	return nil
}

func keysShowRun(cmd *cobra.Command, args []string) error {
	key, err := crypto.LoadKeyFile(keysArgs.Key)
	if err != nil {
		return err
	}
	fmt.Println("address:", key.Address().Hex())
	return nil
}
