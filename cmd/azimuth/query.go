package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/urbit/azimuth/point"
	"github.com/urbit/azimuth/polls"
)

type queryArguments struct {
	Url string
}

var queryArgs queryArguments

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query committed state",
}

// queryEncoder turns positional arguments into the ABCI query data.
type queryEncoder func(args []string) ([]byte, error)

func newQueryCommand(path, use, short string, nargs cobra.PositionalArgs, encode queryEncoder) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         nargs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := encode(args)
			if err != nil {
				return err
			}
			cli, err := newClient(queryArgs.Url)
			if err != nil {
				return err
			}
			dat, err := abciQuery(cmd.Context(), cli, path, data)
			if errors.Is(err, errNotFound) {
				return fmt.Errorf("%v %v", path, errNotFound)
			}
			if err != nil {
				return err
			}
			return printJSON(dat)
		},
	}
}

func pointQuery(args []string) ([]byte, error) {
	p, err := parsePoint(args[0])
	if err != nil {
		return nil, err
	}
	return pointBytes(p), nil
}

func addressQuery(args []string) ([]byte, error) {
	addr, err := parseAddress(args[0])
	if err != nil {
		return nil, err
	}
	return addr[:], nil
}

func init() {
	queryCmd.PersistentFlags().StringVarP(&queryArgs.Url, "url", "u", "http://127.0.0.1:26657", "azimuth node rpc url")

	queryCmd.AddCommand(
		newQueryCommand("/points/", "point <point>", "Show a point", cobra.ExactArgs(1), pointQuery),
		newQueryCommand("/owned/", "owned <address>", "List the points owned by an address", cobra.ExactArgs(1), addressQuery),
		newQueryCommand("/delegated/", "delegated <role> <address>", "List the points an address is a management, voting, spawn or transfer proxy for", cobra.ExactArgs(2),
			func(args []string) ([]byte, error) {
				role, err := point.ParseProxyRole(args[0])
				if err != nil {
					return nil, err
				}
				addr, err := addressQuery(args[1:])
				if err != nil {
					return nil, err
				}
				return append([]byte{byte(role)}, addr...), nil
			}),
		newQueryCommand("/sponsoring/", "sponsoring <point>", "List the points sponsored by a point", cobra.ExactArgs(1), pointQuery),
		newQueryCommand("/escapes/", "escapes <point>", "List the escape requests to a point", cobra.ExactArgs(1), pointQuery),
		newQueryCommand("/spawned/", "spawned <point>", "List the children spawned by a point", cobra.ExactArgs(1), pointQuery),
		newQueryCommand("/polls/", "document-poll <document>", "Show a document poll", cobra.ExactArgs(1),
			func(args []string) ([]byte, error) {
				doc, err := parseHash(args[0])
				if err != nil {
					return nil, err
				}
				return append([]byte{byte(polls.KindDocument)}, doc[:]...), nil
			}),
		newQueryCommand("/polls/", "upgrade-poll <candidate>", "Show an upgrade poll", cobra.ExactArgs(1),
			func(args []string) ([]byte, error) {
				addr, err := addressQuery(args)
				if err != nil {
					return nil, err
				}
				return append([]byte{byte(polls.KindUpgrade)}, addr...), nil
			}),
		newQueryCommand("/controllers/", "controller [address]", "Show a controller, the current one by default", cobra.MaximumNArgs(1),
			func(args []string) ([]byte, error) {
				if len(args) == 0 {
					return nil, nil
				}
				return addressQuery(args)
			}),
		newQueryCommand("/senate/", "senate", "Summarize governance", cobra.ExactArgs(0),
			func(args []string) ([]byte, error) { return nil, nil }),
	)
}
