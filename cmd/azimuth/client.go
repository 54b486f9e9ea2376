package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cometbft/cometbft/rpc/client/http"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urbit/azimuth/app"
	"github.com/urbit/azimuth/state"
)

var errNotFound = errors.New("not found")

func newClient(url string) (*http.HTTP, error) {
	cli, err := http.New(url, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	return cli, nil
}

// abciQuery returns the raw JSON value stored under path for data.
func abciQuery(ctx context.Context, cli *http.HTTP, path string, data []byte) ([]byte, error) {
	res, err := cli.ABCIQuery(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("request %v: %w", path, err)
	}
	switch res.Response.Code {
	case 0:
		return res.Response.Value, nil
	case app.QueryCodeNotFound:
		return nil, errNotFound
	default:
		return nil, fmt.Errorf("query %v failed with code %v %v", path, res.Response.Code, res.Response.Log)
	}
}

func printJSON(dat []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, dat, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

func queryAccount(ctx context.Context, cli *http.HTTP, addr common.Address) (*state.Account, error) {
	dat, err := abciQuery(ctx, cli, "/accounts/", addr[:])
	if err != nil {
		return nil, err
	}
	var act state.Account
	if err := act.UnmarshalJSON(dat); err != nil {
		return nil, err
	}
	return &act, nil
}

// pointBytes encodes p as the big-endian query key.
func pointBytes(p uint32) []byte {
	return []byte{byte(p >> 24), byte(p >> 16), byte(p >> 8), byte(p)}
}

func parsePoint(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return uint32(n), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}
