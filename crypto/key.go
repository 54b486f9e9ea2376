// Package crypto manages the secp256k1 keys that sign transactions.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/urbit/azimuth/tx"
)

type Key struct {
	privateKey *ecdsa.PrivateKey
}

func GenerateKey() (*Key, error) {
	priv, err := eth_crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Key{privateKey: priv}, nil
}

// HexToKey parses a hex private key, with or without 0x prefix.
func HexToKey(s string) (*Key, error) {
	priv, err := eth_crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, err
	}
	return &Key{privateKey: priv}, nil
}

func LoadKeyFile(keyFilePath string) (*Key, error) {
	dat, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	k, err := HexToKey(string(dat))
	if err != nil {
		return nil, fmt.Errorf("error reading key from %v: %w", keyFilePath, err)
	}
	return k, nil
}

func (k *Key) Save(keyFilePath string) error {
	if err := os.MkdirAll(filepath.Dir(keyFilePath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyFilePath, []byte(hex.EncodeToString(eth_crypto.FromECDSA(k.privateKey))), 0o600)
}

func (k *Key) PrivateKey() *ecdsa.PrivateKey {
	return k.privateKey
}

func (k *Key) Address() common.Address {
	return eth_crypto.PubkeyToAddress(k.privateKey.PublicKey)
}

// SignTx signs btx for chainID and returns its wire encoding.
func (k *Key) SignTx(btx *tx.AzTx, chainID string) ([]byte, error) {
	if err := btx.Sign(k.privateKey, []byte(chainID)); err != nil {
		return nil, err
	}
	return tx.MarshalAzTx(btx)
}
