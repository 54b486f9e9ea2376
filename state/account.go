package state

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Account tracks the transaction nonce of a sender. Accounts come into
// existence with their first transaction.
type Account struct {
	Address common.Address
	Nonce   uint64
}

type accountSt struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

func (a *Account) MarshalJSON() (dat []byte, err error) {
	return json.Marshal(accountSt{Address: a.Address, Nonce: a.Nonce})
}

func (a *Account) UnmarshalJSON(dat []byte) (err error) {
	var o accountSt
	err = json.Unmarshal(dat, &o)
	if err != nil {
		return
	}
	a.Address = o.Address
	a.Nonce = o.Nonce
	return
}

func (a *Account) Clone() *Account {
	n := *a
	return &n
}

func (a *Account) encode() ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

func decodeAccount(dat []byte) (*Account, error) {
	a := new(Account)
	if err := rlp.DecodeBytes(dat, a); err != nil {
		return nil, err
	}
	return a, nil
}
