package state

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrHeaderMalformed = errors.New("state header malformed")

// StateHeader is stored under KeyState in protobuf wire format.
type StateHeader struct {
	Height    uint64
	ChainId   string
	RootHash  []byte
	Hash      []byte
	BlockTime int64
	Registry  common.Address
	Polls     common.Address
}

const (
	fieldHeight protowire.Number = iota + 1
	fieldChainId
	fieldRootHash
	fieldHash
	fieldBlockTime
	fieldRegistry
	fieldPolls
)

func (h *StateHeader) Clone() *StateHeader {
	n := *h
	n.RootHash = common.CopyBytes(h.RootHash)
	n.Hash = common.CopyBytes(h.Hash)
	return &n
}

func (h *StateHeader) GetHash() []byte {
	if h == nil {
		return nil
	}
	return h.Hash
}

func (h *StateHeader) Time() time.Time {
	return time.Unix(0, h.BlockTime).UTC()
}

func (h *StateHeader) Marshal() []byte {
	var b []byte
	if h.Height != 0 {
		b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
		b = protowire.AppendVarint(b, h.Height)
	}
	if h.ChainId != "" {
		b = protowire.AppendTag(b, fieldChainId, protowire.BytesType)
		b = protowire.AppendString(b, h.ChainId)
	}
	if len(h.RootHash) > 0 {
		b = protowire.AppendTag(b, fieldRootHash, protowire.BytesType)
		b = protowire.AppendBytes(b, h.RootHash)
	}
	if len(h.Hash) > 0 {
		b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Hash)
	}
	if h.BlockTime != 0 {
		b = protowire.AppendTag(b, fieldBlockTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.BlockTime))
	}
	if h.Registry != (common.Address{}) {
		b = protowire.AppendTag(b, fieldRegistry, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Registry[:])
	}
	if h.Polls != (common.Address{}) {
		b = protowire.AppendTag(b, fieldPolls, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Polls[:])
	}
	return b
}

// Unmarshal skips unknown fields so older nodes can read newer headers.
func (h *StateHeader) Unmarshal(b []byte) error {
	*h = StateHeader{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrHeaderMalformed
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == fieldHeight || num == fieldBlockTime):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ErrHeaderMalformed
			}
			if num == fieldHeight {
				h.Height = v
			} else {
				h.BlockTime = int64(v)
			}
			b = b[n:]
		case typ == protowire.BytesType && num >= fieldChainId && num <= fieldPolls && num != fieldBlockTime:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ErrHeaderMalformed
			}
			switch num {
			case fieldChainId:
				h.ChainId = string(v)
			case fieldRootHash:
				h.RootHash = common.CopyBytes(v)
			case fieldHash:
				h.Hash = common.CopyBytes(v)
			case fieldRegistry:
				h.Registry = common.BytesToAddress(v)
			case fieldPolls:
				h.Polls = common.BytesToAddress(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrHeaderMalformed
			}
			b = b[n:]
		}
	}
	return nil
}
