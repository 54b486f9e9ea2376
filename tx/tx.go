package tx

import (
	"crypto/ecdsa"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AzTx is the signed envelope of every transaction. Contract selects the
// controller to call; the zero address means the current one.
type AzTx struct {
	Version  uint8          `json:"version"`
	Type     AzTxType       `json:"type"`
	Nonce    uint64         `json:"nonce"`
	Sender   common.Address `json:"sender"`
	Contract common.Address `json:"contract"`
	Tx       any            `json:"tx"`
	Sig      []byte         `json:"sig"`
}

type CreateGalaxyTx struct {
	Galaxy uint32         `json:"galaxy"`
	Target common.Address `json:"target"`
}

type SpawnTx struct {
	Point  uint32         `json:"point"`
	Target common.Address `json:"target"`
}

type ConfigureKeysTx struct {
	Point         uint32      `json:"point"`
	Crypt         common.Hash `json:"crypt"`
	Auth          common.Hash `json:"auth"`
	Suite         uint32      `json:"suite"`
	Discontinuous bool        `json:"discontinuous"`
}

type TransferPointTx struct {
	Point  uint32         `json:"point"`
	Target common.Address `json:"target"`
	Reset  bool           `json:"reset"`
}

// SetProxyTx is shared by the four proxy setters; the role comes from the
// envelope type.
type SetProxyTx struct {
	Point uint32         `json:"point"`
	Proxy common.Address `json:"proxy"`
}

type EscapeTx struct {
	Point   uint32 `json:"point"`
	Sponsor uint32 `json:"sponsor"`
}

// PointTx carries cancel escape, adopt, reject and detach.
type PointTx struct {
	Point uint32 `json:"point"`
}

type DocumentPollTx struct {
	Galaxy   uint32      `json:"galaxy"`
	Document common.Hash `json:"document"`
	Yes      bool        `json:"yes"`
}

type UpgradePollTx struct {
	Galaxy    uint32         `json:"galaxy"`
	Candidate common.Address `json:"candidate"`
	Yes       bool           `json:"yes"`
}

type DeployControllerTx struct {
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

type SetDnsDomainsTx struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Tertiary  string `json:"tertiary"`
}

// ReconfigurePollsTx carries durations in seconds.
type ReconfigurePollsTx struct {
	Duration uint64 `json:"duration"`
	Cooldown uint64 `json:"cooldown"`
}

type TransferOwnershipTx struct {
	Owner common.Address `json:"owner"`
}

type azTxTmpl[Tx any] struct {
	Version  uint8          `json:"version"`
	Type     AzTxType       `json:"type"`
	Nonce    uint64         `json:"nonce"`
	Sender   common.Address `json:"sender"`
	Contract common.Address `json:"contract"`
	Tx       Tx             `json:"tx"`
	Sig      []byte         `json:"sig"`
}

// SigData is the envelope with the chain id in place of the signature.
func (tx *AzTx) SigData(chainID []byte) (dat []byte, err error) {
	ntx := *tx
	ntx.Sig = chainID
	dat, err = json.Marshal(ntx)
	return
}

func (tx *AzTx) SigHash(chainID []byte) (h common.Hash, err error) {
	dat, err := tx.SigData(chainID)
	if err != nil {
		return
	}
	h = crypto.Keccak256Hash(dat)
	return
}

// Sign sets the sender from key and signs the envelope.
func (tx *AzTx) Sign(key *ecdsa.PrivateKey, chainID []byte) (err error) {
	tx.Sender = crypto.PubkeyToAddress(key.PublicKey)
	h, err := tx.SigHash(chainID)
	if err != nil {
		return
	}
	tx.Sig, err = crypto.Sign(h[:], key)
	return
}

// Verify recovers the signer and checks it against the sender.
func (tx *AzTx) Verify(chainID []byte) error {
	if len(tx.Sig) != crypto.SignatureLength {
		return ErrTxSigInvalid
	}
	h, err := tx.SigHash(chainID)
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(h[:], tx.Sig)
	if err != nil {
		return ErrTxSigInvalid
	}
	if crypto.PubkeyToAddress(*pub) != tx.Sender {
		return ErrTxSenderMismatch
	}
	return nil
}

func parseAzTxType(dat []byte) AzTxType {
	var tx struct {
		Type AzTxType `json:"type"`
	}
	err := json.Unmarshal(dat, &tx)
	if err != nil {
		return AzTxTypeUnknown
	}
	return tx.Type
}

func unmarshalAzTx[Tx any](dat []byte) (btx *AzTx, err error) {
	var txt azTxTmpl[Tx]
	err = json.Unmarshal(dat, &txt)
	if err != nil {
		return
	}
	if txt.Version != AzTxVersion0 {
		return nil, ErrUnsupportedTxVersion
	}
	btx = new(AzTx)
	btx.Version = txt.Version
	btx.Type = txt.Type
	btx.Nonce = txt.Nonce
	btx.Sender = txt.Sender
	btx.Contract = txt.Contract
	btx.Tx = &txt.Tx
	btx.Sig = txt.Sig
	return
}

func UnmarshalAzTx(dat []byte) (btx *AzTx, err error) {
	switch parseAzTxType(dat) {
	case AzTxTypeCreateGalaxy:
		return unmarshalAzTx[CreateGalaxyTx](dat)
	case AzTxTypeSpawn:
		return unmarshalAzTx[SpawnTx](dat)
	case AzTxTypeConfigureKeys:
		return unmarshalAzTx[ConfigureKeysTx](dat)
	case AzTxTypeTransferPoint:
		return unmarshalAzTx[TransferPointTx](dat)
	case AzTxTypeSetManagementProxy, AzTxTypeSetVotingProxy, AzTxTypeSetSpawnProxy, AzTxTypeSetTransferProxy:
		return unmarshalAzTx[SetProxyTx](dat)
	case AzTxTypeEscape:
		return unmarshalAzTx[EscapeTx](dat)
	case AzTxTypeCancelEscape, AzTxTypeAdopt, AzTxTypeReject, AzTxTypeDetach:
		return unmarshalAzTx[PointTx](dat)
	case AzTxTypeStartDocumentPoll, AzTxTypeCastDocumentVote, AzTxTypeUpdateDocumentPoll:
		return unmarshalAzTx[DocumentPollTx](dat)
	case AzTxTypeStartUpgradePoll, AzTxTypeCastUpgradeVote, AzTxTypeUpdateUpgradePoll:
		return unmarshalAzTx[UpgradePollTx](dat)
	case AzTxTypeDeployController:
		return unmarshalAzTx[DeployControllerTx](dat)
	case AzTxTypeSetDnsDomains:
		return unmarshalAzTx[SetDnsDomainsTx](dat)
	case AzTxTypeReconfigurePolls:
		return unmarshalAzTx[ReconfigurePollsTx](dat)
	case AzTxTypeTransferOwnership:
		return unmarshalAzTx[TransferOwnershipTx](dat)
	default:
		err = ErrUnsupportedTxType
	}
	return
}

func MarshalAzTx(btx *AzTx) (dat []byte, err error) {
	return json.Marshal(btx)
}
