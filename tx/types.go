package tx

import (
	"errors"
	"fmt"
)

type AzTxType uint8

const (
	AzTxTypeUnknown AzTxType = iota
	AzTxTypeCreateGalaxy
	AzTxTypeSpawn
	AzTxTypeConfigureKeys
	AzTxTypeTransferPoint
	AzTxTypeSetManagementProxy
	AzTxTypeSetVotingProxy
	AzTxTypeSetSpawnProxy
	AzTxTypeSetTransferProxy
	AzTxTypeEscape
	AzTxTypeCancelEscape
	AzTxTypeAdopt
	AzTxTypeReject
	AzTxTypeDetach
	AzTxTypeStartDocumentPoll
	AzTxTypeCastDocumentVote
	AzTxTypeUpdateDocumentPoll
	AzTxTypeStartUpgradePoll
	AzTxTypeCastUpgradeVote
	AzTxTypeUpdateUpgradePoll
	AzTxTypeDeployController
	AzTxTypeSetDnsDomains
	AzTxTypeReconfigurePolls
	AzTxTypeTransferOwnership
)

var txTypeNames = map[AzTxType]string{
	AzTxTypeCreateGalaxy:       "create_galaxy",
	AzTxTypeSpawn:              "spawn",
	AzTxTypeConfigureKeys:      "configure_keys",
	AzTxTypeTransferPoint:      "transfer_point",
	AzTxTypeSetManagementProxy: "set_management_proxy",
	AzTxTypeSetVotingProxy:     "set_voting_proxy",
	AzTxTypeSetSpawnProxy:      "set_spawn_proxy",
	AzTxTypeSetTransferProxy:   "set_transfer_proxy",
	AzTxTypeEscape:             "escape",
	AzTxTypeCancelEscape:       "cancel_escape",
	AzTxTypeAdopt:              "adopt",
	AzTxTypeReject:             "reject",
	AzTxTypeDetach:             "detach",
	AzTxTypeStartDocumentPoll:  "start_document_poll",
	AzTxTypeCastDocumentVote:   "cast_document_vote",
	AzTxTypeUpdateDocumentPoll: "update_document_poll",
	AzTxTypeStartUpgradePoll:   "start_upgrade_poll",
	AzTxTypeCastUpgradeVote:    "cast_upgrade_vote",
	AzTxTypeUpdateUpgradePoll:  "update_upgrade_poll",
	AzTxTypeDeployController:   "deploy_controller",
	AzTxTypeSetDnsDomains:      "set_dns_domains",
	AzTxTypeReconfigurePolls:   "reconfigure_polls",
	AzTxTypeTransferOwnership:  "transfer_ownership",
}

func (t AzTxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// AllTxTypes lists every supported transaction type in wire order.
func AllTxTypes() []AzTxType {
	types := make([]AzTxType, 0, len(txTypeNames))
	for t := AzTxTypeCreateGalaxy; t <= AzTxTypeTransferOwnership; t++ {
		types = append(types, t)
	}
	return types
}

const (
	AzTxVersion0 uint8 = 0
)

var (
	ErrInvalidTx            = errors.New("invalid tx")
	ErrUnsupportedTxType    = errors.New("unsupported tx type")
	ErrUnsupportedTxVersion = errors.New("unsupported tx version")
	ErrTxSigInvalid         = errors.New("signature invalid")
	ErrTxSenderMismatch     = errors.New("signer does not match sender")
)
