package types

import (
	"fmt"
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
)

const (
	EventOwnerChangedType         = "owner_changed"
	EventActivatedType            = "activated"
	EventSpawnedType              = "spawned"
	EventEscapeRequestedType      = "escape_requested"
	EventEscapeCanceledType       = "escape_canceled"
	EventEscapeAcceptedType       = "escape_accepted"
	EventLostSponsorType          = "lost_sponsor"
	EventChangedKeysType          = "changed_keys"
	EventBrokeContinuityType      = "broke_continuity"
	EventChangedProxyType         = "changed_proxy"
	EventChangedDnsType           = "changed_dns"
	EventOwnershipTransferredType = "ownership_transferred"
	EventPollStartedType          = "poll_started"
	EventMajorityType             = "majority"
	EventPollsReconfiguredType    = "polls_reconfigured"
	EventTransferType             = "transfer"
	EventApprovalType             = "approval"
	EventUpgradedType             = "upgraded"
	EventControllerDeployedType   = "controller_deployed"
)

// Journal collects the events emitted while a transaction executes.
type Journal struct {
	events []abci.Event
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Emit(ev abci.Event) {
	j.events = append(j.events, ev)
}

// Drain returns the pending events and resets the journal.
func (j *Journal) Drain() (events []abci.Event) {
	events = j.events
	j.events = nil
	return
}

func (j *Journal) Len() int {
	return len(j.events)
}

func attrs(ev abci.Event) map[string]string {
	m := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		m[a.Key] = a.Value
	}
	return m
}

func parsePoint(v string) (uint32, bool) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func pointAttr(key string, p uint32) abci.EventAttribute {
	return abci.EventAttribute{Key: key, Value: strconv.FormatUint(uint64(p), 10), Index: true}
}

func addrAttr(key string, a common.Address, index bool) abci.EventAttribute {
	return abci.EventAttribute{Key: key, Value: a.Hex(), Index: index}
}

type EventOwnerChanged struct {
	Point uint32         `json:"point"`
	Owner common.Address `json:"owner"`
}

func EncodeEventOwnerChanged(event *EventOwnerChanged) abci.Event {
	return abci.Event{
		Type: EventOwnerChangedType,
		Attributes: []abci.EventAttribute{
			pointAttr("point", event.Point),
			addrAttr("owner", event.Owner, true),
		},
	}
}

func DecodeEventOwnerChanged(originEvent abci.Event) *EventOwnerChanged {
	m := attrs(originEvent)
	p, ok := parsePoint(m["point"])
	if !ok || !common.IsHexAddress(m["owner"]) {
		return nil
	}
	return &EventOwnerChanged{Point: p, Owner: common.HexToAddress(m["owner"])}
}

type EventActivated struct {
	Point uint32 `json:"point"`
}

func EncodeEventActivated(event *EventActivated) abci.Event {
	return abci.Event{
		Type:       EventActivatedType,
		Attributes: []abci.EventAttribute{pointAttr("point", event.Point)},
	}
}

func DecodeEventActivated(originEvent abci.Event) *EventActivated {
	p, ok := parsePoint(attrs(originEvent)["point"])
	if !ok {
		return nil
	}
	return &EventActivated{Point: p}
}

type EventSpawned struct {
	Prefix uint32 `json:"prefix"`
	Child  uint32 `json:"child"`
}

func EncodeEventSpawned(event *EventSpawned) abci.Event {
	return abci.Event{
		Type: EventSpawnedType,
		Attributes: []abci.EventAttribute{
			pointAttr("prefix", event.Prefix),
			pointAttr("child", event.Child),
		},
	}
}

func DecodeEventSpawned(originEvent abci.Event) *EventSpawned {
	m := attrs(originEvent)
	prefix, ok1 := parsePoint(m["prefix"])
	child, ok2 := parsePoint(m["child"])
	if !ok1 || !ok2 {
		return nil
	}
	return &EventSpawned{Prefix: prefix, Child: child}
}

// EventSponsorship backs every event that relates a point to a sponsor:
// escape requests, cancellations, acceptances and lost sponsorships.
type EventSponsorship struct {
	Point   uint32 `json:"point"`
	Sponsor uint32 `json:"sponsor"`
}

func EncodeEventSponsorship(tp string, event *EventSponsorship) abci.Event {
	return abci.Event{
		Type: tp,
		Attributes: []abci.EventAttribute{
			pointAttr("point", event.Point),
			pointAttr("sponsor", event.Sponsor),
		},
	}
}

func DecodeEventSponsorship(originEvent abci.Event) *EventSponsorship {
	m := attrs(originEvent)
	p, ok1 := parsePoint(m["point"])
	s, ok2 := parsePoint(m["sponsor"])
	if !ok1 || !ok2 {
		return nil
	}
	return &EventSponsorship{Point: p, Sponsor: s}
}

type EventChangedKeys struct {
	Point    uint32      `json:"point"`
	Crypt    common.Hash `json:"crypt"`
	Auth     common.Hash `json:"auth"`
	Suite    uint32      `json:"suite"`
	Revision uint32      `json:"revision"`
}

func EncodeEventChangedKeys(event *EventChangedKeys) abci.Event {
	return abci.Event{
		Type: EventChangedKeysType,
		Attributes: []abci.EventAttribute{
			pointAttr("point", event.Point),
			{Key: "crypt", Value: event.Crypt.Hex(), Index: false},
			{Key: "auth", Value: event.Auth.Hex(), Index: false},
			{Key: "suite", Value: fmt.Sprintf("%v", event.Suite), Index: false},
			{Key: "revision", Value: fmt.Sprintf("%v", event.Revision), Index: false},
		},
	}
}

func DecodeEventChangedKeys(originEvent abci.Event) *EventChangedKeys {
	event := &EventChangedKeys{}
	for _, v := range originEvent.Attributes {
		switch v.Key {
		case "point":
			p, ok := parsePoint(v.Value)
			if !ok {
				return nil
			}
			event.Point = p
		case "crypt":
			event.Crypt = common.HexToHash(v.Value)
		case "auth":
			event.Auth = common.HexToHash(v.Value)
		case "suite":
			suite, err := strconv.ParseUint(v.Value, 10, 32)
			if err != nil {
				return nil
			}
			event.Suite = uint32(suite)
		case "revision":
			rev, err := strconv.ParseUint(v.Value, 10, 32)
			if err != nil {
				return nil
			}
			event.Revision = uint32(rev)
		}
	}
	return event
}

type EventBrokeContinuity struct {
	Point  uint32 `json:"point"`
	Number uint32 `json:"number"`
}

func EncodeEventBrokeContinuity(event *EventBrokeContinuity) abci.Event {
	return abci.Event{
		Type: EventBrokeContinuityType,
		Attributes: []abci.EventAttribute{
			pointAttr("point", event.Point),
			{Key: "number", Value: fmt.Sprintf("%v", event.Number), Index: false},
		},
	}
}

func DecodeEventBrokeContinuity(originEvent abci.Event) *EventBrokeContinuity {
	m := attrs(originEvent)
	p, ok1 := parsePoint(m["point"])
	n, ok2 := parsePoint(m["number"])
	if !ok1 || !ok2 {
		return nil
	}
	return &EventBrokeContinuity{Point: p, Number: n}
}

type EventChangedProxy struct {
	Point uint32         `json:"point"`
	Role  string         `json:"role"`
	Proxy common.Address `json:"proxy"`
}

func EncodeEventChangedProxy(event *EventChangedProxy) abci.Event {
	return abci.Event{
		Type: EventChangedProxyType,
		Attributes: []abci.EventAttribute{
			pointAttr("point", event.Point),
			{Key: "role", Value: event.Role, Index: true},
			addrAttr("proxy", event.Proxy, true),
		},
	}
}

func DecodeEventChangedProxy(originEvent abci.Event) *EventChangedProxy {
	m := attrs(originEvent)
	p, ok := parsePoint(m["point"])
	if !ok {
		return nil
	}
	return &EventChangedProxy{Point: p, Role: m["role"], Proxy: common.HexToAddress(m["proxy"])}
}

type EventChangedDns struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Tertiary  string `json:"tertiary"`
}

func EncodeEventChangedDns(event *EventChangedDns) abci.Event {
	return abci.Event{
		Type: EventChangedDnsType,
		Attributes: []abci.EventAttribute{
			{Key: "primary", Value: event.Primary},
			{Key: "secondary", Value: event.Secondary},
			{Key: "tertiary", Value: event.Tertiary},
		},
	}
}

type EventOwnershipTransferred struct {
	Contract string         `json:"contract"`
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

func EncodeEventOwnershipTransferred(event *EventOwnershipTransferred) abci.Event {
	return abci.Event{
		Type: EventOwnershipTransferredType,
		Attributes: []abci.EventAttribute{
			{Key: "contract", Value: event.Contract, Index: true},
			addrAttr("previous", event.Previous, false),
			addrAttr("owner", event.Owner, true),
		},
	}
}

// EventPoll backs poll_started and majority. Subject is the hex form of a
// document hash or of an upgrade candidate address, depending on Kind.
type EventPoll struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
}

func EncodeEventPoll(tp string, event *EventPoll) abci.Event {
	return abci.Event{
		Type: tp,
		Attributes: []abci.EventAttribute{
			{Key: "kind", Value: event.Kind, Index: true},
			{Key: "subject", Value: event.Subject, Index: true},
		},
	}
}

func DecodeEventPoll(originEvent abci.Event) *EventPoll {
	m := attrs(originEvent)
	if m["kind"] == "" || m["subject"] == "" {
		return nil
	}
	return &EventPoll{Kind: m["kind"], Subject: m["subject"]}
}

type EventPollsReconfigured struct {
	Duration uint64 `json:"duration"`
	Cooldown uint64 `json:"cooldown"`
}

func EncodeEventPollsReconfigured(event *EventPollsReconfigured) abci.Event {
	return abci.Event{
		Type: EventPollsReconfiguredType,
		Attributes: []abci.EventAttribute{
			{Key: "duration", Value: fmt.Sprintf("%v", event.Duration)},
			{Key: "cooldown", Value: fmt.Sprintf("%v", event.Cooldown)},
		},
	}
}

type EventTransfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Point uint32         `json:"point"`
}

func EncodeEventTransfer(event *EventTransfer) abci.Event {
	return abci.Event{
		Type: EventTransferType,
		Attributes: []abci.EventAttribute{
			addrAttr("from", event.From, true),
			addrAttr("to", event.To, true),
			pointAttr("point", event.Point),
		},
	}
}

type EventApproval struct {
	Owner    common.Address `json:"owner"`
	Approved common.Address `json:"approved"`
	Point    uint32         `json:"point"`
}

func EncodeEventApproval(event *EventApproval) abci.Event {
	return abci.Event{
		Type: EventApprovalType,
		Attributes: []abci.EventAttribute{
			addrAttr("owner", event.Owner, true),
			addrAttr("approved", event.Approved, true),
			pointAttr("point", event.Point),
		},
	}
}

type EventUpgraded struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
}

func EncodeEventUpgraded(event *EventUpgraded) abci.Event {
	return abci.Event{
		Type: EventUpgradedType,
		Attributes: []abci.EventAttribute{
			addrAttr("from", event.From, true),
			addrAttr("to", event.To, true),
		},
	}
}

func DecodeEventUpgraded(originEvent abci.Event) *EventUpgraded {
	m := attrs(originEvent)
	if !common.IsHexAddress(m["from"]) || !common.IsHexAddress(m["to"]) {
		return nil
	}
	return &EventUpgraded{From: common.HexToAddress(m["from"]), To: common.HexToAddress(m["to"])}
}

type EventControllerDeployed struct {
	Address  common.Address `json:"address"`
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

func EncodeEventControllerDeployed(event *EventControllerDeployed) abci.Event {
	return abci.Event{
		Type: EventControllerDeployedType,
		Attributes: []abci.EventAttribute{
			addrAttr("address", event.Address, true),
			addrAttr("previous", event.Previous, false),
			addrAttr("owner", event.Owner, false),
		},
	}
}
