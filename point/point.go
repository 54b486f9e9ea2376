// Package point holds the identity model: size classes, prefix arithmetic
// and the per-point record kept by the registry.
package point

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Size uint8

const (
	Galaxy Size = iota
	Star
	Planet
)

func (s Size) String() string {
	switch s {
	case Galaxy:
		return "galaxy"
	case Star:
		return "star"
	case Planet:
		return "planet"
	}
	return fmt.Sprintf("size(%d)", uint8(s))
}

// SizeOf derives the size class from the numeric value alone.
func SizeOf(p uint32) Size {
	switch {
	case p < 0x100:
		return Galaxy
	case p < 0x10000:
		return Star
	default:
		return Planet
	}
}

// Prefix returns the point one size up. A galaxy is its own prefix.
func Prefix(p uint32) uint32 {
	switch SizeOf(p) {
	case Galaxy:
		return p
	case Star:
		return p % 0x100
	default:
		return p % 0x10000
	}
}

type ProxyRole uint8

const (
	Management ProxyRole = iota
	Voting
	Spawn
	Transfer

	NumProxyRoles = 4
)

func (r ProxyRole) String() string {
	switch r {
	case Management:
		return "management"
	case Voting:
		return "voting"
	case Spawn:
		return "spawn"
	case Transfer:
		return "transfer"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func ParseProxyRole(s string) (ProxyRole, error) {
	for r := ProxyRole(0); r < NumProxyRoles; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown proxy role %q", s)
}

type Keys struct {
	Crypt    common.Hash `json:"crypt"`
	Auth     common.Hash `json:"auth"`
	Suite    uint32      `json:"suite"`
	Revision uint32      `json:"revision"`
}

// Same reports whether the key material matches, ignoring the revision.
func (k Keys) Same(crypt, auth common.Hash, suite uint32) bool {
	return k.Crypt == crypt && k.Auth == auth && k.Suite == suite
}

// Complete is true when all three key fields are set.
func (k Keys) Complete() bool {
	return k.Crypt != (common.Hash{}) && k.Auth != (common.Hash{}) && k.Suite != 0
}

type Point struct {
	Owner      common.Address                `json:"owner"`
	Active     bool                          `json:"active"`
	Keys       Keys                          `json:"keys"`
	Continuity uint32                        `json:"continuity"`
	SpawnCount uint32                        `json:"spawnCount"`
	Proxies    [NumProxyRoles]common.Address `json:"proxies"`

	Sponsor         uint32 `json:"sponsor"`
	HasSponsor      bool   `json:"hasSponsor"`
	EscapeRequested bool   `json:"escapeRequested"`
	EscapeTo        uint32 `json:"escapeTo"`
}

// Linked means the owner has configured keys at least once.
func (p *Point) Linked() bool {
	return p.Keys.Revision > 0
}

func (p *Point) Clone() *Point {
	n := *p
	return &n
}
