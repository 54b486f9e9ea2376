package types

import "errors"

// Error classes. Every failure surfaced by the registry, the polls engine or
// a controller wraps exactly one of them.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	CodeOK              uint32 = 0
	CodeInternal        uint32 = 1
	CodeUnauthorized    uint32 = 2
	CodeInvalidState    uint32 = 3
	CodeNotFound        uint32 = 4
	CodeInvalidArgument uint32 = 5
	CodeInvalidTx       uint32 = 6
)

// Code maps an error to the ABCI result code of its class.
func Code(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}

// CodeName is the class name reported to clients next to the code.
func CodeName(code uint32) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeInvalidState:
		return "invalid_state"
	case CodeNotFound:
		return "not_found"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeInvalidTx:
		return "invalid_tx"
	default:
		return "internal"
	}
}
