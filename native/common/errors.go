package common

import "errors"

// Kind classifies protocol errors so outer layers can react consistently.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAuthorization covers callers lacking ownership or allow-listing.
	KindAuthorization
	// KindValidation covers malformed or out-of-range inputs.
	KindValidation
	// KindEconomic covers slippage, balance mismatches and losses.
	KindEconomic
	// KindState covers lifecycle guards such as already settled.
	KindState
	// KindOracle covers stale, unavailable or unhealthy prices.
	KindOracle
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindEconomic:
		return "economic"
	case KindState:
		return "state"
	case KindOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// Error is a sentinel error tagged with its Kind.
type Error struct {
	kind Kind
	msg  string
}

// NewError returns a new sentinel error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind reports the error classification.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the classification of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return KindUnknown
}
