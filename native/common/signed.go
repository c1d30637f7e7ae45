package common

import "math/big"

// SignedAmount stores a signed integer in a form RLP can encode.
type SignedAmount struct {
	Negative  bool
	Magnitude *big.Int
}

// NewSignedAmount captures v.
func NewSignedAmount(v *big.Int) SignedAmount {
	if v == nil || v.Sign() == 0 {
		return SignedAmount{Magnitude: big.NewInt(0)}
	}
	return SignedAmount{Negative: v.Sign() < 0, Magnitude: new(big.Int).Abs(v)}
}

// Int returns the signed value.
func (s SignedAmount) Int() *big.Int {
	out := Clone(s.Magnitude)
	if s.Negative {
		out.Neg(out)
	}
	return out
}
