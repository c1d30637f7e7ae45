package common

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// BIPS is the basis point denominator.
	BIPS = 10_000
	// YEAR is the number of seconds used to annualise rates.
	YEAR = 365 * 24 * 60 * 60
)

var (
	ErrMathOverflow  = NewError(KindValidation, "math: overflow")
	ErrDivideByZero  = NewError(KindValidation, "math: division by zero")
	ErrNegativeValue = NewError(KindValidation, "math: negative operand")

	bigBIPS = big.NewInt(BIPS)
	bigYEAR = big.NewInt(YEAR)
)

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

func mulDiv(a, b, d *big.Int, roundUp bool) (*big.Int, error) {
	x, err := toUint256(a)
	if err != nil {
		return nil, err
	}
	y, err := toUint256(b)
	if err != nil {
		return nil, err
	}
	den, err := toUint256(d)
	if err != nil {
		return nil, err
	}
	if den.IsZero() {
		return nil, ErrDivideByZero
	}
	quo, overflow := new(uint256.Int).MulDivOverflow(x, y, den)
	if overflow {
		return nil, ErrMathOverflow
	}
	if roundUp && !new(uint256.Int).MulMod(x, y, den).IsZero() {
		if _, overflow := quo.AddOverflow(quo, uint256.NewInt(1)); overflow {
			return nil, ErrMathOverflow
		}
	}
	return quo.ToBig(), nil
}

// MulDiv returns floor(a*b/d) with 512-bit intermediate precision.
func MulDiv(a, b, d *big.Int) (*big.Int, error) { return mulDiv(a, b, d, false) }

// MulDivUp returns ceil(a*b/d) with 512-bit intermediate precision.
func MulDivUp(a, b, d *big.Int) (*big.Int, error) { return mulDiv(a, b, d, true) }

// ApplyBips returns floor(amount*bips/BIPS).
func ApplyBips(amount *big.Int, bips uint64) (*big.Int, error) {
	return MulDiv(amount, new(big.Int).SetUint64(bips), bigBIPS)
}

// AnnualFee returns ceil(amount*aprBips*duration/(BIPS*YEAR)), the fee owed for
// holding amount for duration seconds at the given annual rate.
func AnnualFee(amount *big.Int, aprBips, duration uint64) (*big.Int, error) {
	rate := new(big.Int).Mul(new(big.Int).SetUint64(aprBips), new(big.Int).SetUint64(duration))
	return MulDivUp(amount, rate, new(big.Int).Mul(bigBIPS, bigYEAR))
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// IsPositive reports whether v is strictly greater than zero.
func IsPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
