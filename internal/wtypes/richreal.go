package wtypes

import (
	"fmt"
	"math/big"
)

// Precision is the fixed-point scale shared by REAL and RICHREAL: both
// represent a rational as an integer part and a fractional part counted
// in units of 1/Precision (spec §3.1). This is the same constant the
// original bytecode uses for its LDRR immediate (W_LDRR_PRECISSION).
const Precision = 1_000_000_000_000_000_000

// RichReal is the fixed-point rational backing both REAL and RICHREAL
// operands: an 8-byte signed integer part plus an 8-byte fractional
// part scaled by Precision (spec §3.1). RICHREAL and REAL share this
// layout; RICHREAL values are simply carried through a Kind tag of
// RichReal rather than Real so that arithmetic promotion (wtypes.Promote)
// treats mixed REAL/RICHREAL expressions correctly.
type RichReal struct {
	IntPart  int64
	FracPart uint64 // always < Precision; sign follows IntPart (or, for IntPart==0, is carried in FracSign)
	FracSign bool   // true if the fractional part is negative and IntPart == 0
}

// RichRealZero is the additive identity.
var RichRealZero = RichReal{}

// FromFloat64 builds a RichReal approximating f.
func FromFloat64(f float64) RichReal {
	neg := f < 0
	if neg {
		f = -f
	}
	ip := int64(f)
	frac := uint64((f - float64(ip)) * float64(Precision))
	r := RichReal{IntPart: ip, FracPart: frac}
	if neg {
		if ip != 0 {
			r.IntPart = -ip
		} else {
			r.FracSign = true
		}
	}
	return r
}

// Float64 converts back to an approximate float64.
func (r RichReal) Float64() float64 {
	v := float64(r.IntPart) + float64(r.FracPart)/float64(Precision)
	if r.IntPart == 0 && r.FracSign {
		v = -v
	}
	return v
}

func (r RichReal) sign() int {
	if r.IntPart != 0 {
		if r.IntPart < 0 {
			return -1
		}
		return 1
	}
	if r.FracPart != 0 {
		if r.FracSign {
			return -1
		}
		return 1
	}
	return 0
}

// bigRat converts r to an exact big.Rat for arithmetic and comparisons
// that must not lose precision across many operations.
func (r RichReal) bigRat() *big.Rat {
	num := new(big.Int).Mul(big.NewInt(r.IntPart), big.NewInt(Precision))
	frac := new(big.Int).SetUint64(r.FracPart)
	if r.IntPart < 0 {
		frac.Neg(frac)
	} else if r.IntPart == 0 && r.FracSign {
		frac.Neg(frac)
	}
	num.Add(num, frac)
	return new(big.Rat).SetFrac(num, big.NewInt(Precision))
}

func fromBigRat(r *big.Rat) RichReal {
	scaled := new(big.Int).Mul(r.Num(), big.NewInt(Precision))
	scaled.Quo(scaled, r.Denom())

	neg := scaled.Sign() < 0
	abs := new(big.Int).Abs(scaled)
	ip := new(big.Int)
	frac := new(big.Int)
	ip.QuoRem(abs, big.NewInt(Precision), frac)

	out := RichReal{IntPart: ip.Int64(), FracPart: frac.Uint64()}
	if neg {
		if out.IntPart != 0 {
			out.IntPart = -out.IntPart
		} else {
			out.FracSign = true
		}
	}
	return out
}

// Add, Sub, Mul, Div implement the ADD/SUB/MUL/DIV opcode family for
// REAL/RICHREAL (spec §4.6 Arithmetic group).
func (r RichReal) Add(o RichReal) RichReal { return fromBigRat(new(big.Rat).Add(r.bigRat(), o.bigRat())) }
func (r RichReal) Sub(o RichReal) RichReal { return fromBigRat(new(big.Rat).Sub(r.bigRat(), o.bigRat())) }
func (r RichReal) Mul(o RichReal) RichReal { return fromBigRat(new(big.Rat).Mul(r.bigRat(), o.bigRat())) }

func (r RichReal) Div(o RichReal) (RichReal, error) {
	if o.sign() == 0 {
		return RichReal{}, fmt.Errorf("wtypes: division by zero")
	}
	return fromBigRat(new(big.Rat).Quo(r.bigRat(), o.bigRat())), nil
}

// Cmp implements the ordering used by the B+tree and the compare
// opcodes: -1, 0, 1 as r is less than, equal to, or greater than o.
func (r RichReal) Cmp(o RichReal) int {
	return r.bigRat().Cmp(o.bigRat())
}

func (r RichReal) String() string {
	return r.bigRat().FloatString(18)
}
