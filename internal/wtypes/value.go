package wtypes

import "fmt"

// Value is a scalar WHAIS-L value: a Kind tag plus, unless Null, one
// of a small set of backing fields. It is the payload a scalar operand
// (internal/operand) carries by value (spec §3.5, §4.5).
//
// Every primitive has a distinguished NULL value separate from its
// zero value (spec §3.1) — Null is tracked independently of the zero
// bit patterns below so that, e.g., INT32(0) and NULL INT32 are
// distinguishable.
type Value struct {
	Kind Kind
	Null bool

	i   int64    // INT8/16/32/64, UINT8/16/32/64 (bit pattern), BOOL (0/1), CHAR (rune)
	r   RichReal // REAL, RICHREAL
	d   Date
	dt  DateTime
	ht  HiresTime
	txt Text
}

// NullValue returns the distinguished NULL of kind k.
func NullValue(k Kind) Value { return Value{Kind: k, Null: true} }

func IntValue(k Kind, v int64) Value   { return Value{Kind: k, i: v} }
func BoolValue(v bool) Value           { i := int64(0); if v { i = 1 }; return Value{Kind: Bool, i: i} }
func CharValue(r rune) Value           { return Value{Kind: Char, i: int64(r)} }
func RealValue(v RichReal) Value       { return Value{Kind: Real, r: v} }
func RichRealValue(v RichReal) Value   { return Value{Kind: RichReal, r: v} }
func DateValue(v Date) Value           { return Value{Kind: Date, d: v} }
func DateTimeValue(v DateTime) Value   { return Value{Kind: DateTime, dt: v} }
func HiresTimeValue(v HiresTime) Value { return Value{Kind: HiresTime, ht: v} }
func TextValue(v Text) Value           { return Value{Kind: Text, txt: v} }

func (v Value) IsNull() bool { return v.Null }

func (v Value) AsInt64() (int64, bool) {
	if v.Null || !v.Kind.IsInteger() {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsBool() (bool, bool) {
	if v.Null || v.Kind != Bool {
		return false, false
	}
	return v.i != 0, true
}

func (v Value) AsChar() (rune, bool) {
	if v.Null || v.Kind != Char {
		return 0, false
	}
	return rune(v.i), true
}

func (v Value) AsRichReal() (RichReal, bool) {
	if v.Null || (v.Kind != Real && v.Kind != RichReal) {
		return RichReal{}, false
	}
	return v.r, true
}

func (v Value) AsDate() (Date, bool) {
	if v.Null || v.Kind != Date {
		return Date{}, false
	}
	return v.d, true
}

func (v Value) AsDateTime() (DateTime, bool) {
	if v.Null || v.Kind != DateTime {
		return DateTime{}, false
	}
	return v.dt, true
}

func (v Value) AsHiresTime() (HiresTime, bool) {
	if v.Null || v.Kind != HiresTime {
		return HiresTime{}, false
	}
	return v.ht, true
}

func (v Value) AsText() (Text, bool) {
	if v.Null || v.Kind != Text {
		return Text{}, false
	}
	return v.txt, true
}

// Widen converts v to kind target, following the round-trip and
// widening-commutes-with-null invariants of spec §8.1: a null of kind S
// widens to a null of kind target; a non-null numeric value widens to
// the mathematically equal value or returns an error on overflow.
func (v Value) Widen(target Kind) (Value, error) {
	if v.Kind == target {
		return v, nil
	}
	if v.Null {
		return NullValue(target), nil
	}

	switch {
	case v.Kind.IsInteger() && target.IsInteger():
		iv, _ := v.AsInt64()
		if !fitsInKind(iv, target) {
			return Value{}, fmt.Errorf("wtypes: overflow widening %s(%d) to %s", v.Kind, iv, target)
		}
		return IntValue(target, iv), nil
	case v.Kind.IsInteger() && (target == Real || target == RichReal):
		iv, _ := v.AsInt64()
		return Value{Kind: target, r: FromFloat64(float64(iv))}, nil
	case v.Kind == Real && target == RichReal:
		return Value{Kind: RichReal, r: v.r}, nil
	case v.Kind == RichReal && target == Real:
		return Value{Kind: Real, r: v.r}, nil
	default:
		return Value{}, fmt.Errorf("wtypes: cannot widen %s to %s", v.Kind, target)
	}
}

func fitsInKind(v int64, k Kind) bool {
	switch k {
	case Int8:
		return v >= -128 && v <= 127
	case Int16:
		return v >= -32768 && v <= 32767
	case Int32:
		return v >= -2147483648 && v <= 2147483647
	case Int64:
		return true
	case UInt8:
		return v >= 0 && v <= 0xFF
	case UInt16:
		return v >= 0 && v <= 0xFFFF
	case UInt32:
		return v >= 0 && v <= 0xFFFFFFFF
	case UInt64:
		return v >= 0
	default:
		return false
	}
}

// Cmp compares two non-null values of the same (or widen-compatible)
// kind. For REAL/RICHREAL, NULL is strictly less than any value (spec
// §4.4(c)); callers needing that rule should check IsNull before Cmp.
func (v Value) Cmp(o Value) (int, error) {
	common, err := Promote(v.Kind, o.Kind)
	if err != nil && v.Kind != o.Kind {
		// Non-numeric kinds (TEXT, temporal, BOOL, CHAR) must match exactly.
		if v.Kind != o.Kind {
			return 0, fmt.Errorf("wtypes: cannot compare %s and %s", v.Kind, o.Kind)
		}
		common = v.Kind
	}

	a, aerr := v.Widen(common)
	b, berr := o.Widen(common)
	if aerr != nil || berr != nil {
		return 0, fmt.Errorf("wtypes: comparison widening failed")
	}

	switch common {
	case Bool:
		av, _ := a.AsBool()
		bv, _ := b.AsBool()
		if av == bv {
			return 0, nil
		}
		if !av {
			return -1, nil
		}
		return 1, nil
	case Char:
		av, _ := a.AsChar()
		bv, _ := b.AsChar()
		return cmpInt(int(av), int(bv)), nil
	case Real, RichReal:
		av, _ := a.AsRichReal()
		bv, _ := b.AsRichReal()
		return av.Cmp(bv), nil
	case Date:
		av, _ := a.AsDate()
		bv, _ := b.AsDate()
		return av.Cmp(bv), nil
	case DateTime:
		av, _ := a.AsDateTime()
		bv, _ := b.AsDateTime()
		return av.Cmp(bv), nil
	case HiresTime:
		av, _ := a.AsHiresTime()
		bv, _ := b.AsHiresTime()
		return av.Cmp(bv), nil
	case Text:
		av, _ := a.AsText()
		bv, _ := b.AsText()
		return av.Cmp(bv), nil
	default:
		if common.IsInteger() {
			av, _ := a.AsInt64()
			bv, _ := b.AsInt64()
			return cmpInt64(av, bv, common.IsSigned())
		}
		return 0, fmt.Errorf("wtypes: uncomparable kind %s", common)
	}
}

func cmpInt64(a, b int64, signed bool) (int, error) {
	if signed {
		return cmpInt(int(a), int(b)), nil
	}
	ua, ub := uint64(a), uint64(b)
	switch {
	case ua < ub:
		return -1, nil
	case ua > ub:
		return 1, nil
	default:
		return 0, nil
	}
}

func (v Value) String() string {
	if v.Null {
		return fmt.Sprintf("NULL(%s)", v.Kind)
	}
	switch v.Kind {
	case Bool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%v", b)
	case Char:
		c, _ := v.AsChar()
		return string(c)
	case Real, RichReal:
		return v.r.String()
	case Date:
		return fmt.Sprintf("%04d-%02d-%02d", v.d.Year, v.d.Month, v.d.Day)
	case DateTime:
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", v.dt.Year, v.dt.Month, v.dt.Day, v.dt.Hour, v.dt.Minute, v.dt.Second)
	case HiresTime:
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", v.ht.Year, v.ht.Month, v.ht.Day, v.ht.Hour, v.ht.Minute, v.ht.Second, v.ht.Micros)
	case Text:
		return v.txt.String()
	default:
		return fmt.Sprintf("%d", v.i)
	}
}
