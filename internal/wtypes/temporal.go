package wtypes

import "fmt"

// MaxYear/MinYear bound DATE/DATETIME/HIRESTIME values. Spec §9.2 flags
// the original's use of 0x7FFF in tests versus a 9999 cap elsewhere as
// an open question; this implementation adopts the recommended
// [-9999, 9999] range and rejects outliers at construction time.
const (
	MinYear = -9999
	MaxYear = 9999
)

// Date is DATE: an i16 year, u8 month, u8 day (spec §3.1).
type Date struct {
	Year  int16
	Month uint8
	Day   uint8
}

// DateTime is DATE plus u8 hour/min/sec.
type DateTime struct {
	Date
	Hour   uint8
	Minute uint8
	Second uint8
}

// HiresTime is DATETIME plus u32 microseconds.
type HiresTime struct {
	DateTime
	Micros uint32
}

var daysInMonth = [...]uint8{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func maxDay(year int, month uint8) uint8 {
	if month == 2 && isLeap(year) {
		return 29
	}
	return daysInMonth[month-1]
}

// NewDate validates and constructs a Date (spec §9.2 range decision).
func NewDate(year int16, month, day uint8) (Date, error) {
	if int(year) < MinYear || int(year) > MaxYear {
		return Date{}, fmt.Errorf("wtypes: year %d out of range [%d, %d]", year, MinYear, MaxYear)
	}
	if month < 1 || month > 12 {
		return Date{}, fmt.Errorf("wtypes: invalid month %d", month)
	}
	if day < 1 || day > maxDay(int(year), month) {
		return Date{}, fmt.Errorf("wtypes: invalid day %d for %04d-%02d", day, year, month)
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// NewDateTime validates and constructs a DateTime.
func NewDateTime(year int16, month, day, hour, minute, second uint8) (DateTime, error) {
	d, err := NewDate(year, month, day)
	if err != nil {
		return DateTime{}, err
	}
	if hour > 23 || minute > 59 || second > 59 {
		return DateTime{}, fmt.Errorf("wtypes: invalid time %02d:%02d:%02d", hour, minute, second)
	}
	return DateTime{Date: d, Hour: hour, Minute: minute, Second: second}, nil
}

// NewHiresTime validates and constructs a HiresTime.
func NewHiresTime(year int16, month, day, hour, minute, second uint8, micros uint32) (HiresTime, error) {
	dt, err := NewDateTime(year, month, day, hour, minute, second)
	if err != nil {
		return HiresTime{}, err
	}
	if micros >= 1_000_000 {
		return HiresTime{}, fmt.Errorf("wtypes: invalid microseconds %d", micros)
	}
	return HiresTime{DateTime: dt, Micros: micros}, nil
}

// Cmp orders Date values lexicographically by (year, month, day), the
// ordering the B+tree node codec relies on (spec §3.6).
func (d Date) Cmp(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(int(d.Year), int(o.Year))
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(int(d.Day), int(o.Day))
	}
}

// Cmp orders DateTime values lexicographically by (date, hour, minute, second).
func (dt DateTime) Cmp(o DateTime) int {
	if c := dt.Date.Cmp(o.Date); c != 0 {
		return c
	}
	switch {
	case dt.Hour != o.Hour:
		return cmpInt(int(dt.Hour), int(o.Hour))
	case dt.Minute != o.Minute:
		return cmpInt(int(dt.Minute), int(o.Minute))
	default:
		return cmpInt(int(dt.Second), int(o.Second))
	}
}

// Cmp orders HiresTime values lexicographically by (datetime, micros).
func (h HiresTime) Cmp(o HiresTime) int {
	if c := h.DateTime.Cmp(o.DateTime); c != 0 {
		return c
	}
	return cmpInt(int(h.Micros), int(o.Micros))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// PackedKey normalizes a temporal value to a single fixed-width signed
// integer for B+tree node storage: microseconds since a fixed epoch.
// No bit distinguishes date-only values: a Date packs to the same key
// as midnight of that day. This is the
// normalization §9.1 recommends instead of the original's per-type
// template-specialized node layouts.
func (d Date) PackedKey() int64 {
	return daysFromCivil(int(d.Year), int(d.Month), int(d.Day)) * 86400 * 1_000_000
}

func (dt DateTime) PackedKey() int64 {
	days := daysFromCivil(int(dt.Year), int(dt.Month), int(dt.Day))
	secs := int64(dt.Hour)*3600 + int64(dt.Minute)*60 + int64(dt.Second)
	return (days*86400 + secs) * 1_000_000
}

func (h HiresTime) PackedKey() int64 {
	return h.DateTime.PackedKey() + int64(h.Micros)
}

// daysFromCivil is Howard Hinnant's days-from-civil algorithm, used to
// get a monotonic day count usable across the supported year range
// without relying on time.Time (which cannot represent every DATE the
// wire format permits without a reference timezone).
func daysFromCivil(y, m, d int) int64 {
	if m <= 2 {
		y--
	}
	era := y
	if y < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400
	var mp int
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return int64(era)*146097 + int64(doe) - 719468
}
