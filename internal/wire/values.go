package wire

import (
	"encoding/binary"

	"github.com/whais-db/whais-core/internal/faults"
	"github.com/whais-db/whais-core/internal/wtypes"
)

// Scalar wire encoding (spec §4.8 leaves the exact byte layout of
// UPDATE_STACK_TOP/READ_*_STACK_TOP payloads to the transport): a
// leading null byte, then, for a non-null value, the kind's fixed-width
// native representation, little-endian throughout, matching the
// byte-offset conventions internal/unit and internal/wtypes already use
// for on-disk/wire layouts elsewhere in this core.
func encodeValue(v wtypes.Value) ([]byte, error) {
	if v.IsNull() {
		return []byte{1}, nil
	}
	body, err := encodeValueBody(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{0}, body...), nil
}

func encodeValueBody(v wtypes.Value) ([]byte, error) {
	switch v.Kind {
	case wtypes.Bool:
		b, _ := v.AsBool()
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case wtypes.Char:
		r, _ := v.AsChar()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(r))
		return buf, nil
	case wtypes.Int8, wtypes.Int16, wtypes.Int32, wtypes.Int64,
		wtypes.UInt8, wtypes.UInt16, wtypes.UInt32, wtypes.UInt64:
		i, _ := v.AsInt64()
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		return buf, nil
	case wtypes.Real, wtypes.RichReal:
		rr, _ := v.AsRichReal()
		buf := make([]byte, 17)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(rr.IntPart))
		binary.LittleEndian.PutUint64(buf[8:16], rr.FracPart)
		if rr.FracSign {
			buf[16] = 1
		}
		return buf, nil
	case wtypes.Date:
		d, _ := v.AsDate()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Year))
		buf[2], buf[3] = d.Month, d.Day
		return buf, nil
	case wtypes.DateTime:
		dt, _ := v.AsDateTime()
		buf := make([]byte, 7)
		binary.LittleEndian.PutUint16(buf[0:2], uint16(dt.Year))
		buf[2], buf[3] = dt.Month, dt.Day
		buf[4], buf[5], buf[6] = dt.Hour, dt.Minute, dt.Second
		return buf, nil
	case wtypes.HiresTime:
		ht, _ := v.AsHiresTime()
		buf := make([]byte, 11)
		binary.LittleEndian.PutUint16(buf[0:2], uint16(ht.Year))
		buf[2], buf[3] = ht.Month, ht.Day
		buf[4], buf[5], buf[6] = ht.Hour, ht.Minute, ht.Second
		binary.LittleEndian.PutUint32(buf[7:11], ht.Micros)
		return buf, nil
	default:
		return nil, faults.Interpreter(faults.CodeFieldTypeMismatch, "wire: kind %s has no scalar wire encoding (use the TEXT/ARRAY/TABLE commands)", v.Kind)
	}
}

func decodeValue(kind wtypes.Kind, data []byte) (wtypes.Value, error) {
	if len(data) < 1 {
		return wtypes.Value{}, faults.Interpreter(faults.CodeStackCorrupted, "wire: empty scalar payload")
	}
	if data[0] != 0 {
		return wtypes.NullValue(kind), nil
	}
	body := data[1:]
	switch kind {
	case wtypes.Bool:
		if len(body) < 1 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.BoolValue(body[0] != 0), nil
	case wtypes.Char:
		if len(body) < 4 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.CharValue(rune(binary.LittleEndian.Uint32(body))), nil
	case wtypes.Int8, wtypes.Int16, wtypes.Int32, wtypes.Int64,
		wtypes.UInt8, wtypes.UInt16, wtypes.UInt32, wtypes.UInt64:
		if len(body) < 8 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.IntValue(kind, int64(binary.LittleEndian.Uint64(body))), nil
	case wtypes.Real, wtypes.RichReal:
		if len(body) < 17 {
			return wtypes.Value{}, truncated(kind)
		}
		rr := wtypes.RichReal{
			IntPart:  int64(binary.LittleEndian.Uint64(body[0:8])),
			FracPart: binary.LittleEndian.Uint64(body[8:16]),
			FracSign: body[16] != 0,
		}
		if kind == wtypes.RichReal {
			return wtypes.RichRealValue(rr), nil
		}
		return wtypes.RealValue(rr), nil
	case wtypes.Date:
		if len(body) < 4 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.DateValue(wtypes.Date{
			Year: int16(binary.LittleEndian.Uint16(body[0:2])), Month: body[2], Day: body[3],
		}), nil
	case wtypes.DateTime:
		if len(body) < 7 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.DateTimeValue(wtypes.DateTime{
			Date:   wtypes.Date{Year: int16(binary.LittleEndian.Uint16(body[0:2])), Month: body[2], Day: body[3]},
			Hour:   body[4],
			Minute: body[5],
			Second: body[6],
		}), nil
	case wtypes.HiresTime:
		if len(body) < 11 {
			return wtypes.Value{}, truncated(kind)
		}
		return wtypes.HiresTimeValue(wtypes.HiresTime{
			DateTime: wtypes.DateTime{
				Date:   wtypes.Date{Year: int16(binary.LittleEndian.Uint16(body[0:2])), Month: body[2], Day: body[3]},
				Hour:   body[4],
				Minute: body[5],
				Second: body[6],
			},
			Micros: binary.LittleEndian.Uint32(body[7:11]),
		}), nil
	default:
		return wtypes.Value{}, faults.Interpreter(faults.CodeFieldTypeMismatch, "wire: kind %s has no scalar wire encoding", kind)
	}
}

func truncated(kind wtypes.Kind) error {
	return faults.Interpreter(faults.CodeStackCorrupted, "wire: truncated %s payload", kind)
}
