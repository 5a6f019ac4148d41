package query

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Key encoding tags. Tags order values of different kinds; NULL first.
const (
	tagNull     byte = 0x01
	tagBool     byte = 0x02
	tagInt      byte = 0x10
	tagFloat    byte = 0x11
	tagString   byte = 0x20
	tagTime     byte = 0x30
	tagDuration byte = 0x31
	tagUUID     byte = 0x40
	tagJSON     byte = 0x50
)

// AppendKey appends the order-preserving encoding of a canonical value:
// for two values of the same column, bytes.Compare of their encodings
// agrees with Compare. Every encoding is self-delimiting, so encodings can
// be concatenated into composite keys.
func AppendKey(buf []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNull), nil
	case bool:
		if x {
			return append(buf, tagBool, 1), nil
		}
		return append(buf, tagBool, 0), nil
	case int64:
		return appendInt(append(buf, tagInt), x), nil
	case float64:
		if x == 0 {
			x = 0 // -0 and +0 share a key
		}
		bits := math.Float64bits(x)
		if x >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return binary.BigEndian.AppendUint64(append(buf, tagFloat), bits), nil
	case string:
		return appendString(append(buf, tagString), x), nil
	case time.Time:
		buf = appendInt(append(buf, tagTime), x.Unix())
		return binary.BigEndian.AppendUint32(buf, uint32(x.Nanosecond())), nil
	case time.Duration:
		return appendInt(append(buf, tagDuration), int64(x)), nil
	case uuid.UUID:
		return append(append(buf, tagUUID), x[:]...), nil
	case json.RawMessage:
		return appendString(append(buf, tagJSON), string(x)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as key", v)
	}
}

// EncodeKey encodes one value.
func EncodeKey(v interface{}) (string, error) {
	b, err := AppendKey(nil, v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeTuple encodes several values into one composite key.
func EncodeTuple(values ...interface{}) (string, error) {
	var (
		b   []byte
		err error
	)
	for _, v := range values {
		if b, err = AppendKey(b, v); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func appendInt(buf []byte, n int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(n)^(1<<63))
}

// appendString escapes 0x00 as 0x00 0xFF and terminates with 0x00 0x01, so
// a string sorts before every string it is a proper prefix of.
func appendString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0xFF)
			continue
		}
		buf = append(buf, s[i])
	}
	return append(buf, 0x00, 0x01)
}
