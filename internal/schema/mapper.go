package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/strata/internal/core"
)

const (
	// DateTimeLayout is fixed width so that stored text sorts chronologically.
	DateTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05.999999999"

	day = 24 * time.Hour
)

// TypeMapper handles mapping between application values, their canonical
// Go representation and the values stored by SQL engines.
//
// Canonical representations:
//
//	text     string
//	integer  int64
//	double   float64
//	boolean  bool
//	datetime time.Time (UTC)
//	date     time.Time (UTC midnight)
//	time     time.Duration since midnight
//	interval time.Duration
//	uuid     uuid.UUID
//	json     json.RawMessage (compacted)
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// Normalize converts an application value into the canonical
// representation of the data type. NULL stays nil.
func (tm *TypeMapper) Normalize(value interface{}, dt core.DataType) (interface{}, error) {
	value = deref(value)
	if value == nil {
		return nil, nil
	}

	switch dt {
	case core.TypeText:
		return tm.toString(value)
	case core.TypeInteger:
		return tm.toInt64(value)
	case core.TypeDouble:
		return tm.toFloat64(value)
	case core.TypeBoolean:
		return tm.toBool(value)
	case core.TypeDateTime:
		return tm.toDateTime(value)
	case core.TypeDate:
		return tm.toDate(value)
	case core.TypeTime:
		return tm.toTimeOfDay(value)
	case core.TypeInterval:
		return tm.toInterval(value)
	case core.TypeUUID:
		return tm.toUUID(value)
	case core.TypeJSON:
		return tm.toJSON(value)
	default:
		return nil, fmt.Errorf("unknown data type %q", dt)
	}
}

// ToSQL converts a canonical value into the value bound as a statement
// parameter.
func (tm *TypeMapper) ToSQL(value interface{}, dt core.DataType) (interface{}, error) {
	v, err := tm.Normalize(value, dt)
	if err != nil || v == nil {
		return nil, err
	}

	switch dt {
	case core.TypeBoolean:
		if v.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case core.TypeDateTime:
		return v.(time.Time).Format(DateTimeLayout), nil
	case core.TypeDate:
		return v.(time.Time).Format(DateLayout), nil
	case core.TypeTime, core.TypeInterval:
		return int64(v.(time.Duration)), nil
	case core.TypeUUID:
		return v.(uuid.UUID).String(), nil
	case core.TypeJSON:
		return string(v.(json.RawMessage)), nil
	default:
		return v, nil
	}
}

// FromSQL converts a scanned column value back into its canonical form.
// Drivers hand back int64, float64, string, []byte, bool or time.Time
// depending on the engine and protocol.
func (tm *TypeMapper) FromSQL(value interface{}, dt core.DataType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.([]byte); ok {
		if dt == core.TypeJSON {
			return tm.toJSON(json.RawMessage(append([]byte(nil), b...)))
		}
		value = string(b)
	}

	switch dt {
	case core.TypeBoolean:
		switch v := value.(type) {
		case int64:
			return v != 0, nil
		case string:
			return v == "1" || strings.EqualFold(v, "true"), nil
		}
	case core.TypeInteger, core.TypeTime, core.TypeInterval:
		if s, ok := value.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as integer: %w", s, err)
			}
			value = n
		}
		if dt == core.TypeInteger {
			return tm.toInt64(value)
		}
		n, err := tm.toInt64(value)
		if err != nil {
			return nil, err
		}
		return tm.Normalize(time.Duration(n), dt)
	case core.TypeDouble:
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as double: %w", s, err)
			}
			value = f
		}
	case core.TypeJSON:
		if s, ok := value.(string); ok {
			return tm.toJSON(json.RawMessage(s))
		}
	}
	return tm.Normalize(value, dt)
}

func deref(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func (tm *TypeMapper) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("cannot convert %T to text", value)
	}
}

func (tm *TypeMapper) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt64(v)
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case json.Number:
		return v.Int64()
	case time.Duration:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func uintToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows integer", v)
	}
	return int64(v), nil
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

func (tm *TypeMapper) toFloat64(value interface{}) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		n, err := tm.toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to double", value)
		}
		f = float64(n)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value %v is not a finite double", f)
	}
	return f, nil
}

func (tm *TypeMapper) toBool(value interface{}) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("cannot convert %T to boolean", value)
}

func (tm *TypeMapper) toDateTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse %q as datetime: %w", v, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", value)
	}
}

func (tm *TypeMapper) toDate(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		y, m, d := v.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		if t, err := time.Parse(DateLayout, v); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse %q as date", v)
		}
		return tm.toDate(t)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to date", value)
	}
}

func (tm *TypeMapper) toTimeOfDay(value interface{}) (time.Duration, error) {
	var d time.Duration
	switch v := value.(type) {
	case time.Duration:
		d = v
	case time.Time:
		d = time.Duration(v.Hour())*time.Hour + time.Duration(v.Minute())*time.Minute +
			time.Duration(v.Second())*time.Second + time.Duration(v.Nanosecond())
	case string:
		t, err := time.Parse(TimeLayout, v)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as time: %w", v, err)
		}
		return tm.toTimeOfDay(t)
	default:
		n, err := tm.toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to time", value)
		}
		d = time.Duration(n)
	}
	if d < 0 || d >= day {
		return 0, fmt.Errorf("time of day %v out of range", d)
	}
	return d, nil
}

func (tm *TypeMapper) toInterval(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as interval: %w", v, err)
		}
		return d, nil
	default:
		n, err := tm.toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to interval", value)
		}
		return time.Duration(n), nil
	}
}

func (tm *TypeMapper) toUUID(value interface{}) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	default:
		return uuid.Nil, fmt.Errorf("cannot convert %T to uuid", value)
	}
}

// toJSON accepts raw documents as json.RawMessage or []byte and marshals
// every other value.
func (tm *TypeMapper) toJSON(value interface{}) (json.RawMessage, error) {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal %T to json: %w", value, err)
		}
		raw = b
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid json document: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
