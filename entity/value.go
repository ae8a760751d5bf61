package entity

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Value is a tagged variant holding one column value of a known Kind.
// The zero Value is invalid; use Null(kind) for SQL NULL.
type Value struct {
	kind  Kind
	valid bool
	i     int64
	f     float64
	s     string
	b     []byte
	t     time.Time
}

func Int(v int64) Value      { return Value{kind: KindInteger, valid: true, i: v} }
func Real(v float64) Value   { return Value{kind: KindReal, valid: true, f: v} }
func Text(v string) Value    { return Value{kind: KindText, valid: true, s: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, valid: true, i: boolToInt(v)} }
func Time(v time.Time) Value { return Value{kind: KindTime, valid: true, t: v} }

func Blob(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{kind: KindBlob, valid: true, b: cp}
}

// Null returns the SQL NULL of the given kind
func Null(k Kind) Value { return Value{kind: k} }

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL (or the zero Value)
func (v Value) IsNull() bool { return !v.valid }

func (v Value) AsInt() int64 {
	switch v.kind {
	case KindReal:
		return int64(v.f)
	case KindTime:
		return v.t.UnixNano()
	default:
		return v.i
	}
}

func (v Value) AsFloat() float64 {
	if v.kind == KindReal {
		return v.f
	}
	return float64(v.AsInt())
}

func (v Value) AsString() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindBlob:
		return string(v.b)
	default:
		return v.String()
	}
}

func (v Value) AsBytes() []byte {
	if v.kind == KindBlob {
		return v.b
	}
	return []byte(v.AsString())
}

func (v Value) AsBool() bool { return v.AsInt() != 0 }

func (v Value) AsTime() time.Time {
	if v.kind == KindTime {
		return v.t
	}
	return time.Unix(0, v.AsInt())
}

// Driver returns the database/sql argument for this value
func (v Value) Driver() any {
	if !v.valid {
		return nil
	}
	switch v.kind {
	case KindInteger, KindBool:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	case KindTime:
		return v.t.UnixNano()
	default:
		return nil
	}
}

// Native returns the value as a plain Go value for serialization: bool
// for Bool, time.Time for Time, nil for NULL
func (v Value) Native() any {
	if !v.valid {
		return nil
	}
	switch v.kind {
	case KindBool:
		return v.i != 0
	case KindTime:
		return v.t
	default:
		return v.Driver()
	}
}

// Decode converts a value scanned from the database into a Value of kind k.
func Decode(k Kind, src any) (Value, error) {
	if src == nil {
		return Null(k), nil
	}

	switch k {
	case KindInteger, KindBool, KindTime:
		var n int64
		switch s := src.(type) {
		case int64:
			n = s
		case int:
			n = int64(s)
		case float64:
			n = int64(s)
		case bool:
			n = boolToInt(s)
		case time.Time:
			n = s.UnixNano()
		case []byte:
			parsed, err := strconv.ParseInt(string(s), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("decode %s from %q: %w", k, s, err)
			}
			n = parsed
		case string:
			parsed, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("decode %s from %q: %w", k, s, err)
			}
			n = parsed
		default:
			return Value{}, fmt.Errorf("decode %s from %T", k, src)
		}
		switch k {
		case KindBool:
			return Bool(n != 0), nil
		case KindTime:
			return Time(time.Unix(0, n).UTC()), nil
		default:
			return Int(n), nil
		}

	case KindReal:
		// SQLite hands back whole REAL values as int64 in some code paths
		switch s := src.(type) {
		case float64:
			return Real(s), nil
		case float32:
			return Real(float64(s)), nil
		case int64:
			return Real(float64(s)), nil
		case []byte:
			f, err := strconv.ParseFloat(string(s), 64)
			if err != nil {
				return Value{}, fmt.Errorf("decode real from %q: %w", s, err)
			}
			return Real(f), nil
		case string:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Value{}, fmt.Errorf("decode real from %q: %w", s, err)
			}
			return Real(f), nil
		default:
			return Value{}, fmt.Errorf("decode real from %T", src)
		}

	case KindText:
		switch s := src.(type) {
		case string:
			return Text(s), nil
		case []byte:
			return Text(string(s)), nil
		default:
			return Text(fmt.Sprint(s)), nil
		}

	case KindBlob:
		switch s := src.(type) {
		case []byte:
			return Blob(s), nil
		case string:
			return Blob([]byte(s)), nil
		default:
			return Value{}, fmt.Errorf("decode blob from %T", src)
		}
	}

	return Value{}, fmt.Errorf("decode: unsupported kind %s", k)
}

// Equal compares kind, nullness and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.valid != o.valid {
		return false
	}
	if !v.valid {
		return true
	}
	switch v.kind {
	case KindReal:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return v.i == o.i
	}
}

func (v Value) String() string {
	if !v.valid {
		return "NULL"
	}
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}
