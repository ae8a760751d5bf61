package entity

import "fmt"

// Kind is the closed set of column value kinds a store can persist.
// Every field of every entity type is bound to exactly one Kind when the
// model is built, so no per-call type dispatch is needed afterwards.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindBool
	KindTime
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindInteger: "integer",
	KindReal:    "real",
	KindText:    "text",
	KindBlob:    "blob",
	KindBool:    "bool",
	KindTime:    "time",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// SQLType returns the SQLite column type used to store values of this kind.
// Bool is stored as 0/1 and Time as unix nanoseconds.
func (k Kind) SQLType() string {
	switch k {
	case KindInteger, KindBool, KindTime:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return ""
	}
}

// ParseKind maps a configuration name to a Kind
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if k != KindInvalid && n == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown kind %q", name)
}
