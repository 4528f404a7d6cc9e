package control

import (
	"bytes"
	"fmt"
)

// Value is a tri-state reading. Unknown is the "no data" sentinel and must
// never be treated as a low level.
type Value int8

const (
	Unknown Value = iota
	False
	True
)

// ValueOf converts a known boolean.
func ValueOf(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns the boolean and whether it is known.
func (v Value) Bool() (value, ok bool) {
	return v == True, v != Unknown
}

func (v Value) String() string {
	switch v {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Unknown as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false and null.
func (v *Value) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true":
		*v = True
	case "false":
		*v = False
	case "null":
		*v = Unknown
	default:
		return fmt.Errorf("control: invalid value %s", b)
	}
	return nil
}
