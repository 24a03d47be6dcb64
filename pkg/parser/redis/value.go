// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/absmach/evproxy/pkg/errors"
	"github.com/tidwall/redcon"
)

// ErrMalformed is wrapped by every RESP decoding error.
var ErrMalformed = errors.ErrMalformed

// Kind is the RESP type of a Value.
type Kind int

const (
	SimpleString Kind = iota
	Error
	Integer
	Bulk
	Null
	NullArray
	Array
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "string"
	case Error:
		return "error"
	case Integer:
		return "integer"
	case Bulk:
		return "bulk"
	case Null:
		return "null"
	case NullArray:
		return "null-array"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Value is one decoded RESP value.
type Value struct {
	Kind  Kind
	Str   []byte // SimpleString, Error and Bulk payload
	Int   int64
	Array []Value
}

// NewBulk returns a bulk string value.
func NewBulk(b []byte) Value {
	return Value{Kind: Bulk, Str: b}
}

// NewString returns a simple string value.
func NewString(s string) Value {
	return Value{Kind: SimpleString, Str: []byte(s)}
}

// NewError returns an error value.
func NewError(s string) Value {
	return Value{Kind: Error, Str: []byte(s)}
}

// NewInteger returns an integer value.
func NewInteger(n int64) Value {
	return Value{Kind: Integer, Int: n}
}

// NewArray returns an array value.
func NewArray(items ...Value) Value {
	return Value{Kind: Array, Array: items}
}

// NewCommand builds a command array of bulk strings.
func NewCommand(args ...string) Value {
	items := make([]Value, len(args))
	for i, a := range args {
		items[i] = NewBulk([]byte(a))
	}
	return NewArray(items...)
}

// Bytes encodes v in RESP.
func (v Value) Bytes() []byte {
	return AppendValue(nil, v)
}

// Equal reports whether v and o encode to the same bytes.
func (v Value) Equal(o Value) bool {
	return bytes.Equal(v.Bytes(), o.Bytes())
}

// String renders v for logs, e.g. [SET, foo, bar].
func (v Value) String() string {
	switch v.Kind {
	case SimpleString, Bulk:
		return string(v.Str)
	case Error:
		return "(error) " + string(v.Str)
	case Integer:
		return strconv.FormatInt(v.Int, 10)
	case Null, NullArray:
		return "(nil)"
	case Array:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "(unknown)"
	}
}

// AppendValue appends the RESP encoding of v to b.
func AppendValue(b []byte, v Value) []byte {
	switch v.Kind {
	case SimpleString:
		return redcon.AppendString(b, string(v.Str))
	case Error:
		return redcon.AppendError(b, string(v.Str))
	case Integer:
		return redcon.AppendInt(b, v.Int)
	case Bulk:
		return redcon.AppendBulk(b, v.Str)
	case NullArray:
		return redcon.AppendArray(b, -1)
	case Array:
		b = redcon.AppendArray(b, len(v.Array))
		for _, item := range v.Array {
			b = AppendValue(b, item)
		}
		return b
	default:
		return redcon.AppendNull(b)
	}
}

// ParseCommand decodes the first client command in b, either a multibulk
// array or an inline command line. It returns n == 0 and a nil error when b
// holds no complete command yet.
func ParseCommand(b []byte) (Value, int, error) {
	complete, args, _, leftover, err := redcon.ReadNextCommand(b, nil)
	if err != nil {
		return Value{}, 0, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if !complete {
		return Value{}, 0, nil
	}
	items := make([]Value, len(args))
	for i, a := range args {
		items[i] = NewBulk(a)
	}
	return NewArray(items...), len(b) - len(leftover), nil
}

// ParseReply decodes the first server reply in b. It returns n == 0 and a
// nil error when b holds no complete reply yet.
func ParseReply(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, nil
	}
	switch b[0] {
	case redcon.Integer, redcon.String, redcon.Bulk, redcon.Array, redcon.Error:
	default:
		return Value{}, 0, fmt.Errorf("%w: unexpected type byte %q", ErrMalformed, b[0])
	}
	n, resp := redcon.ReadNextRESP(b)
	if n == 0 {
		return Value{}, 0, nil
	}
	return fromRESP(resp), n, nil
}

func fromRESP(r redcon.RESP) Value {
	switch r.Type {
	case redcon.String:
		return Value{Kind: SimpleString, Str: r.Data}
	case redcon.Error:
		return Value{Kind: Error, Str: r.Data}
	case redcon.Integer:
		return Value{Kind: Integer, Int: r.Int()}
	case redcon.Bulk:
		if bytes.HasPrefix(r.Raw, []byte("$-")) {
			return Value{Kind: Null}
		}
		return Value{Kind: Bulk, Str: r.Data}
	default:
		if r.Count < 0 {
			return Value{Kind: NullArray}
		}
		items := make([]Value, 0, r.Count)
		r.ForEach(func(item redcon.RESP) bool {
			items = append(items, fromRESP(item))
			return true
		})
		return Value{Kind: Array, Array: items}
	}
}
