// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package value implements the dynamic value tree RPC messages are built
// from: a tagged union of null, bool, int, float, string, ordered map,
// array, and byte buffer.

package value

import "fmt"

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindMap
	KindArray
	KindBuf
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	case KindBuf:
		return "buf"
	default:
		return "unknown"
	}
}

// Value is a single node of the dynamic value tree. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    *OrderedMap
	a    *Array
	buf  []byte
}

func NewNull() *Value           { return &Value{kind: KindNull} }
func NewBool(b bool) *Value     { return &Value{kind: KindBool, b: b} }
func NewInt(i int64) *Value     { return &Value{kind: KindInt, i: i} }
func NewFloat(f float64) *Value { return &Value{kind: KindFloat, f: f} }
func NewStr(s string) *Value    { return &Value{kind: KindStr, s: s} }
func NewBuf(b []byte) *Value    { return &Value{kind: KindBuf, buf: b} }
func NewMap() *Value            { return &Value{kind: KindMap, m: NewOrderedMap()} }
func NewArray() *Value          { return &Value{kind: KindArray, a: NewArrayValue()} }

// Kind returns the variant currently held.
func (v *Value) Kind() Kind { return v.kind }

func (v *Value) IsNull() bool { return v == nil || v.kind == KindNull }

func (v *Value) Bool() (bool, bool) {
	if v == nil || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v *Value) Int() (int64, bool) {
	if v == nil || v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v *Value) Float() (float64, bool) {
	if v == nil || v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v *Value) Str() (string, bool) {
	if v == nil || v.kind != KindStr {
		return "", false
	}
	return v.s, true
}

func (v *Value) Buf() ([]byte, bool) {
	if v == nil || v.kind != KindBuf {
		return nil, false
	}
	return v.buf, true
}

// Map returns the underlying OrderedMap (allocated by NewMap); returns
// nil, false for any other kind.
func (v *Value) Map() (*OrderedMap, bool) {
	if v == nil || v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

func (v *Value) Array() (*Array, bool) {
	if v == nil || v.kind != KindArray {
		return nil, false
	}
	return v.a, true
}

// SetBuf overwrites v in place to hold a byte-buffer leaf. Used by the codec
// decoder to re-bind a substituted string leaf to its BUF chunk bytes.
func (v *Value) SetBuf(b []byte) {
	v.kind = KindBuf
	v.buf = b
	v.s = ""
	v.m = nil
	v.a = nil
}

// SetStr overwrites v in place to hold a string leaf. Used by the codec
// encoder to replace a buffer leaf with its sentinel reference string.
func (v *Value) SetStr(s string) {
	v.kind = KindStr
	v.s = s
	v.buf = nil
	v.m = nil
	v.a = nil
}

// MapInt looks up key in a KindMap value and returns its int.
func (v *Value) MapInt(key string) (int64, bool) {
	m, ok := v.Map()
	if !ok {
		return 0, false
	}
	val, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return val.Int()
}

// MapStr is the string-valued analogue of MapInt.
func (v *Value) MapStr(key string) (string, bool) {
	m, ok := v.Map()
	if !ok {
		return "", false
	}
	val, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return val.Str()
}

// MapVal looks up key in a KindMap value, returning nil if absent.
func (v *Value) MapVal(key string) *Value {
	m, ok := v.Map()
	if !ok {
		return nil
	}
	val, _ := m.Get(key)
	return val
}

// SetMapVal inserts or overwrites key in a KindMap value.
func (v *Value) SetMapVal(key string, val *Value) {
	m, ok := v.Map()
	if !ok {
		panic(fmt.Sprintf("value: SetMapVal on non-map kind %s", v.kind))
	}
	m.Set(key, val)
}

// Equal performs a deep structural comparison, including buffer leaves
// byte-for-byte and map key order. The codec's round-trip guarantee is
// stated in terms of this definition of equality.
func Equal(a, b *Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindStr:
		return a.s == b.s
	case KindBuf:
		return string(a.buf) == string(b.buf)
	case KindMap:
		return a.m.Equal(b.m)
	case KindArray:
		return a.a.Equal(b.a)
	default:
		return false
	}
}
