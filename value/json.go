// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// JSON encode/decode for Value, hand-rolled over encoding/json's streaming
// Decoder/token API rather than json.Marshal/Unmarshal directly: the stdlib
// does not preserve map key order on its own, and every RPC envelope must
// round-trip map order exactly.

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Replacer is invoked on every non-null Value visited during MarshalJSON
// (maps and arrays included, null leaves skipped), in tree order. It may
// mutate v in place (e.g. substituting a Buf leaf with a sentinel string).
type Replacer func(v *Value)

// MarshalJSON renders v as JSON text. If replacer is non-nil it is called on
// every non-null node (containers before their children) before it is
// written, in depth-first order.
func MarshalJSON(v *Value, replacer Replacer) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v, replacer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v *Value, replacer Replacer) error {
	if v.IsNull() {
		buf.WriteString("null")
		return nil
	}
	if replacer != nil {
		replacer(v)
	}
	switch v.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		enc, err := json.Marshal(v.f)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case KindStr:
		enc, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.m.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			val, _ := v.m.Get(k)
			if err := writeValue(buf, val, replacer); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i := 0; i < v.a.Len(); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, v.a.At(i), replacer); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindBuf:
		return fmt.Errorf("value: unsupported leaf kind %s in JSON envelope (buffers must be substituted first)", v.Kind())
	default:
		return fmt.Errorf("value: unknown kind %d", v.Kind())
	}
	return nil
}

// LeafVisitor is invoked for every decoded leaf Value, in tree order, so the
// codec decoder can recognize and rebind buffer-reference strings.
type LeafVisitor func(v *Value)

// UnmarshalJSON parses JSON text into a Value tree, preserving object key
// order. If visit is non-nil it is called on every leaf Value immediately
// after it is built.
func UnmarshalJSON(data []byte, visit LeafVisitor) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec, visit)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("value: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, visit LeafVisitor) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok, visit)
}

func decodeToken(dec *json.Decoder, tok json.Token, visit LeafVisitor) (*Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("value: expected object key, got %v", keyTok)
				}
				val, err := decodeValue(dec, visit)
				if err != nil {
					return nil, err
				}
				mm, _ := m.Map()
				mm.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return m, nil
		case '[':
			a := NewArray()
			for dec.More() {
				val, err := decodeValue(dec, visit)
				if err != nil {
					return nil, err
				}
				aa, _ := a.Array()
				aa.Append(val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return a, nil
		default:
			return nil, fmt.Errorf("value: unexpected delimiter %v", t)
		}
	case nil:
		return leaf(NewNull(), visit), nil
	case bool:
		return leaf(NewBool(t), visit), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return leaf(NewInt(i), visit), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return leaf(NewFloat(f), visit), nil
	case string:
		return leaf(NewStr(t), visit), nil
	default:
		return nil, fmt.Errorf("value: unsupported JSON token %T", t)
	}
}

func leaf(v *Value, visit LeafVisitor) *Value {
	if visit != nil {
		visit(v)
	}
	return v
}
