// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package codec implements the wsrpc wire format: a value tree is carried
// either as a bare JSON envelope (text frame) or, when it contains
// byte-buffer leaves, as a sequence of 4-byte-aligned, 8-byte-header-prefixed
// chunks (binary frame).
package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/wsrpc/value"
)

// Chunk types carried in binary frames. Exactly one ChunkMsg per message,
// one ChunkBuf per byte-buffer leaf, in leaf order.
const (
	ChunkMsg uint32 = 1
	ChunkBuf uint32 = 2
)

// BufferPrefix is the sentinel that replaces a byte-buffer leaf in the JSON
// envelope. ASCII BS (0x08) repeated six times is visibly distinct from
// ordinary string content and unlikely to collide with it, while keeping the
// envelope valid JSON for text-only consumers.
const BufferPrefix = "\b\b\b\b\b\b"

const chunkHeaderSize = 8 // 2x uint32, little-endian
const chunkAlignment = 4

// Encoder turns a value.Value tree into a physical WebSocket frame payload.
// An Encoder is not safe for concurrent use; each client slot owns its own
// encoder instance.
type Encoder struct {
	bufs [][]byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode renders msg as a frame payload. The returned bool is true when the
// frame must be sent as a WebSocket text message, false for binary. msg's
// byte-buffer leaves are mutated in place into sentinel-reference strings;
// callers that need the tree intact afterward must encode a copy.
func (e *Encoder) Encode(msg *value.Value) ([]byte, bool, error) {
	e.bufs = e.bufs[:0]

	jsonBytes, err := value.MarshalJSON(msg, e.substituteBuf)
	if err != nil {
		return nil, false, encodeErr(fmt.Errorf("%w: %w", ErrUnsupportedLeaf, err))
	}

	if len(e.bufs) == 0 {
		return jsonBytes, true, nil
	}

	out := appendChunk(nil, ChunkMsg, jsonBytes)
	for _, b := range e.bufs {
		out = appendChunk(out, ChunkBuf, b)
	}
	return out, false, nil
}

// substituteBuf is the MarshalJSON leaf hook: it copies a Buf leaf's bytes
// into the encoder's own staging array, so the encoder keeps no reference to
// the caller's byte slice, and rewrites the leaf in place as a
// BufferPrefix-sentinel string.
func (e *Encoder) substituteBuf(v *value.Value) {
	b, ok := v.Buf()
	if !ok {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	idx := len(e.bufs)
	e.bufs = append(e.bufs, cp)
	v.SetStr(BufferPrefix + strconv.Itoa(idx))
}

func appendChunk(out []byte, typ uint32, data []byte) []byte {
	var header [chunkHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], typ)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	out = append(out, header[:]...)
	out = append(out, data...)
	pad := (chunkAlignment - len(data)%chunkAlignment) % chunkAlignment
	for i := 0; i < pad; i++ {
		out = append(out, 0)
	}
	return out
}

// Decoder turns a physical WebSocket frame payload back into a value.Value
// tree. A Decoder is not safe for concurrent use.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses frame (isText indicates the physical WebSocket frame type)
// into a value tree. Buffer leaves alias frame's own backing array
// (zero-copy); the caller must keep frame alive for as long as the returned
// tree is in use, or call DecodeCopy instead.
func (d *Decoder) Decode(isText bool, frame []byte) (*value.Value, error) {
	return d.decode(isText, frame, false)
}

// DecodeCopy is identical to Decode except buffer leaves are copied out of
// frame, so frame may be reused or released immediately after this returns.
func (d *Decoder) DecodeCopy(isText bool, frame []byte) (*value.Value, error) {
	return d.decode(isText, frame, true)
}

func (d *Decoder) decode(isText bool, frame []byte, copyBufs bool) (*value.Value, error) {
	if isText {
		v, err := value.UnmarshalJSON(frame, nil)
		if err != nil {
			return nil, decodeErr(err)
		}
		return v, nil
	}

	var msgBytes []byte
	haveMsg := false
	var bufChunks [][]byte

	pos := 0
	for pos < len(frame) {
		if pos+chunkHeaderSize > len(frame) {
			return nil, decodeErr(ErrIncompleteHeader)
		}
		typ := binary.LittleEndian.Uint32(frame[pos : pos+4])
		size := binary.LittleEndian.Uint32(frame[pos+4 : pos+8])
		pos += chunkHeaderSize

		if pos+int(size) > len(frame) {
			return nil, decodeErr(ErrChunkOverrun)
		}
		data := frame[pos : pos+int(size)]
		pos += int(size)

		switch typ {
		case ChunkMsg:
			if haveMsg {
				return nil, decodeErr(ErrDuplicateMsg)
			}
			haveMsg = true
			msgBytes = data
		case ChunkBuf:
			bufChunks = append(bufChunks, data)
		default:
			return nil, decodeErr(ErrUnknownChunkType)
		}

		pad := (chunkAlignment - pos%chunkAlignment) % chunkAlignment
		pos += pad
	}
	if pos != len(frame) {
		return nil, decodeErr(ErrTrailingBytes)
	}
	if !haveMsg {
		return nil, decodeErr(ErrMissingMsg)
	}

	var refs []*value.Value
	v, err := value.UnmarshalJSON(msgBytes, func(leaf *value.Value) {
		s, ok := leaf.Str()
		if !ok || !strings.HasPrefix(s, BufferPrefix) {
			return
		}
		refs = append(refs, leaf)
	})
	if err != nil {
		return nil, decodeErr(err)
	}
	if len(refs) != len(bufChunks) {
		return nil, decodeErr(ErrBufferCountMismatch)
	}

	for _, leaf := range refs {
		s, _ := leaf.Str()
		idx, err := strconv.Atoi(s[len(BufferPrefix):])
		if err != nil || idx < 0 || idx >= len(bufChunks) {
			return nil, decodeErr(ErrBufferIndexOutOfRange)
		}
		data := bufChunks[idx]
		if copyBufs {
			cp := make([]byte, len(data))
			copy(cp, data)
			data = cp
		}
		leaf.SetBuf(data)
	}

	return v, nil
}
