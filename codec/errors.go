// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"errors"

	"github.com/momentics/wsrpc/rpcerr"
)

// Decode failure reasons, all reported to callers wrapped in an
// *rpcerr.Error{Code: rpcerr.DecodeError}.
var (
	ErrIncompleteHeader      = errors.New("codec: incomplete chunk header")
	ErrChunkOverrun          = errors.New("codec: chunk extends past frame end")
	ErrDuplicateMsg          = errors.New("codec: duplicate MSG chunk")
	ErrUnknownChunkType      = errors.New("codec: unknown chunk type")
	ErrTrailingBytes         = errors.New("codec: trailing bytes after final chunk")
	ErrMissingMsg            = errors.New("codec: no MSG chunk present")
	ErrBufferIndexOutOfRange = errors.New("codec: buffer reference index out of range")
	ErrBufferCountMismatch   = errors.New("codec: substituted string count does not match delivered BUF chunk count")
)

// ErrUnsupportedLeaf is an encode-time failure: a leaf kind the JSON
// envelope cannot represent (the encoder found a Buf leaf that somehow
// survived substitution, or any other future unsupported kind).
var ErrUnsupportedLeaf = errors.New("codec: unsupported leaf kind")

func decodeErr(err error) error {
	return rpcerr.New(rpcerr.DecodeError, "codec.Decode", err)
}

func encodeErr(err error) error {
	return rpcerr.New(rpcerr.EncodeError, "codec.Encode", err)
}
