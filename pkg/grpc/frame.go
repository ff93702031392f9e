package grpc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/getmockd/polyd/pkg/protocol"
)

// HeaderSize is the size of the frame prefix: a compression flag and a
// big-endian payload length.
const HeaderSize = 5

// DefaultMaxMessageSize is the payload limit of frames without an explicit
// one.
const DefaultMaxMessageSize = 4 << 20

// Frame is one length-prefixed gRPC message.
type Frame struct {
	Compressed bool
	Payload    []byte
	// Limit bounds decoded payloads; zero selects DefaultMaxMessageSize.
	Limit int
}

var _ protocol.Message = (*Frame)(nil)

// Encode implements protocol.Message.
func (f *Frame) Encode(out *bytes.Buffer) error {
	if uint64(len(f.Payload)) > math.MaxUint32 {
		return protocol.Errorf(protocol.KindEncode, "grpc payload of %d bytes", len(f.Payload))
	}
	var hdr [HeaderSize]byte
	if f.Compressed {
		hdr[0] = 1
	}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(f.Payload))) //nolint:gosec // bounded above
	out.Write(hdr[:])
	out.Write(f.Payload)
	return nil
}

// Decode implements protocol.Message. in is left untouched until a whole
// frame is buffered.
func (f *Frame) Decode(in *bytes.Buffer) (bool, error) {
	b := in.Bytes()
	if len(b) < HeaderSize {
		return false, nil
	}
	if b[0] > 1 {
		return false, protocol.Errorf(protocol.KindMalformedFrame, "grpc compression flag %#x", b[0])
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	n := binary.BigEndian.Uint32(b[1:HeaderSize])
	if uint64(n) > uint64(limit) {
		return false, protocol.Errorf(protocol.KindPayloadTooLarge, "grpc message of %d bytes exceeds %d", n, limit)
	}
	if uint64(len(b)-HeaderSize) < uint64(n) {
		return false, nil
	}

	f.Compressed = b[0] == 1
	f.Payload = append([]byte(nil), b[HeaderSize:HeaderSize+int(n)]...)
	in.Next(HeaderSize + int(n))
	return true, nil
}
