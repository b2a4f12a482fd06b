package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"envelope-rpc/message"
)

var errNotMessage = errors.New("BinaryCodec: v must be *RPCMessage")

// BinaryCodec lays an RPCMessage out as three length-prefixed fields:
//
//	┌────────┬───────────────┬────────┬─────────┬────────┬───────┐
//	│ u16 n  │ ServiceMethod │ u32 n  │ Payload │ u16 n  │ Error │
//	└────────┴───────────────┴────────┴─────────┴────────┴───────┘
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotMessage
	}
	if len(msg.ServiceMethod) > math.MaxUint16 || len(msg.Error) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: string field longer than %d bytes", math.MaxUint16)
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload longer than %d bytes", uint32(math.MaxUint32))
	}

	total := 2 + len(msg.ServiceMethod) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.ServiceMethod)))
	buf = append(buf, msg.ServiceMethod...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Error)))
	buf = append(buf, msg.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotMessage
	}

	r := binReader{data: data}
	method := r.next(int(r.u16()))
	payload := r.next(int(r.u32()))
	errText := r.next(int(r.u16()))
	if r.err != nil {
		return r.err
	}
	if len(r.data) != 0 {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(r.data))
	}

	msg.ServiceMethod = string(method)
	msg.Payload = append([]byte(nil), payload...)
	msg.Error = string(errText)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// binReader consumes data front to back and remembers the first short read.
type binReader struct {
	data []byte
	err  error
}

func (r *binReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.data) {
		r.err = fmt.Errorf("BinaryCodec: truncated message, need %d bytes, have %d", n, len(r.data))
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *binReader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *binReader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
