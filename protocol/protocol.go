// Package protocol implements the binary frame that carries RPC messages over a stream.
//
// A fixed 14-byte header is followed by a variable-length body; the receiver reads the header
// first to learn the body length, then reads exactly that many bytes.
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ erp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes "erp" (envelope rpc protocol) reject connections that do not speak the protocol.
const (
	MagicNumber byte = 0x65 // 'e'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation made for a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// ErrBodyTooLarge is returned for a body over MaxBodyLen. Encode returns it before writing.
var ErrBodyTooLarge = errors.New("body too large")

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server
	MsgTypeResponse  MsgType = 1 // Server → Client
	MsgTypeHeartbeat MsgType = 2 // KeepAlive frame, no body
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed-size frame header.
type Header struct {
	CodecType byte    // 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Matches a response to its request on a multiplexed connection
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w between goroutines must serialize calls, or frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// One write per frame keeps header and body together on the wire.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame (header + body) from r, validating the magic number, version,
// codec type, message type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
