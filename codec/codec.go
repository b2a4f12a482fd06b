// Package codec serializes RPCMessage frames bodies.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a flag value ("json" or "binary") to a CodecType.
func ParseCodecType(s string) (CodecType, error) {
	switch s {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", s)
	}
}

// GetCodec returns the codec for codecType. Unknown types fall back to JSON.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}

	return &JSONCodec{}
}
