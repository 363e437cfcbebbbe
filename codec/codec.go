// Package codec serializes two different things:
//
//   - user payloads (request and response messages), through the Codec interface, and
//   - the Envelope that carries them, through EncodeEnvelope / DecodeEnvelope.
//
// Payload codecs are independent of the envelope format, so payload schemas can evolve
// without touching the wire envelope.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeProto CodecType = 1
	CodecTypeRaw   CodecType = 2
)

// Codec encodes and decodes request/response payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeProto:
		return ProtoCodec{}
	case CodecTypeRaw:
		return RawCodec{}
	default:
		return JSONCodec{}
	}
}

// ParseCodecType maps a config name ("json", "proto", "raw") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	case "raw", "bytes":
		return CodecTypeRaw, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeProto:
		return "proto"
	case CodecTypeRaw:
		return "raw"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
