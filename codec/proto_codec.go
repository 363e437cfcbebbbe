package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec serializes payloads that are protobuf messages.
type ProtoCodec struct{}

func (ProtoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

func (ProtoCodec) Decode(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

func (ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
