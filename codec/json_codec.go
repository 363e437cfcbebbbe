package codec

import (
	"encoding/json"
)

// JSONCodec uses Go's standard library encoding/json for payloads.
// It is the default: plain Go structs work without generated code.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
