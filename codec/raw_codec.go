package codec

import "fmt"

// RawCodec passes pre-encoded bytes through unchanged.
type RawCodec struct{}

func (RawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, nil
		}
		return *b, nil
	default:
		return nil, fmt.Errorf("RawCodec: cannot encode %T", v)
	}
}

func (RawCodec) Decode(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("RawCodec: cannot decode into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (RawCodec) Type() CodecType {
	return CodecTypeRaw
}
