package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"protorpc/message"
)

// ErrMalformedEnvelope is returned by DecodeEnvelope when the bytes do not parse.
var ErrMalformedEnvelope = errors.New("codec: malformed envelope")

// Envelope schema, protobuf wire encoding:
//
//	Envelope { repeated Request request = 1; repeated Response response = 2; }
//	Request  { string method = 1; bytes payload = 2; uint64 id = 3; }
//	Response { bytes payload = 1; Error error = 2; uint64 id = 3; }
//	Error    { enum code = 1; string text = 2; }
const (
	fieldEnvelopeRequest  protowire.Number = 1
	fieldEnvelopeResponse protowire.Number = 2

	fieldRequestMethod  protowire.Number = 1
	fieldRequestPayload protowire.Number = 2
	fieldRequestID      protowire.Number = 3

	fieldResponsePayload protowire.Number = 1
	fieldResponseError   protowire.Number = 2
	fieldResponseID      protowire.Number = 3

	fieldErrorCode protowire.Number = 1
	fieldErrorText protowire.Number = 2
)

// EncodeEnvelope serializes env. It fails only on nil frames.
func EncodeEnvelope(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("codec: nil envelope")
	}
	var b []byte
	for i, req := range env.Requests {
		if req == nil {
			return nil, fmt.Errorf("codec: nil request at index %d", i)
		}
		b = protowire.AppendTag(b, fieldEnvelopeRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRequest(nil, req))
	}
	for i, resp := range env.Responses {
		if resp == nil {
			return nil, fmt.Errorf("codec: nil response at index %d", i)
		}
		b = protowire.AppendTag(b, fieldEnvelopeResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, appendResponse(nil, resp))
	}
	return b, nil
}

func appendRequest(b []byte, req *message.Request) []byte {
	b = protowire.AppendTag(b, fieldRequestMethod, protowire.BytesType)
	b = protowire.AppendString(b, req.Method)
	b = protowire.AppendTag(b, fieldRequestPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, req.Payload)
	b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
	return protowire.AppendVarint(b, req.ID)
}

func appendResponse(b []byte, resp *message.Response) []byte {
	if resp.Error != nil {
		var e []byte
		e = protowire.AppendTag(e, fieldErrorCode, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(int64(resp.Error.Code)))
		e = protowire.AppendTag(e, fieldErrorText, protowire.BytesType)
		e = protowire.AppendString(e, resp.Error.Text)
		b = protowire.AppendTag(b, fieldResponseError, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	} else {
		// Always written so that an empty result survives as "present".
		b = protowire.AppendTag(b, fieldResponsePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Payload)
	}
	b = protowire.AppendTag(b, fieldResponseID, protowire.VarintType)
	return protowire.AppendVarint(b, resp.ID)
}

// DecodeEnvelope parses bytes produced by EncodeEnvelope. Unknown fields are skipped.
func DecodeEnvelope(data []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case fieldEnvelopeRequest:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			req, err := decodeRequest(v)
			if err != nil {
				return 0, err
			}
			env.Requests = append(env.Requests, req)
			return n, nil
		case fieldEnvelopeResponse:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			resp, err := decodeResponse(v)
			if err != nil {
				return 0, err
			}
			env.Responses = append(env.Responses, resp)
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

func decodeRequest(data []byte) (*message.Request, error) {
	req := &message.Request{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldRequestMethod && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			req.Method = string(v)
			return n, nil
		case num == fieldRequestPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			req.Payload = append([]byte{}, v...)
			return n, nil
		case num == fieldRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			req.ID = v
			return n, nil
		}
		return -1, nil
	})
	return req, err
}

func decodeResponse(data []byte) (*message.Response, error) {
	resp := &message.Response{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldResponsePayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			resp.Payload = append([]byte{}, v...)
			return n, nil
		case num == fieldResponseError && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			info, err := decodeErrorInfo(v)
			if err != nil {
				return 0, err
			}
			resp.Error = info
			return n, nil
		case num == fieldResponseID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			resp.ID = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		resp.Payload = nil
	} else if resp.Payload == nil {
		resp.Payload = []byte{}
	}
	return resp, nil
}

func decodeErrorInfo(data []byte) (*message.ErrorInfo, error) {
	info := &message.ErrorInfo{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldErrorCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			info.Code = message.ErrorCode(int32(v))
			return n, nil
		case num == fieldErrorText && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			info.Text = string(v)
			return n, nil
		}
		return -1, nil
	})
	return info, err
}

// walkFields calls fn for every field in b. fn returns how many bytes of the field value
// it consumed, or -1 to have the value skipped as an unknown field.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}
