package codec

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"protorpc/message"
)

func TestEnvelopeRoundTripRequest(t *testing.T) {
	original := &message.Request{
		ID:      42,
		Method:  "Math.Add",
		Payload: []byte(`{"first":2,"second":2}`),
	}

	data, err := EncodeEnvelope(&message.Envelope{Requests: []*message.Request{original}})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if len(env.Requests) != 1 || len(env.Responses) != 0 {
		t.Fatalf("expected 1 request and 0 responses, got %d/%d", len(env.Requests), len(env.Responses))
	}

	got := env.Requests[0]
	if got.ID != original.ID {
		t.Errorf("ID mismatch: got %d, want %d", got.ID, original.ID)
	}
	if got.Method != original.Method {
		t.Errorf("Method mismatch: got %s, want %s", got.Method, original.Method)
	}
	if !bytes.Equal(got.Payload, original.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", got.Payload, original.Payload)
	}
}

func TestEnvelopeRoundTripBatch(t *testing.T) {
	env := &message.Envelope{
		Requests: []*message.Request{
			{ID: 1, Method: "Test.Echo", Payload: []byte("a")},
			{ID: 2, Method: "Test.Ping"},
		},
		Responses: []*message.Response{
			{ID: 9, Payload: []byte("result")},
			{ID: 10, Payload: []byte{}},
			message.NewErrorResponse(11, message.MethodError, "boom"),
		},
	}

	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Requests) != 2 || got.Requests[0].ID != 1 || got.Requests[1].ID != 2 {
		t.Fatalf("request order not preserved: %+v", got.Requests)
	}
	if len(got.Responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(got.Responses))
	}
	if got.Responses[0].Failed() || string(got.Responses[0].Payload) != "result" {
		t.Errorf("response 9 mismatch: %+v", got.Responses[0])
	}
	// An empty result is still a result, not an error.
	if got.Responses[1].Failed() || got.Responses[1].Payload == nil || len(got.Responses[1].Payload) != 0 {
		t.Errorf("response 10 should carry an empty payload: %+v", got.Responses[1])
	}
	e := got.Responses[2]
	if !e.Failed() || e.Error.Code != message.MethodError || e.Error.Text != "boom" || e.Payload != nil {
		t.Errorf("response 11 mismatch: %+v %+v", e, e.Error)
	}
}

func TestEmptyEnvelope(t *testing.T) {
	data, err := EncodeEnvelope(&message.Envelope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero bytes, got %d", len(data))
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if !env.Empty() {
		t.Fatal("expected an empty envelope")
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	data, err := EncodeEnvelope(&message.Envelope{Requests: []*message.Request{{ID: 3, Method: "Test.Ping"}}})
	if err != nil {
		t.Fatal(err)
	}
	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendString(data, "added by a newer peer")
	data = protowire.AppendTag(data, 16, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("unknown fields should be skipped: %v", err)
	}
	if len(env.Requests) != 1 || env.Requests[0].ID != 3 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecodeUnknownErrorCode(t *testing.T) {
	data, err := EncodeEnvelope(&message.Envelope{Responses: []*message.Response{
		{ID: 1, Error: &message.ErrorInfo{Code: 77, Text: "new code"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Responses[0].Error.Code != 77 {
		t.Fatalf("unknown codes must be preserved, got %s", env.Responses[0].Error.Code)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated tag":    {0xff, 0xff},
		"truncated bytes":  {0x0a, 0x05, 0x01},
		"bad nested frame": {0x0a, 0x02, 0x18, 0xff},
		"field number 0":   {0x00, 0x01},
	}
	for name, data := range cases {
		_, err := DecodeEnvelope(data)
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("%s: expected ErrMalformedEnvelope, got %v", name, err)
		}
	}
}

func TestEncodeNilFrame(t *testing.T) {
	if _, err := EncodeEnvelope(&message.Envelope{Requests: []*message.Request{nil}}); err == nil {
		t.Fatal("expected error for nil request")
	}
	if _, err := EncodeEnvelope(nil); err == nil {
		t.Fatal("expected error for nil envelope")
	}
}

type mathRequest struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

func TestJSONCodec(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	data, err := c.Encode(&mathRequest{First: 1, Second: 2})
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	var out mathRequest
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	if out.First != 1 || out.Second != 2 {
		t.Errorf("got %+v", out)
	}
	if err := c.Decode([]byte("{not json"), &out); err == nil {
		t.Error("expected decode error")
	}
}

func TestProtoCodec(t *testing.T) {
	c := GetCodec(CodecTypeProto)
	if c.Type() != CodecTypeProto {
		t.Fatalf("type = %s", c.Type())
	}
	data, err := c.Encode(wrapperspb.String("Hello world!"))
	if err != nil {
		t.Fatal(err)
	}
	out := &wrapperspb.StringValue{}
	if err := c.Decode(data, out); err != nil {
		t.Fatal(err)
	}
	if !proto.Equal(out, wrapperspb.String("Hello world!")) {
		t.Errorf("got %v", out)
	}
	if _, err := c.Encode(&mathRequest{}); err == nil {
		t.Error("expected error for non-proto value")
	}
	if err := c.Decode([]byte{0xff}, out); err == nil {
		t.Error("expected error for garbage bytes")
	}
}

func TestRawCodec(t *testing.T) {
	c := GetCodec(CodecTypeRaw)
	data, err := c.Encode([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	var out []byte
	if err := c.Decode(data, &out); err != nil {
		t.Fatal(err)
	}
	if string(out) != "abc" {
		t.Errorf("got %q", out)
	}
	if _, err := c.Encode(42); err == nil {
		t.Error("expected error encoding an int")
	}
}

func TestParseCodecType(t *testing.T) {
	for name, want := range map[string]CodecType{"": CodecTypeJSON, "JSON": CodecTypeJSON, "protobuf": CodecTypeProto, "raw": CodecTypeRaw} {
		got, err := ParseCodecType(name)
		if err != nil || got != want {
			t.Errorf("ParseCodecType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseCodecType("xml"); err == nil {
		t.Error("expected error for xml")
	}
}
