package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"protorpc/codec"
	"protorpc/message"
)

func TestWriteReadFrame(t *testing.T) {
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if buf.Len() != PrefixSize+len(body) {
		t.Fatalf("expected %d bytes on the wire, got %d", PrefixSize+len(body), buf.Len())
	}
	if got := binary.BigEndian.Uint32(buf.Bytes()[:4]); got != uint32(len(body)) {
		t.Fatalf("prefix = %d, want %d", got, len(body))
	}

	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("Body mismatch: got %s, want %s", got, body)
	}
}

func TestReadFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty body, got length %d", len(got))
	}
}

// Two envelopes back to back, delivered one byte per Read, must come out intact and in order.
func TestReadEnvelopeOneByteAtATime(t *testing.T) {
	first := &message.Envelope{Requests: []*message.Request{{ID: 1, Method: "Math.Add", Payload: []byte(`{"first":2,"second":2}`)}}}
	second := &message.Envelope{Responses: []*message.Response{{ID: 1, Payload: []byte(`{"result":4}`)}}}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, first); err != nil {
		t.Fatal(err)
	}
	if err := WriteEnvelope(&buf, second); err != nil {
		t.Fatal(err)
	}

	r := iotest.OneByteReader(&buf)

	got1, err := ReadEnvelope(r, 0)
	if err != nil {
		t.Fatalf("first envelope: %v", err)
	}
	if len(got1.Requests) != 1 || got1.Requests[0].Method != "Math.Add" || got1.Requests[0].ID != 1 {
		t.Fatalf("first envelope mismatch: %+v", got1)
	}
	if !bytes.Equal(got1.Requests[0].Payload, first.Requests[0].Payload) {
		t.Fatalf("first payload mismatch: %s", got1.Requests[0].Payload)
	}

	got2, err := ReadEnvelope(r, 0)
	if err != nil {
		t.Fatalf("second envelope: %v", err)
	}
	if len(got2.Responses) != 1 || string(got2.Responses[0].Payload) != `{"result":4}` {
		t.Fatalf("second envelope mismatch: %+v", got2)
	}

	if _, err := ReadEnvelope(r, 0); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after the last frame, got %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:8])

	if _, err := ReadFrame(truncated, 0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}

	// A partial prefix is also a truncated frame.
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF for a partial prefix, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 1024)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFrame(&buf, 512); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadEnvelopeMalformedKeepsSync(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	good := &message.Envelope{Requests: []*message.Request{{ID: 2, Method: "Test.Ping"}}}
	if err := WriteEnvelope(&buf, good); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadEnvelope(&buf, 0); !errors.Is(err, codec.ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
	env, err := ReadEnvelope(&buf, 0)
	if err != nil {
		t.Fatalf("stream should still be in sync: %v", err)
	}
	if env.Requests[0].ID != 2 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestReadLargeFrame(t *testing.T) {
	large := make([]byte, 1024*1024)
	for i := range large {
		large[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, large); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(iotest.HalfReader(&buf), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, large) {
		t.Error("large body mismatch")
	}
}
