// Package message defines the wire records exchanged between two protorpc peers.
//
// An Envelope is the unit that gets framed on the connection. It batches any number of
// Request and Response frames; in practice each write carries exactly one frame.
// The codec package turns an Envelope into bytes and the protocol package frames those bytes.
package message

import (
	"fmt"
	"strings"
)

// Envelope carries an ordered list of requests and an ordered list of responses.
// An envelope with no frames at all is valid and is used as a keepalive.
type Envelope struct {
	Requests  []*Request
	Responses []*Response
}

// Empty reports whether the envelope carries no frames.
func (e *Envelope) Empty() bool {
	return len(e.Requests) == 0 && len(e.Responses) == 0
}

// Request is one outbound call.
type Request struct {
	ID      uint64 // Per-channel correlation id, starts at 1
	Method  string // Format: "Service.Method", e.g. "Math.Add"
	Payload []byte // Serialized argument message
}

// Response answers the Request with the same ID.
//
// A response is an error response iff Error is non-nil. Otherwise Payload holds the
// serialized result, which may legitimately be zero bytes long.
type Response struct {
	ID      uint64
	Payload []byte
	Error   *ErrorInfo
}

// Failed reports whether r carries an error instead of a result.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// ErrorInfo is the transport/dispatch level error carried in a Response.
type ErrorInfo struct {
	Code ErrorCode
	Text string
}

// NewErrorResponse builds a response carrying only an error. An empty text is replaced
// with the default text for the code.
func NewErrorResponse(id uint64, code ErrorCode, text string) *Response {
	if text == "" {
		text = DefaultText(code)
	}
	return &Response{ID: id, Error: &ErrorInfo{Code: code, Text: text}}
}

// SplitMethod splits "Service.Method" on the first dot.
func SplitMethod(serviceMethod string) (service, method string, ok bool) {
	service, method, ok = strings.Cut(serviceMethod, ".")
	if !ok || service == "" || method == "" {
		return service, method, false
	}
	return service, method, true
}

// JoinMethod is the inverse of SplitMethod.
func JoinMethod(service, method string) string {
	return service + "." + method
}

// ErrorCode classifies a failed call.
type ErrorCode int32

const (
	Success                  ErrorCode = 0
	UnserializeRPC           ErrorCode = 1 // The envelope itself could not be decoded
	ServiceNotFound          ErrorCode = 2
	MethodNotFound           ErrorCode = 3
	CannotDeserializeRequest ErrorCode = 4 // The envelope was fine, the request payload was not
	MethodError              ErrorCode = 5 // The handler failed the call
)

var codeNames = map[ErrorCode]string{
	Success:                  "SUCCESS",
	UnserializeRPC:           "UNSERIALIZE_RPC",
	ServiceNotFound:          "SERVICE_NOT_FOUND",
	MethodNotFound:           "METHOD_NOT_FOUND",
	CannotDeserializeRequest: "CANNOT_DESERIALIZE_REQUEST",
	MethodError:              "METHOD_ERROR",
}

var codeTexts = map[ErrorCode]string{
	Success:                  "Success",
	UnserializeRPC:           "Error when unserializing Rpc message",
	ServiceNotFound:          "Service not found",
	MethodNotFound:           "Method not found",
	CannotDeserializeRequest: "Cannot deserialize request",
	MethodError:              "Method Error",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(c))
}

// Known reports whether c is one of the codes defined above. Unknown codes received
// from a peer are kept as-is and surface as opaque remote failures.
func (c ErrorCode) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// DefaultText returns the canonical human readable text for a code.
func DefaultText(c ErrorCode) string {
	if text, ok := codeTexts[c]; ok {
		return text
	}
	return "Unknown error"
}
