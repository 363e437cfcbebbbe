package message

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrConnectionLost is wrapped by every error caused by a broken transport.
	// Calls pending on the connection when it breaks fail with it.
	ErrConnectionLost = errors.New("protorpc: connection lost")

	// ErrClosed is returned for calls issued on a channel that is already closed.
	ErrClosed = errors.New("protorpc: channel closed")
)

// RemoteError is a failure reported by the peer: either a dispatch failure
// (service/method not found, bad payload) or an application failure from the handler.
// It never terminates the channel.
type RemoteError struct {
	Code ErrorCode
	Text string
}

// NewRemoteError converts a wire ErrorInfo into a caller-visible error.
func NewRemoteError(info *ErrorInfo) *RemoteError {
	if info == nil {
		return &RemoteError{Code: MethodError, Text: DefaultText(MethodError)}
	}
	return &RemoteError{Code: info.Code, Text: info.Text}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Text)
}

// GRPCStatus lets status.FromError and status.Code classify remote errors.
func (e *RemoteError) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Text)
}

func (e *RemoteError) grpcCode() codes.Code {
	switch e.Code {
	case ServiceNotFound:
		return codes.NotFound
	case MethodNotFound:
		return codes.Unimplemented
	case UnserializeRPC, CannotDeserializeRequest:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}

// IsRemote reports whether err is (or wraps) a RemoteError, and returns it.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CodeOf returns the remote error code carried by err, or Success when err is not remote.
func CodeOf(err error) ErrorCode {
	if re, ok := IsRemote(err); ok {
		return re.Code
	}
	return Success
}
