package transport

import (
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/metrics"
	"protorpc/server"
)

type Option func(*options)

type options struct {
	dispatcher   *server.Dispatcher
	codec        codec.Codec
	heartbeat    time.Duration
	onClose      func(*Conn, error)
	logger       *zap.Logger
	metrics      *metrics.Metrics
	maxFrameSize uint32
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		if o.dispatcher != nil {
			o.codec = o.dispatcher.Codec()
		} else {
			o.codec = codec.GetCodec(codec.CodecTypeJSON)
		}
	}
	return o
}

// WithDispatcher serves incoming requests on the connection, making it bidirectional.
// Without a dispatcher every incoming request is answered with SERVICE_NOT_FOUND.
func WithDispatcher(d *server.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithCodec sets the payload codec for outgoing calls. It defaults to the dispatcher's codec,
// or JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithHeartbeat sends an empty envelope every interval while the connection is open.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

// WithOnClose registers a callback run once when the connection closes, with the cause.
func WithOnClose(fn func(*Conn, error)) Option {
	return func(o *options) { o.onClose = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}
