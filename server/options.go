package server

import (
	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/metrics"
	"protorpc/middleware"
)

// Option configures a Dispatcher or a Server.
type Option func(*options)

type options struct {
	codec        codec.Codec
	middlewares  []middleware.Middleware
	logger       *zap.Logger
	metrics      *metrics.Metrics
	maxFrameSize uint32
}

func newOptions(opts []Option) options {
	o := options{
		codec:  codec.GetCodec(codec.CodecTypeJSON),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCodec selects the payload codec. The default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMiddleware appends middlewares; the first one is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records every dispatched call, including calls that never reach a handler.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxFrameSize bounds incoming frames. 0 keeps protocol.DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}
