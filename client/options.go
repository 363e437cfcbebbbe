package client

import (
	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/metrics"
)

type Option func(*options)

type options struct {
	codec        codec.Codec
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

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics counts responses that matched no waiting call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}
