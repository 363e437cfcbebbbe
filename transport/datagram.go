package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/server"
)

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 65535

// ErrNoRemote is returned by PacketConn.Go and Call when no default remote was configured.
var ErrNoRemote = errors.New("transport: no default remote address")

// PacketConn carries envelopes over datagrams, one envelope per datagram with no length prefix.
// Replies go back to the sender of the request. Nothing retransmits lost datagrams, so calls
// should carry a deadline.
type PacketConn struct {
	*endpoint
	pc     net.PacketConn
	remote net.Addr

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// ListenPacket opens a datagram socket with no default remote.
func ListenPacket(network, address string, opts ...Option) (*PacketConn, error) {
	pc, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return NewPacketConn(pc, nil, opts...), nil
}

// NewPacketConn takes ownership of pc. remote, if set, is the target of Go and Call.
func NewPacketConn(pc net.PacketConn, remote net.Addr, opts ...Option) *PacketConn {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	p := &PacketConn{
		endpoint: newEndpoint(o),
		pc:       pc,
		remote:   remote,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.logger = o.logger.With(zap.Stringer("local", pc.LocalAddr()))
	go p.readLoop()
	return p
}

// GoTo starts a call to addr.
func (p *PacketConn) GoTo(addr net.Addr, serviceMethod string, args, reply any) *Call {
	call, req := p.prepare(serviceMethod, args, reply)
	if req == nil {
		return call
	}
	if err := p.send(addr, &message.Envelope{Requests: []*message.Request{req}}); err != nil {
		if p.pending.forget(call.ID) {
			call.complete(err)
		}
	}
	return call
}

func (p *PacketConn) CallTo(ctx context.Context, addr net.Addr, serviceMethod string, args, reply any) error {
	return p.GoTo(addr, serviceMethod, args, reply).Wait(ctx)
}

// Go starts a call to the default remote.
func (p *PacketConn) Go(serviceMethod string, args, reply any) *Call {
	if p.remote == nil {
		call := newCall(serviceMethod, args, reply)
		call.complete(ErrNoRemote)
		return call
	}
	return p.GoTo(p.remote, serviceMethod, args, reply)
}

func (p *PacketConn) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	return p.Go(serviceMethod, args, reply).Wait(ctx)
}

// send writes one envelope as one datagram. WriteTo is safe for concurrent use.
func (p *PacketConn) send(addr net.Addr, env *message.Envelope) error {
	body, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	_, err = p.pc.WriteTo(body, addr)
	return err
}

func (p *PacketConn) replyTo(addr net.Addr) func(*message.Response) {
	return func(resp *message.Response) {
		if err := p.send(addr, &message.Envelope{Responses: []*message.Response{resp}}); err != nil {
			p.logger.Debug("failed to send response", zap.Stringer("peer", addr), zap.Error(err))
		}
	}
}

func (p *PacketConn) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := p.pc.ReadFrom(buf)
		if err != nil {
			p.closeWithError(err)
			return
		}
		env, err := codec.DecodeEnvelope(buf[:n])
		if err != nil {
			p.logger.Warn("malformed datagram", zap.Stringer("peer", addr), zap.Error(err))
			p.replyTo(addr)(server.MalformedEnvelopeResponse(err))
			continue
		}
		for _, resp := range env.Responses {
			p.resolve(resp)
		}
		if len(env.Requests) > 0 {
			p.dispatch(p.ctx, addr, env.Requests, p.replyTo(addr))
		}
	}
}

func (p *PacketConn) closeWithError(cause error) {
	p.closeOnce.Do(func() {
		p.cancel()
		p.pc.Close()
		p.failAll(cause)
		close(p.done)
	})
}

// Close closes the socket. Pending calls fail with message.ErrConnectionLost.
func (p *PacketConn) Close() error {
	p.closeWithError(message.ErrClosed)
	return nil
}

func (p *PacketConn) Done() <-chan struct{} {
	return p.done
}

func (p *PacketConn) LocalAddr() net.Addr {
	return p.pc.LocalAddr()
}
