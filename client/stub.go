package client

import (
	"context"
	"fmt"
	"sort"

	"protorpc/message"
	"protorpc/service"
)

// Caller is any channel that can carry a call: *Client, *Pool, and the asynchronous
// transport.Conn and transport.PacketConn.
type Caller interface {
	Call(ctx context.Context, serviceMethod string, args, reply any) error
}

// Unary returns a typed function for one remote method.
//
//	add := client.Unary[demo.MathRequest, demo.MathResponse](c, "Math.Add")
//	resp, err := add(ctx, &demo.MathRequest{First: 2, Second: 2})
func Unary[Req, Resp any](c Caller, serviceMethod string) func(ctx context.Context, req *Req) (*Resp, error) {
	return func(ctx context.Context, req *Req) (*Resp, error) {
		resp := new(Resp)
		if err := c.Call(ctx, serviceMethod, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// Stub calls the methods of one service by name, allocating responses from the service
// descriptor.
type Stub struct {
	caller  Caller
	service string
	methods map[string]*service.Method
}

func NewStub(caller Caller, desc *service.Desc) *Stub {
	s := &Stub{
		caller:  caller,
		service: desc.Name,
		methods: make(map[string]*service.Method, len(desc.Methods)),
	}
	for _, m := range desc.Methods {
		s.methods[m.Name] = m
	}
	return s
}

// Invoke calls method with req and returns the decoded response.
func (s *Stub) Invoke(ctx context.Context, method string, req any) (any, error) {
	m, ok := s.methods[method]
	if !ok {
		return nil, fmt.Errorf("client: service %s has no method %s", s.service, method)
	}
	resp := m.NewResponse()
	if err := s.caller.Call(ctx, message.JoinMethod(s.service, method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NewRequest allocates an empty request for method, ready to be filled in.
func (s *Stub) NewRequest(method string) (any, bool) {
	m, ok := s.methods[method]
	if !ok {
		return nil, false
	}
	return m.NewRequest(), true
}

func (s *Stub) Service() string {
	return s.service
}

// Methods lists the method names in sorted order.
func (s *Stub) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
