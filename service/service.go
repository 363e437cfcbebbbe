// Package service is the server-side contract between protorpc and business logic.
//
// A service is described once at startup by a Desc: a name plus a table of methods, each
// knowing how to allocate its request and response values and how to run. The Registry maps
// service names to descriptors and is read-only once serving starts, so any number of
// connections may look methods up concurrently without locking.
//
//	math := &service.Desc{
//		Name: "Math",
//		Methods: []*service.Method{
//			service.Func("Add", func(ctx context.Context, req *AddRequest) (*AddResponse, error) {
//				return &AddResponse{Result: req.First + req.Second}, nil
//			}),
//		},
//	}
//	reg, err := service.NewRegistry(math)
package service

import (
	"context"
	"fmt"
	"sort"
)

// Done finalizes a call with its response. It must be called exactly once per invocation,
// either before the handler returns or later from any goroutine.
type Done func(resp any)

// Handler runs one call. req was allocated by Method.NewRequest and already decoded.
type Handler func(ctx context.Context, ctrl *Controller, req any, done Done)

// Method is one callable entry in a service descriptor.
type Method struct {
	Name        string
	NewRequest  func() any // Allocates a value the payload codec can decode into
	NewResponse func() any // Allocates a value the payload codec can decode a reply into
	Handler     Handler
}

// Desc enumerates the methods of one service.
type Desc struct {
	Name    string
	Methods []*Method
}

// NewMethod builds a typed Method. fn receives the decoded request and calls done with the
// response, now or later.
func NewMethod[Req, Resp any](name string, fn func(ctx context.Context, ctrl *Controller, req *Req, done func(*Resp))) *Method {
	return &Method{
		Name:        name,
		NewRequest:  func() any { return new(Req) },
		NewResponse: func() any { return new(Resp) },
		Handler: func(ctx context.Context, ctrl *Controller, req any, done Done) {
			fn(ctx, ctrl, req.(*Req), func(resp *Resp) {
				if resp == nil {
					done(nil)
					return
				}
				done(resp)
			})
		},
	}
}

// Func adapts a synchronous function. A returned error fails the controller with its text.
func Func[Req, Resp any](name string, fn func(ctx context.Context, req *Req) (*Resp, error)) *Method {
	return NewMethod(name, func(ctx context.Context, ctrl *Controller, req *Req, done func(*Resp)) {
		resp, err := fn(ctx, req)
		if err != nil {
			ctrl.SetFailed(err.Error())
			done(nil)
			return
		}
		done(resp)
	})
}

// Method looks up a method by name.
func (d *Desc) Method(name string) (*Method, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Validate checks that the descriptor can be served.
func (d *Desc) Validate() error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("service: descriptor without a name")
	}
	seen := make(map[string]bool, len(d.Methods))
	for _, m := range d.Methods {
		if m == nil || m.Name == "" {
			return fmt.Errorf("service %s: method without a name", d.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("service %s: duplicate method %s", d.Name, m.Name)
		}
		if m.Handler == nil || m.NewRequest == nil || m.NewResponse == nil {
			return fmt.Errorf("service %s: method %s is incomplete", d.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// Service is a registered descriptor indexed for lookups.
type Service struct {
	desc    *Desc
	methods map[string]*Method
}

func (s *Service) Name() string {
	return s.desc.Name
}

func (s *Service) Desc() *Desc {
	return s.desc
}

func (s *Service) Method(name string) (*Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// Registry maps service names to services. Populate it before serving; it is not safe to
// Register while connections are dispatching.
type Registry struct {
	services map[string]*Service
}

func NewRegistry(descs ...*Desc) (*Registry, error) {
	r := &Registry{services: make(map[string]*Service)}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(d *Desc) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, dup := r.services[d.Name]; dup {
		return fmt.Errorf("service: %s already registered", d.Name)
	}
	svc := &Service{desc: d, methods: make(map[string]*Method, len(d.Methods))}
	for _, m := range d.Methods {
		svc.methods[m.Name] = m
	}
	r.services[d.Name] = svc
	return nil
}

func (r *Registry) Lookup(name string) (*Service, bool) {
	if r == nil {
		return nil, false
	}
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
