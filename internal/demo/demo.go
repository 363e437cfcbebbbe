// Package demo provides the Test and Math services used by the command line tools and tests.
package demo

import (
	"context"

	"protorpc/service"
)

type EchoRequest struct {
	Text string `json:"text"`
}

type EchoResponse struct {
	Text string `json:"text"`
}

type PingRequest struct{}

type PingResponse struct{}

type MathRequest struct {
	First  int64 `json:"first"`
	Second int64 `json:"second"`
}

type MathResponse struct {
	Result int64 `json:"result"`
}

// TestService answers Echo and Ping.
func TestService() *service.Desc {
	return &service.Desc{
		Name: "Test",
		Methods: []*service.Method{
			service.NewMethod("Echo", func(ctx context.Context, ctrl *service.Controller, req *EchoRequest, done func(*EchoResponse)) {
				done(&EchoResponse{Text: req.Text})
			}),
			service.NewMethod("Ping", func(ctx context.Context, ctrl *service.Controller, req *PingRequest, done func(*PingResponse)) {
				done(&PingResponse{})
			}),
		},
	}
}

func MathService() *service.Desc {
	return &service.Desc{
		Name: "Math",
		Methods: []*service.Method{
			service.Func("Add", func(ctx context.Context, req *MathRequest) (*MathResponse, error) {
				return &MathResponse{Result: req.First + req.Second}, nil
			}),
			service.Func("Multiply", func(ctx context.Context, req *MathRequest) (*MathResponse, error) {
				return &MathResponse{Result: req.First * req.Second}, nil
			}),
		},
	}
}

// Registry returns a registry holding both demo services.
func Registry() *service.Registry {
	reg, err := service.NewRegistry(TestService(), MathService())
	if err != nil {
		panic(err)
	}
	return reg
}
