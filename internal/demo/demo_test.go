package demo

import (
	"context"
	"testing"

	"protorpc/service"
)

func call(t *testing.T, reg *service.Registry, svcName, methodName string, req any) any {
	t.Helper()
	svc, ok := reg.Lookup(svcName)
	if !ok {
		t.Fatalf("service %s missing", svcName)
	}
	m, ok := svc.Method(methodName)
	if !ok {
		t.Fatalf("method %s.%s missing", svcName, methodName)
	}
	ctrl := service.NewController(nil)
	var got any
	m.Handler(context.Background(), ctrl, req, func(resp any) { got = resp })
	if ctrl.Failed() {
		t.Fatalf("%s.%s failed: %s", svcName, methodName, ctrl.ErrorText())
	}
	return got
}

func TestDemoServices(t *testing.T) {
	reg := Registry()

	if got := call(t, reg, "Math", "Add", &MathRequest{First: 2, Second: 2}).(*MathResponse); got.Result != 4 {
		t.Errorf("Add = %d", got.Result)
	}
	if got := call(t, reg, "Math", "Multiply", &MathRequest{First: 3, Second: 7}).(*MathResponse); got.Result != 21 {
		t.Errorf("Multiply = %d", got.Result)
	}
	if got := call(t, reg, "Test", "Echo", &EchoRequest{Text: "Hello world!"}).(*EchoResponse); got.Text != "Hello world!" {
		t.Errorf("Echo = %q", got.Text)
	}
	if _, ok := call(t, reg, "Test", "Ping", &PingRequest{}).(*PingResponse); !ok {
		t.Error("Ping returned the wrong type")
	}
}
