package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"protorpc/message"
	"protorpc/metrics"
	"protorpc/protocol"
)

// readRequests reads envelopes from the fake peer's end until n requests have arrived.
func readRequests(nc net.Conn, n int) ([]*message.Request, error) {
	var reqs []*message.Request
	for len(reqs) < n {
		env, err := protocol.ReadEnvelope(nc, 0)
		if err != nil {
			return reqs, err
		}
		reqs = append(reqs, env.Requests...)
	}
	return reqs, nil
}

func respond(nc net.Conn, id uint64, v any) error {
	payload, _ := json.Marshal(v)
	return protocol.WriteEnvelope(nc, &message.Envelope{Responses: []*message.Response{{ID: id, Payload: payload}}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Responses answered in reverse order must still reach the call that sent each request.
func TestCorrelationOutOfOrder(t *testing.T) {
	const n = 16
	local, remote := net.Pipe()
	c := NewConn(local, WithLogger(zaptest.NewLogger(t)))
	defer c.Close()

	errc := make(chan error, 1)
	go func() {
		reqs, err := readRequests(remote, n)
		if err != nil {
			errc <- err
			return
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			var arg int
			if err := json.Unmarshal(reqs[i].Payload, &arg); err != nil {
				errc <- err
				return
			}
			if err := respond(remote, reqs[i].ID, arg*10); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	calls := make([]*Call, n)
	replies := make([]int, n)
	for i := 0; i < n; i++ {
		calls[i] = c.Go("Math.Scale", i, &replies[i])
	}
	for i, call := range calls {
		if err := call.Wait(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if replies[i] != i*10 {
			t.Errorf("call %d got %d, want %d", i, replies[i], i*10)
		}
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d after all responses", c.Pending())
	}
}

func TestConnectionLostFailsPending(t *testing.T) {
	local, remote := net.Pipe()
	closed := make(chan error, 1)
	c := NewConn(local, WithOnClose(func(_ *Conn, err error) { closed <- err }))

	go func() {
		readRequests(remote, 3)
		remote.Close()
	}()

	calls := []*Call{
		c.Go("Test.Ping", struct{}{}, nil),
		c.Go("Test.Ping", struct{}{}, nil),
		c.Go("Test.Ping", struct{}{}, nil),
	}
	for i, call := range calls {
		<-call.Done
		if !errors.Is(call.Error, message.ErrConnectionLost) {
			t.Errorf("call %d: expected ErrConnectionLost, got %v", i, call.Error)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("on-close callback did not run")
	}
	if c.Err() == nil {
		t.Fatal("Err should report the close cause")
	}

	// The connection refuses further calls.
	if err := c.Call(context.Background(), "Test.Ping", struct{}{}, nil); !errors.Is(err, message.ErrConnectionLost) {
		t.Fatalf("call after close: %v", err)
	}
}

func TestCallCancelRemovesPending(t *testing.T) {
	local, remote := net.Pipe()
	m := metrics.New()
	c := NewConn(local, WithMetrics(m))
	defer c.Close()

	reqc := make(chan *message.Request, 1)
	go func() {
		reqs, err := readRequests(remote, 1)
		if err == nil {
			reqc <- reqs[0]
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var reply int
	if err := c.Call(ctx, "Test.Slow", 1, &reply); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("cancelled call still pending")
	}

	// A late response for the abandoned call is dropped.
	req := <-reqc
	if err := respond(remote, req.ID, 5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "dropped response", func() bool { return testutil.ToFloat64(m.DroppedResponses()) == 1 })
	if reply != 0 {
		t.Fatalf("abandoned reply was written: %d", reply)
	}
}

func TestRemoteErrorKeepsConnection(t *testing.T) {
	local, remote := net.Pipe()
	c := NewConn(local)
	defer c.Close()

	go func() {
		reqs, err := readRequests(remote, 1)
		if err != nil {
			return
		}
		protocol.WriteEnvelope(remote, &message.Envelope{Responses: []*message.Response{
			message.NewErrorResponse(reqs[0].ID, message.MethodNotFound, ""),
		}})
		reqs, err = readRequests(remote, 1)
		if err != nil {
			return
		}
		respond(remote, reqs[0].ID, 4)
	}()

	err := c.Call(context.Background(), "Math.Nope", 1, nil)
	if re, ok := message.IsRemote(err); !ok || re.Code != message.MethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %v", err)
	}
	var reply int
	if err := c.Call(context.Background(), "Math.Add", 1, &reply); err != nil || reply != 4 {
		t.Fatalf("second call: %d %v", reply, err)
	}
}

func TestHeartbeat(t *testing.T) {
	local, remote := net.Pipe()
	c := NewConn(local, WithHeartbeat(10*time.Millisecond))
	defer c.Close()

	remote.SetReadDeadline(time.Now().Add(time.Second))
	env, err := protocol.ReadEnvelope(remote, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !env.Empty() {
		t.Fatalf("heartbeat should be an empty envelope, got %+v", env)
	}
}

func TestMalformedFrameAnswered(t *testing.T) {
	local, remote := net.Pipe()
	c := NewConn(local)
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		protocol.WriteFrame(remote, []byte{0xff, 0xff})
	}()

	remote.SetReadDeadline(time.Now().Add(time.Second))
	env, err := protocol.ReadEnvelope(remote, 0)
	if err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if len(env.Responses) != 1 || env.Responses[0].ID != 0 || env.Responses[0].Error.Code != message.UnserializeRPC {
		t.Fatalf("expected UNSERIALIZE_RPC, got %+v", env)
	}
	if c.Err() != nil {
		t.Fatalf("connection should survive a malformed frame: %v", c.Err())
	}
}

func TestPendingTable(t *testing.T) {
	p := newPendingTable()
	a, b := newCall("a", nil, nil), newCall("b", nil, nil)
	if err := p.add(1, a); err != nil {
		t.Fatal(err)
	}
	p.add(2, b)

	if got, ok := p.take(1); !ok || got != a {
		t.Fatal("take(1) should return a")
	}
	if _, ok := p.take(1); ok {
		t.Fatal("take must remove the entry")
	}
	if !p.forget(2) || p.forget(2) {
		t.Fatal("forget should succeed exactly once")
	}

	p.add(3, a)
	lost := errors.New("gone")
	if calls := p.failAll(lost); len(calls) != 1 || p.len() != 0 {
		t.Fatalf("failAll returned %d calls, %d left", len(calls), p.len())
	}
	if err := p.add(4, b); err != lost {
		t.Fatalf("add after failAll = %v", err)
	}
}

// An on-close callback that closes its own connection must not wedge later closes.
func TestOnCloseMayCloseConn(t *testing.T) {
	local, remote := net.Pipe()
	c := NewConn(local, WithOnClose(func(c *Conn, _ error) { c.Close() }))

	remote.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not close")
	}

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked after the on-close callback closed the connection")
	}
}
