package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"envelope-rpc/codec"
	"envelope-rpc/envelope"
	"envelope-rpc/message"
	"envelope-rpc/middleware"
	"envelope-rpc/outcome"
	"envelope-rpc/protocol"
	"envelope-rpc/registry"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

var errDivideByZero = errors.New("divide by zero")

type Arith struct {
	mu   sync.Mutex
	last int
}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errDivideByZero
	}
	reply.Result = args.A / args.B
	return nil
}

// Store is a void method.
func (a *Arith) Store(args *Args) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = args.A
	return nil
}

func (a *Arith) Crash(args *Args, reply *Reply) error {
	return errors.New("disk full")
}

func (a *Arith) Panic(args *Args, reply *Reply) error {
	var m map[string]int
	m["boom"] = 1
	return nil
}

// Sleep blocks for A milliseconds.
func (a *Arith) Sleep(args *Args, reply *Reply) error {
	time.Sleep(time.Duration(args.A) * time.Millisecond)
	return nil
}

// NotRPC has the wrong shape and must not be registered.
func (a *Arith) NotRPC(x int) int { return x }

func newArithServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	svr := NewServer(opts...)
	if err := svr.Register(&Arith{}, outcome.RecognizeErrors(errDivideByZero)); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}
	return svr
}

func startServer(t *testing.T, svr *Server, reg registry.Registry) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln, ln.Addr().String(), reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

// requestFrame encodes one request body.
func requestFrame(t *testing.T, serviceMethod string, args any) []byte {
	t.Helper()
	payload, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	body, err := codec.GetCodec(codec.CodecTypeJSON).Encode(&message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func writeRequest(conn net.Conn, seq uint32, body []byte) error {
	header := protocol.Header{CodecType: protocol.CodecTypeJSON, MsgType: protocol.MsgTypeRequest, Seq: seq}
	return protocol.Encode(conn, &header, body)
}

// roundTrip sends one request frame and returns the envelope of the response.
func roundTrip(t *testing.T, conn net.Conn, seq uint32, serviceMethod string, args any) envelope.Envelope {
	t.Helper()
	if err := writeRequest(conn, seq, requestFrame(t, serviceMethod, args)); err != nil {
		t.Fatal(err)
	}
	return readEnvelope(t, conn, seq)
}

// readEnvelope reads one response frame and returns its envelope.
func readEnvelope(t *testing.T, conn net.Conn, seq uint32) envelope.Envelope {
	t.Helper()
	replyHeader, responseBody, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if replyHeader.Seq != seq {
		t.Fatalf("Expect replyHeader with seq: %v, get %v", seq, replyHeader.Seq)
	}
	if replyHeader.MsgType != protocol.MsgTypeResponse {
		t.Fatalf("Expect response frame, get %v", replyHeader.MsgType)
	}

	var resp message.RPCMessage
	if err := codec.GetCodec(codec.CodecTypeJSON).Decode(responseBody, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TransportFailure() {
		t.Fatalf("unexpected transport failure %q", resp.Error)
	}
	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("response payload is not an envelope: %v (%s)", err, resp.Payload)
	}
	return env
}

func TestServer(t *testing.T) {
	addr := startServer(t, newArithServer(t), nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	env := roundTrip(t, conn, 123, "Arith.Add", &Args{1, 2})
	if env.Kind() != envelope.KindOK || env.Message() != envelope.DefaultMessage {
		t.Fatalf("expect OK envelope, got %v %q", env.Kind(), env.Message())
	}

	var reply Reply
	if err := json.Unmarshal(env.Value().(json.RawMessage), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("Expect get result = 3, get %v", reply.Result)
	}
}

func TestServerOutcomes(t *testing.T) {
	addr := startServer(t, newArithServer(t), nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	tests := []struct {
		method  string
		args    any
		kind    envelope.Kind
		message string
	}{
		{"Arith.Div", &Args{6, 3}, envelope.KindOK, "OK"},
		{"Arith.Div", &Args{6, 0}, envelope.KindRequestError, "divide by zero"},
		{"Arith.Crash", &Args{}, envelope.KindServerError, "disk full"},
		{"Arith.Store", &Args{A: 9}, envelope.KindOK, "OK"},
		{"Arith.Missing", &Args{}, envelope.KindRequestError, "rpc: can't find method Arith.Missing"},
		{"Nope.Add", &Args{}, envelope.KindRequestError, "rpc: can't find service Nope"},
		{"ArithAdd", &Args{}, envelope.KindRequestError, `rpc: invalid service method "ArithAdd"`},
		{"Arith.NotRPC", &Args{}, envelope.KindRequestError, "rpc: can't find method Arith.NotRPC"},
	}

	for i, tt := range tests {
		env := roundTrip(t, conn, uint32(i+1), tt.method, tt.args)
		if env.Kind() != tt.kind || env.Message() != tt.message {
			t.Errorf("%s(%v): got %v %q, want %v %q", tt.method, tt.args, env.Kind(), env.Message(), tt.kind, tt.message)
		}
	}
}

func TestServerPanicBecomesServerError(t *testing.T) {
	addr := startServer(t, newArithServer(t), nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	env := roundTrip(t, conn, 1, "Arith.Panic", &Args{})
	if env.Kind() != envelope.KindServerError {
		t.Fatalf("expect server error, got %v %q", env.Kind(), env.Message())
	}

	// The connection survives the panic.
	if env := roundTrip(t, conn, 2, "Arith.Add", &Args{2, 2}); !env.OK() {
		t.Fatalf("expect OK after panic, got %v", env.Kind())
	}
}

func TestServerVoidReplyIsNull(t *testing.T) {
	svr := newArithServer(t)
	out := svr.Dispatch(context.Background(), "Arith.Store", []byte(`{"A":1}`))
	if string(out) != `[null,200,"OK"]` {
		t.Fatalf("unexpected envelope %s", out)
	}
}

func TestDispatch(t *testing.T) {
	svr := newArithServer(t)

	tests := []struct {
		method  string
		payload string
		want    string
	}{
		{"Arith.Add", `{"A":20,"B":22}`, `[{"Result":42},200,"OK"]`},
		{"Arith.Add", ``, `[{"Result":0},200,"OK"]`},
		{"Arith.Div", `{"A":1,"B":0}`, `[null,400,"divide by zero"]`},
		{"Arith.Crash", `{}`, `[null,500,"disk full"]`},
	}
	for _, tt := range tests {
		out := svr.Dispatch(context.Background(), tt.method, []byte(tt.payload))
		if string(out) != tt.want {
			t.Errorf("Dispatch(%s, %q) = %s, want %s", tt.method, tt.payload, out, tt.want)
		}
	}
}

func TestDispatchInvalidArgs(t *testing.T) {
	svr := newArithServer(t)
	env, err := envelope.UnmarshalEnvelope(svr.Dispatch(context.Background(), "Arith.Add", []byte(`{"A":"x"}`)))
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind() != envelope.KindRequestError || !strings.HasPrefix(env.Message(), "rpc: invalid arguments") {
		t.Fatalf("expect invalid arguments request error, got %v %q", env.Kind(), env.Message())
	}
}

func TestMiddlewareSeesEnvelope(t *testing.T) {
	var got envelope.Kind
	svr := newArithServer(t)
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			if env, err := resp.Envelope(); err == nil {
				got = env.Kind()
			}
			return resp
		}
	})

	svr.Dispatch(context.Background(), "Arith.Div", []byte(`{"A":1,"B":0}`))
	if got != envelope.KindRequestError {
		t.Fatalf("middleware saw %v", got)
	}
}

func TestRegisterErrors(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(Reply{}, outcome.FailureSet{}); err == nil {
		t.Error("expect error for non-pointer receiver")
	}
	if err := svr.Register(&struct{}{}, outcome.FailureSet{}); err == nil {
		t.Error("expect error for receiver without methods")
	}
	if err := svr.Register(&Arith{}, outcome.FailureSet{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register(&Arith{}, outcome.FailureSet{}); err == nil {
		t.Error("expect error for duplicate service")
	}
	if err := svr.RegisterName("Calc", &Arith{}, outcome.FailureSet{}); err != nil {
		t.Fatal(err)
	}
	if out := svr.Dispatch(context.Background(), "Calc.Add", []byte(`{"A":1,"B":1}`)); string(out) != `[{"Result":2},200,"OK"]` {
		t.Fatalf("unexpected envelope %s", out)
	}
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry()
	svr := newArithServer(t)
	addr := startServer(t, svr, reg)

	deadline := time.Now().Add(time.Second)
	for {
		insts, _ := reg.Discover(context.Background(), "Arith")
		if len(insts) == 1 && insts[0].Addr == addr {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("service not registered, got %v", insts)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if insts, _ := reg.Discover(context.Background(), "Arith"); len(insts) != 0 {
		t.Fatalf("expect no instances after shutdown, got %v", insts)
	}
	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("expect listener to be closed")
	}
}

func TestShutdownWhileRequestsArrive(t *testing.T) {
	for round := 0; round < 5; round++ {
		svr := newArithServer(t)
		addr := startServer(t, svr, nil)
		body := requestFrame(t, "Arith.Add", &Args{A: 1, B: 2})

		var wg sync.WaitGroup
		started := make(chan struct{}, 4)
		for i := 0; i < 4; i++ {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { conn.Close() })

			wg.Add(2)
			go func() {
				defer wg.Done()
				for seq := uint32(1); writeRequest(conn, seq, body) == nil; seq++ {
				}
			}()
			go func() {
				defer wg.Done()
				n := 0
				defer func() {
					if n < 10 {
						started <- struct{}{}
					}
				}()
				for ; ; n++ {
					if n == 10 {
						started <- struct{}{}
					}
					if _, _, err := protocol.Decode(conn); err != nil {
						return
					}
				}
			}()
		}
		for i := 0; i < 4; i++ {
			<-started
		}

		if err := svr.Shutdown(time.Second); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: connections still open after shutdown", round)
		}
	}
}

func TestShutdownAnswersInFlightRequests(t *testing.T) {
	svr := newArithServer(t)
	addr := startServer(t, svr, nil)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := writeRequest(conn, 1, requestFrame(t, "Arith.Sleep", &Args{A: 200})); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	errc := make(chan error, 1)
	go func() { errc <- svr.Shutdown(time.Second) }()

	if env := readEnvelope(t, conn, 1); env.Kind() != envelope.KindOK {
		t.Fatalf("expect OK envelope, got %v %q", env.Kind(), env.Message())
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Fatal("expect connection to be closed after shutdown")
	}
}

func TestShutdownDoesNotWaitForTimedOutMethods(t *testing.T) {
	svr := newArithServer(t, WithMiddleware(middleware.TimeOutMiddleware(20*time.Millisecond)))
	addr := startServer(t, svr, nil)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	env := roundTrip(t, conn, 1, "Arith.Sleep", &Args{A: 500})
	if env.Kind() != envelope.KindServerError || env.Message() != middleware.TimeoutMessage {
		t.Fatalf("expect timeout envelope, got %v %q", env.Kind(), env.Message())
	}

	start := time.Now()
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("shutdown waited %v for a method that already timed out", elapsed)
	}
}
