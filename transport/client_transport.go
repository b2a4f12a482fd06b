// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport runs many concurrent RPC calls over a single TCP connection. Each request gets
// a unique sequence ID, and a background goroutine (recvLoop) reads responses and routes them to
// the waiting caller through its pending channel.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
//
// A broken connection never surfaces as an envelope: every pending caller receives an
// RPCMessage whose Error field is set.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"envelope-rpc/codec"
	"envelope-rpc/message"
	"envelope-rpc/protocol"
)

// ErrClosed is returned when sending on a transport whose connection is gone.
var ErrClosed = errors.New("transport: connection closed")

// DefaultHeartbeatInterval is the period between heartbeat frames.
const DefaultHeartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32     // Protected by sending
	pending sync.Map   // map[uint32]chan *message.RPCMessage
	sending sync.Mutex // Serializes frame writes; also guards the closed transition
	closed  atomic.Bool
	done    chan struct{}
}

// NewClientTransport creates a transport for conn and starts its receive and heartbeat loops.
// A non-positive heartbeat disables heartbeats.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send JSON-encodes args and sends them as a request to serviceMethod.
// It returns the sequence number and a channel that receives exactly one response.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}
	return t.SendMessage(&message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
}

// SendMessage sends a prepared request.
func (t *ClientTransport) SendMessage(req *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	body, err := codec.GetCodec(t.codec).Encode(req)
	if err != nil {
		return 0, nil, err
	}

	// The whole frame is written under one lock, or concurrent writes interleave on the stream.
	t.sending.Lock()
	if t.closed.Load() {
		t.sending.Unlock()
		return 0, nil, ErrClosed
	}

	t.seq++
	seq := t.seq

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}

	// Register the response channel before writing so recvLoop cannot miss the reply.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	err = protocol.Encode(t.conn, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.pending.Delete(seq)
		// A partly written frame leaves the stream misaligned for every later call.
		if !errors.Is(err, protocol.ErrBodyTooLarge) {
			t.fail(err)
		}
		return 0, nil, err
	}
	return seq, respChan, nil
}

// RoundTrip sends req and waits for its response or for ctx to be done.
// Send failures and ctx expiry are returned as errors; a broken connection after the send comes
// back as a response with Error set.
func (t *ClientTransport) RoundTrip(ctx context.Context, req *message.RPCMessage) (*message.RPCMessage, error) {
	seq, ch, err := t.SendMessage(req)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// recvLoop reads response frames and routes each to the caller waiting on its sequence number.
// Reads must stay in one goroutine or frame boundaries are lost.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = &message.RPCMessage{Error: "transport: undecodable response: " + err.Error()}
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.RPCMessage) <- resp
		}
	}
}

// fail marks the transport closed and hands err to every pending caller so none blocks forever.
func (t *ClientTransport) fail(err error) {
	t.sending.Lock()
	first := !t.closed.Swap(true)
	t.sending.Unlock()
	if first {
		close(t.done)
		t.conn.Close()
	}

	if errors.Is(err, net.ErrClosed) {
		err = ErrClosed
	}
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: err.Error()}
		}
		return true
	})
}

// Close closes the connection. Pending calls receive a transport failure.
func (t *ClientTransport) Close() error {
	t.fail(ErrClosed)
	return nil
}

// Closed reports whether the connection is gone.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends bodiless heartbeat frames so the server and intermediaries keep the
// connection open.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
