package ipc

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

func TestEncodeRoundTrip(t *testing.T) {
	msg, err := Encode(TypeInit, InitPayload{TenantID: "tenant-1", Config: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if msg.Type != TypeInit {
		t.Fatalf("expected type %q, got %q", TypeInit, msg.Type)
	}

	var decoded InitPayload
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.TenantID != "tenant-1" {
		t.Errorf("expected tenantId tenant-1, got %q", decoded.TenantID)
	}
}

func TestConnSendRecvRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	writer := NewConn(nil, w)
	reader := NewConn(r, nil)

	sent, err := Encode(TypePing, PingPayload{Timestamp: 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	go func() {
		if err := writer.Send(sent); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	got, err := reader.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Type != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, got.Type)
	}

	var payload PingPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Timestamp != 42 {
		t.Errorf("expected ts 42, got %d", payload.Timestamp)
	}
}

func TestConnRecvReturnsEOFOnClose(t *testing.T) {
	r, w := io.Pipe()
	reader := NewConn(r, nil)

	go func() { w.Close() }()

	if _, err := reader.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestConnSendOnReadOnlyConnFails(t *testing.T) {
	r, _ := io.Pipe()
	reader := NewConn(r, nil)
	if err := reader.Send(Message{Type: TypePing}); err == nil {
		t.Fatal("expected error sending on a read-only Conn")
	}
}

func TestConnRecvOnWriteOnlyConnFails(t *testing.T) {
	_, w := io.Pipe()
	writer := NewConn(nil, w)
	if _, err := writer.Recv(); err == nil {
		t.Fatal("expected error receiving on a write-only Conn")
	}
}

func TestConnLoopDispatchesUntilContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	writer := NewConn(nil, w)
	reader := NewConn(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Message, 4)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- reader.Loop(ctx, func(msg Message) error {
			received <- msg
			return nil
		})
	}()

	msg, _ := Encode(TypeHealthReport, HealthReportPayload{Status: "ok"})
	if err := writer.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != TypeHealthReport {
			t.Fatalf("expected %q, got %q", TypeHealthReport, got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	cancel()
	select {
	case err := <-loopDone:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after cancellation")
	}
}

func TestConnLoopStopsOnHandlerError(t *testing.T) {
	r, w := io.Pipe()
	writer := NewConn(nil, w)
	reader := NewConn(r, nil)

	boom := errBoom{}
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- reader.Loop(context.Background(), func(msg Message) error {
			return boom
		})
	}()

	msg, _ := Encode(TypeShutdown, ShutdownPayload{Graceful: true})
	if err := writer.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-loopDone:
		if err != boom {
			t.Fatalf("expected handler error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after handler error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
