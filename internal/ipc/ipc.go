// Package ipc defines the newline-delimited JSON protocol the Tenant
// Orchestrator (parent) and a Tenant Worker (child) exchange over the
// child's stdin/stdout (spec.md §4.1).
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Message type tags. Parent→Child: Init, Ping, Shutdown, TriggerSync,
// AddWebhookJob, TriggerReconciliation. Child→Parent: Ready, Pong,
// HealthReport, ErrorReport, SyncEvent, ShutdownComplete.
const (
	TypeInit                  = "init"
	TypePing                  = "ping"
	TypeShutdown              = "shutdown"
	TypeTriggerSync           = "trigger_sync"
	TypeAddWebhookJob         = "add_webhook_job"
	TypeTriggerReconciliation = "trigger_reconciliation"

	TypeReady            = "ready"
	TypePong             = "pong"
	TypeHealthReport     = "health_report"
	TypeErrorReport      = "error_report"
	TypeSyncEvent        = "sync_event"
	TypeShutdownComplete = "shutdown_complete"
)

// Message is one newline-delimited JSON record on the wire.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitPayload bootstraps a freshly spawned worker with its tenant id and
// serialized domain.Config.
type InitPayload struct {
	TenantID string          `json:"tenantId"`
	Config   json.RawMessage `json:"config"`
}

// PingPayload/PongPayload carry the liveness-check timestamp round trip.
type PingPayload struct {
	Timestamp int64 `json:"ts"`
}

type PongPayload struct {
	Timestamp int64 `json:"ts"`
}

// ShutdownPayload requests the worker stop. The orchestrator always sends
// Graceful=true, and the worker's shutdown handling does not read the
// flag.
type ShutdownPayload struct {
	Graceful bool `json:"graceful"`
}

// TriggerSyncPayload requests an out-of-band sync (spec.md §4.1).
type TriggerSyncPayload struct {
	ChannelID string `json:"channelId"`
	Scope     string `json:"scope"` // "full", "channel", "product"
	ProductID string `json:"productId,omitempty"`
}

// AddWebhookJobPayload forwards a webhook accepted on the orchestrator's
// shared HTTP listener to the owning tenant's worker, which runs the rest
// of the Watcher's pipeline (channel resolution, signature verification,
// normalization, enqueue) against it.
type AddWebhookJobPayload struct {
	ChannelKind string `json:"channelKind"`
	InstanceID  string `json:"instanceId"`
	RawPayload  []byte `json:"rawPayload"`
	Signature   string `json:"signature,omitempty"`
}

// TriggerReconciliationPayload requests an out-of-band Guardian pass.
type TriggerReconciliationPayload struct {
	AutoRepair bool `json:"autoRepair"`
}

// ReadyPayload confirms a worker has finished bootstrapping.
type ReadyPayload struct {
	PID int `json:"pid"`
}

// HealthReportPayload is the worker's periodic self-assessment.
type HealthReportPayload struct {
	Status string `json:"status"`
}

// ErrorReportPayload surfaces a fatal or non-fatal worker error.
type ErrorReportPayload struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// SyncEventPayload mirrors one locally published EventBus message up to
// the orchestrator, for cross-tenant observability.
type SyncEventPayload struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// Encode marshals a typed payload into a Message of the given type.
func Encode(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// Conn frames newline-delimited JSON Messages over an arbitrary
// io.Writer/io.Reader pair — a child's stdin/stdout from the parent's
// side, or os.Stdin/os.Stdout from the child's side.
type Conn struct {
	mu  sync.Mutex
	enc *json.Encoder
	sc  *bufio.Scanner
}

// NewConn wraps r/w as a framed IPC connection. Either may be nil for a
// one-directional Conn.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{}
	if w != nil {
		c.enc = json.NewEncoder(w)
	}
	if r != nil {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		c.sc = sc
	}
	return c
}

// Send writes one Message, newline-terminated. Safe for concurrent callers.
func (c *Conn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return fmt.Errorf("ipc: connection is not writable")
	}
	return c.enc.Encode(msg)
}

// Recv blocks for the next Message, returning io.EOF when the peer
// closes its side.
func (c *Conn) Recv() (Message, error) {
	if c.sc == nil {
		return Message{}, fmt.Errorf("ipc: connection is not readable")
	}
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, io.EOF
	}
	var msg Message
	if err := json.Unmarshal(c.sc.Bytes(), &msg); err != nil {
		return Message{}, fmt.Errorf("decode ipc message: %w", err)
	}
	return msg, nil
}

// Loop reads Messages until ctx is cancelled or Recv returns an error,
// dispatching each to handler. Intended to run in its own goroutine on
// both the parent and child sides of the pipe.
func (c *Conn) Loop(ctx context.Context, handler func(Message) error) error {
	type result struct {
		msg Message
		err error
	}
	recvCh := make(chan result)

	go func() {
		for {
			msg, err := c.Recv()
			recvCh <- result{msg, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-recvCh:
			if r.err != nil {
				return r.err
			}
			if err := handler(r.msg); err != nil {
				return err
			}
		}
	}
}
