package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corectl/supervisor/internal/errs"
)

// Handler consumes messages delivered to a registered process. For
// requests, the returned payload (or error) becomes the Response. A nil
// handler leaves messages in the process's inbox for polling.
type Handler func(Message) (json.RawMessage, error)

// Connection describes one registered IPC participant.
type Connection struct {
	ProcessID    string
	PID          int32
	RegisteredAt time.Time
	Inbox        int // queued undelivered messages
}

const inboxCapacity = 128

type endpoint struct {
	processID string
	pid       int32
	since     time.Time
	handler   Handler
	inbox     chan Message
}

// Broker is the in-process IPC implementation: channels keyed by
// processId, request/response with timeouts, and best-effort broadcast.
type Broker struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	channelID string
}

// NewBroker constructs a Broker with its own channel namespace.
func NewBroker() *Broker {
	return &Broker{
		endpoints: make(map[string]*endpoint),
		channelID: "channel-" + uuid.NewString()[:8],
	}
}

// Register allocates "process-<pid>" and its inbox. handler may be nil.
// Re-registering an active processId fails.
func (b *Broker) Register(pid int32, handler Handler) (string, error) {
	processID := fmt.Sprintf("process-%d", pid)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.endpoints[processID]; exists {
		return "", fmt.Errorf("%w: %q already registered", errs.ErrIPCConnection, processID)
	}
	b.endpoints[processID] = &endpoint{
		processID: processID,
		pid:       pid,
		since:     time.Now(),
		handler:   handler,
		inbox:     make(chan Message, inboxCapacity),
	}
	return processID, nil
}

// Unregister releases processID. Idempotent.
func (b *Broker) Unregister(processID string) {
	b.mu.Lock()
	delete(b.endpoints, processID)
	b.mu.Unlock()
}

// Connections lists all registered participants.
func (b *Broker) Connections() []Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Connection, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		out = append(out, Connection{
			ProcessID:    ep.processID,
			PID:          ep.pid,
			RegisteredAt: ep.since,
			Inbox:        len(ep.inbox),
		})
	}
	return out
}

func (b *Broker) lookup(processID string) (*endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[processID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown processId %q", errs.ErrIPCConnection, processID)
	}
	return ep, nil
}

func (b *Broker) newMessage(senderID, targetID string, payload json.RawMessage) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      "message",
		Timestamp: time.Now(),
		SenderID:  senderID,
		TargetID:  targetID,
		ChannelID: b.channelID,
		Priority:  PriorityNormal,
		Payload:   payload,
	}
}

// SendToProcess is fire-and-forget delivery to one process. When the
// endpoint has a handler, delivery is synchronous through it; otherwise
// the message lands in the inbox (dropped when full).
func (b *Broker) SendToProcess(processID string, payload json.RawMessage) error {
	ep, err := b.lookup(processID)
	if err != nil {
		return err
	}
	msg := b.newMessage("supervisor", processID, payload)
	if ep.handler != nil {
		_, _ = ep.handler(msg)
		return nil
	}
	select {
	case ep.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: inbox full for %q", errs.ErrIPCConnection, processID)
	}
}

// RequestFromProcess delivers a request and waits for the handler's
// response up to timeout. A target with no handler never responds, so the
// call ends with IPCTimeoutError once timeout elapses.
func (b *Broker) RequestFromProcess(ctx context.Context, processID string, payload json.RawMessage, timeout time.Duration) (Response, error) {
	ep, err := b.lookup(processID)
	if err != nil {
		return Response{}, err
	}

	msg := b.newMessage("supervisor", processID, payload)
	msg.Type = "request"
	msg.ExpectsResponse = true
	msg.Timeout = timeout

	respCh := make(chan Response, 1)
	if ep.handler != nil {
		go func() {
			out, herr := ep.handler(msg)
			resp := Response{RequestID: msg.ID, Success: herr == nil, Payload: out}
			if herr != nil {
				resp.Error = herr.Error()
			}
			respCh <- resp
		}()
	} else {
		// Queue for a poller that may never answer; the timeout below is
		// the caller's only exit.
		select {
		case ep.inbox <- msg:
		default:
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("%w: %q did not respond within %s", errs.ErrIPCTimeout, processID, timeout)
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %v", errs.ErrIPCTimeout, ctx.Err())
	}
}

// BroadcastToProcesses delivers payload to every registered process,
// best-effort. Returns the number of successful deliveries.
func (b *Broker) BroadcastToProcesses(payload json.RawMessage) int {
	b.mu.RLock()
	ids := make([]string, 0, len(b.endpoints))
	for id := range b.endpoints {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		if err := b.SendToProcess(id, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Receive pops the next queued message for processID, for handler-less
// endpoints that poll their inbox. Returns (zero, false) when empty.
func (b *Broker) Receive(processID string) (Message, bool) {
	ep, err := b.lookup(processID)
	if err != nil {
		return Message{}, false
	}
	select {
	case msg := <-ep.inbox:
		return msg, true
	default:
		return Message{}, false
	}
}
