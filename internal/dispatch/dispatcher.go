// Package dispatch implements the Request Dispatcher: it mints
// correlation ids, registers single-use waiters, writes framed
// messages to a backend, and routes inbound responses back to the
// waiter whose id matches. It is the sole installer of the backend's
// steady-state stdout handler once the Initialization FSM hands off.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/logging"
)

// ErrTimeout is returned when a dispatch exceeds its deadline. The
// waiter is always unregistered before this error reaches the caller.
var ErrTimeout = errors.New("dispatch timed out")

// RemoteError wraps the message field of a JSON-RPC error object
// returned by the backend.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type rpcOut struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcIn struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type result struct {
	payload json.RawMessage
	err     error
}

// Dispatcher multiplexes many concurrent callers over one backend
// Process, correlating responses to requests strictly by id.
type Dispatcher struct {
	proc    *backend.Process
	logger  *logging.Logger
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan result
}

// New attaches a Dispatcher to proc as its steady-state handler. proc
// must already have completed its Initialization FSM handshake.
func New(proc *backend.Process, logger *logging.Logger, timeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		proc:    proc,
		logger:  logger,
		timeout: timeout,
		waiters: make(map[string]chan result),
	}
	proc.SetHandler(d.handleInbound)
	go d.watchExit()
	return d
}

// Dispatch sends method/params to the backend and blocks until a
// matching response arrives, the dispatch deadline elapses, the
// backend exits, or ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.New().String()

	req := rpcOut{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan result, 1)
	d.mu.Lock()
	d.waiters[id] = ch
	d.mu.Unlock()

	removeWaiter := func() {
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
	}

	if err := d.proc.Write(payload); err != nil {
		removeWaiter()
		return nil, err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		removeWaiter()
		return nil, ErrTimeout
	case <-ctx.Done():
		removeWaiter()
		return nil, ctx.Err()
	}
}

// Send writes a fire-and-forget notification (no correlation id) to
// the backend without registering a waiter.
func (d *Dispatcher) Send(method string, params any) error {
	notify := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", Method: method, Params: params}
	payload, err := json.Marshal(notify)
	if err != nil {
		return err
	}
	return d.proc.Write(payload)
}

func (d *Dispatcher) handleInbound(obj json.RawMessage) {
	var msg rpcIn
	if err := json.Unmarshal(obj, &msg); err != nil {
		d.logger.Debug(context.Background(), "dispatch_unparsable_response", map[string]any{"server_id": d.proc.ServerID, "error": err.Error()})
		return
	}
	if len(msg.ID) == 0 {
		return
	}

	key := rawIDToKey(msg.ID)

	d.mu.Lock()
	ch, ok := d.waiters[key]
	if ok {
		delete(d.waiters, key)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug(context.Background(), "dispatch_unmatched_response", map[string]any{"server_id": d.proc.ServerID, "id": key})
		return
	}

	if msg.Error != nil {
		ch <- result{err: &RemoteError{Message: msg.Error.Message}}
		return
	}
	ch <- result{payload: msg.Result}
}

func (d *Dispatcher) watchExit() {
	<-d.proc.Done()

	d.mu.Lock()
	pending := d.waiters
	d.waiters = make(map[string]chan result)
	d.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: backend.ErrExited}
	}
}

func rawIDToKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return fmt.Sprintf("%s", raw)
}
