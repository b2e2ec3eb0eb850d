package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mcpgateway/internal/logging"
)

// InitState is the Initialization FSM's state. Handshake returns the
// state it ends in; the caller records it on the server's record.
type InitState string

const (
	StateStarting    InitState = "starting"
	StateInitialized InitState = "initialized"
	StateTimeout     InitState = "timeout"
	StateError       InitState = "error"
)

const (
	protocolVersion  = "2025-03-26"
	clientName       = "mcpgateway"
	clientVersion    = "0.1.0"
	handshakeTimeout = 30 * time.Second
	settleDelay      = 1 * time.Second
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// Handshake drives the "initialize" → await reply → "notifications/initialized"
// sequence against proc. No traffic other than this sequence may be
// written while the FSM is in StateStarting; the caller must not attach
// its own handler to proc until Handshake returns StateInitialized.
func Handshake(ctx context.Context, proc *Process, logger *logging.Logger) (InitState, error) {
	replyCh := make(chan json.RawMessage, 1)

	proc.SetHandler(func(obj json.RawMessage) {
		var msg rpcMessage
		if err := json.Unmarshal(obj, &msg); err != nil {
			return
		}
		if string(msg.ID) != "1" {
			return
		}
		if len(msg.Result) == 0 {
			return
		}
		var result initializeResult
		if err := json.Unmarshal(msg.Result, &result); err != nil || result.ProtocolVersion == "" {
			return
		}
		select {
		case replyCh <- obj:
		default:
		}
	})

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	settle := time.NewTimer(settleDelay)
	defer settle.Stop()

	select {
	case <-settle.C:
	case <-proc.Done():
		proc.SetHandler(nil)
		return StateError, ErrExited
	case <-ctx.Done():
		proc.SetHandler(nil)
		return StateError, ctx.Err()
	}

	initRequest := rpcMessage{
		JSONRPC: "2.0",
		ID:      json.RawMessage("1"),
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": protocolVersion,
			"clientInfo": map[string]any{
				"name":    clientName,
				"version": clientVersion,
			},
			"capabilities": map[string]any{},
		},
	}
	payload, err := json.Marshal(initRequest)
	if err != nil {
		proc.SetHandler(nil)
		return StateError, err
	}
	if err := proc.Write(payload); err != nil {
		proc.SetHandler(nil)
		return StateError, err
	}

	select {
	case <-replyCh:
		notify := rpcMessage{JSONRPC: "2.0", Method: "notifications/initialized"}
		notifyPayload, err := json.Marshal(notify)
		if err != nil {
			proc.SetHandler(nil)
			return StateError, err
		}
		if err := proc.Write(notifyPayload); err != nil {
			proc.SetHandler(nil)
			return StateError, err
		}
		logger.Info(ctx, "mcp_handshake_complete", map[string]any{"server_id": proc.ServerID})
		proc.SetHandler(nil)
		return StateInitialized, nil

	case <-timer.C:
		proc.SetHandler(nil)
		logger.Warn(ctx, "mcp_handshake_timeout", map[string]any{"server_id": proc.ServerID})
		return StateTimeout, errors.New("handshake timed out")

	case <-proc.Done():
		proc.SetHandler(nil)
		return StateError, ErrExited

	case <-ctx.Done():
		proc.SetHandler(nil)
		return StateError, ctx.Err()
	}
}
