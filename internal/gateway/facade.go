// Package gateway composes the Registry, Risk Gate, Confirmation
// Store, and per-backend Dispatchers into the Gateway Facade: the
// small surface the REST layer is allowed to see. No REST-specific
// types leak into this package.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/confirm"
	"mcpgateway/internal/dispatch"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/logging"
	"mcpgateway/internal/mcpconfig"
	"mcpgateway/internal/observability"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/riskgate"
)

// Gateway is the Facade: list_servers, start_server, stop_server,
// call, confirm.
type Gateway struct {
	logger         *logging.Logger
	tracer         trace.Tracer
	metrics        *observability.Metrics
	registry       *registry.Registry
	confirmStore   *confirm.Store
	requestTimeout time.Duration
	startTime      time.Time
}

// New constructs a Gateway. requestTimeout bounds each dispatch (§3's
// PendingRequest deadline); the Initialization FSM's 30s handshake
// deadline and the Confirmation Store's 10-minute expiry are fixed
// internally by their own packages.
func New(logger *logging.Logger, tracer trace.Tracer, metrics *observability.Metrics, requestTimeout time.Duration) *Gateway {
	return &Gateway{
		logger:         logger,
		tracer:         tracer,
		metrics:        metrics,
		registry:       registry.New(),
		confirmStore:   confirm.New(),
		requestTimeout: requestTimeout,
		startTime:      time.Now(),
	}
}

// ServerStatus is the Facade's read model for one registered backend.
type ServerStatus struct {
	ID                  string `json:"id"`
	Connected           bool   `json:"connected"`
	PID                 int    `json:"pid"`
	InitializationState string `json:"initialization_state"`
	RiskLevel           string `json:"risk_level,omitempty"`
	RiskDescription     string `json:"risk_description,omitempty"`
	RunningInDocker     bool   `json:"running_in_docker,omitempty"`
}

// ListServers returns a snapshot status for every registered backend.
func (g *Gateway) ListServers() []ServerStatus {
	records := g.registry.List()
	statuses := make([]ServerStatus, 0, len(records))
	for _, r := range records {
		status := ServerStatus{
			ID:                  r.ID,
			Connected:           r.Ready(),
			PID:                 r.PID(),
			InitializationState: string(r.InitState()),
		}
		if r.RiskLevel != mcpconfig.RiskUnset {
			status.RiskLevel = r.RiskLevel.String()
			status.RiskDescription = r.RiskLevel.Description()
			status.RunningInDocker = r.RunningInDocker
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Health reports an aggregate status plus per-server detail.
func (g *Gateway) Health() map[string]any {
	statuses := g.ListServers()
	status := "ok"
	for _, s := range statuses {
		if !s.Connected {
			status = "degraded"
			break
		}
	}
	return map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(g.startTime).Seconds()),
		"serverCount":    len(statuses),
		"servers":        statuses,
	}
}

// StartServer admits cfg, spawns its backend, inserts it into the
// Registry, and kicks off its Initialization FSM asynchronously. A
// record becomes visible to the Registry as soon as spawn succeeds;
// dispatch is refused until the handshake completes.
func (g *Gateway) StartServer(ctx context.Context, id string, cfg mcpconfig.ServerConfig) error {
	if err := mcpconfig.ValidateForAdmission(cfg); err != nil {
		return gwerrors.New(gwerrors.KindConfigInvalid, err.Error())
	}

	spawnCfg, rewritten, _ := riskgate.ApplySpawnRewrite(cfg)

	proc, err := backend.Spawn(backend.Spec{
		ServerID: id,
		Command:  spawnCfg.Command,
		Args:     spawnCfg.Args,
		Env:      spawnCfg.Env,
	}, g.logger, g.onBackendExit(id))
	if err != nil {
		return gwerrors.NewF(gwerrors.KindSpawnFailed, "%v", err)
	}

	record := registry.NewRecord(id, spawnCfg, cfg.Command, cfg.Args, cfg.RiskLevel, rewritten)
	record.Proc = proc

	if err := g.registry.Insert(id, record); err != nil {
		_ = proc.Kill()
		return err
	}

	g.logger.Info(ctx, "mcp_server_spawned", map[string]any{"server_id": id, "pid": proc.PID(), "running_in_docker": rewritten})

	go g.runHandshake(record)

	return nil
}

func (g *Gateway) runHandshake(record *registry.ServerRecord) {
	ctx := context.Background()
	state, err := backend.Handshake(ctx, record.Proc, g.logger)

	if state != backend.StateInitialized {
		record.SetInitState(state)
		if g.metrics != nil {
			g.metrics.HandshakeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", record.ID)))
		}
		g.logger.Error(ctx, "mcp_handshake_failed", map[string]any{"server_id": record.ID, "state": string(state), "error": errString(err)})
		return
	}

	// Dispatcher must be assigned before the state flips to
	// StateInitialized: Ready() becoming true is what lets a concurrent
	// Call reach dispatchToBackend, and SetInitState's mutex is what
	// gives that read a happens-before edge over this write.
	record.Dispatcher = dispatch.New(record.Proc, g.logger, g.requestTimeout)
	record.SetInitState(state)
}

func (g *Gateway) onBackendExit(id string) func(error, int) {
	return func(err error, code int) {
		ctx := context.Background()
		g.registry.Remove(id)
		g.logger.Warn(ctx, "mcp_backend_exited", map[string]any{"server_id": id, "exit_code": code})
	}
}

// StopServer kills the backend for id, awaits its exit (bounded), and
// removes it from the Registry.
func (g *Gateway) StopServer(ctx context.Context, id string) error {
	record, err := g.registry.Get(id)
	if err != nil {
		return err
	}
	g.registry.Remove(id)

	if record.Proc == nil {
		return nil
	}
	_ = record.Proc.Kill()

	select {
	case <-record.Proc.Done():
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	return nil
}

// Call routes method/params to serverID through the risk gate: LOW or
// unset dispatches directly, MEDIUM tools/call without prior approval
// parks a confirmation, HIGH dispatches then wraps the result with
// execution_environment metadata.
func (g *Gateway) Call(ctx context.Context, serverID, method string, params json.RawMessage) (json.RawMessage, error) {
	spanCtx, span := g.tracer.Start(ctx, "gateway.call",
		trace.WithAttributes(
			attribute.String("server_id", serverID),
			attribute.String("method", method),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := g.call(spanCtx, serverID, method, params)
	g.recordDispatchMetrics(spanCtx, serverID, start, err)
	return result, err
}

func (g *Gateway) call(ctx context.Context, serverID, method string, params json.RawMessage) (json.RawMessage, error) {
	record, err := g.registry.Get(serverID)
	if err != nil {
		return nil, err
	}
	if !record.Ready() {
		return nil, gwerrors.NewF(gwerrors.KindNotReady, "server %q is %s", serverID, record.InitState())
	}

	if record.RiskLevel == mcpconfig.RiskMedium && method == "tools/call" {
		toolName := extractToolName(params)
		entry := g.confirmStore.Create(serverID, method, toolName, params)
		if g.metrics != nil {
			g.metrics.RiskGateDecisions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("server_id", serverID),
				attribute.String("risk_level", "medium"),
				attribute.String("outcome", "parked"),
			))
		}
		return buildConfirmationResponse(entry, record.RiskLevel)
	}

	return g.dispatchToBackend(ctx, record, method, params)
}

func (g *Gateway) dispatchToBackend(ctx context.Context, record *registry.ServerRecord, method string, params json.RawMessage) (json.RawMessage, error) {
	var paramsAny any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &paramsAny); err != nil {
			return nil, gwerrors.NewF(gwerrors.KindRemoteError, "invalid params: %v", err)
		}
	}

	raw, err := record.Dispatcher.Dispatch(ctx, method, paramsAny)
	if err != nil {
		return nil, classifyDispatchErr(err)
	}

	if record.RiskLevel == mcpconfig.RiskHigh {
		var resultMap map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &resultMap); err != nil {
				// MCP results are always objects; this only guards
				// against a non-conforming backend so the raw payload
				// still reaches the caller instead of being discarded.
				resultMap = map[string]any{"raw_result": json.RawMessage(raw)}
			}
		}
		image := ""
		if record.Config.Docker != nil {
			image = record.Config.Docker.Image
		}
		wrapped := riskgate.WrapHighRiskResult(resultMap, record.RiskLevel, image)
		wrappedRaw, marshalErr := json.Marshal(wrapped)
		if marshalErr != nil {
			return nil, marshalErr
		}
		return wrappedRaw, nil
	}

	return raw, nil
}

func classifyDispatchErr(err error) error {
	switch {
	case errors.Is(err, dispatch.ErrTimeout):
		return gwerrors.New(gwerrors.KindTimeout, err.Error())
	case errors.Is(err, backend.ErrExited):
		return gwerrors.New(gwerrors.KindNotReady, "backend exited")
	default:
		var remoteErr *dispatch.RemoteError
		if errors.As(err, &remoteErr) {
			return gwerrors.New(gwerrors.KindRemoteError, remoteErr.Message)
		}
		return err
	}
}

// Confirm resolves a pending confirmation. Rejecting removes it
// without ever dispatching; approving performs exactly one backend
// call with the original params and removes the ticket on completion.
func (g *Gateway) Confirm(ctx context.Context, confirmationID string, approve bool) (json.RawMessage, error) {
	if !approve {
		entry, err := g.confirmStore.Reject(confirmationID)
		if err != nil {
			return nil, err
		}
		g.recordConfirmationOutcome(ctx, "rejected")
		return json.Marshal(map[string]any{"rejected": true, "confirmation_id": entry.ID})
	}

	entry, err := g.confirmStore.Peek(confirmationID)
	if err != nil {
		g.recordConfirmationOutcome(ctx, outcomeFromErr(err))
		return nil, err
	}

	record, err := g.registry.Get(entry.ServerID)
	if err != nil {
		g.confirmStore.Remove(confirmationID)
		return nil, err
	}
	if !record.Ready() {
		return nil, gwerrors.NewF(gwerrors.KindNotReady, "server %q is %s", entry.ServerID, record.InitState())
	}

	result, dispatchErr := g.dispatchToBackend(ctx, record, entry.Method, entry.Params)
	g.confirmStore.Remove(confirmationID)

	if dispatchErr != nil {
		g.recordConfirmationOutcome(ctx, "dispatch_failed")
		return nil, dispatchErr
	}
	g.recordConfirmationOutcome(ctx, "approved")
	return result, nil
}

func outcomeFromErr(err error) string {
	if gwErr, ok := gwerrors.As(err); ok {
		return string(gwErr.Kind)
	}
	return "error"
}

func (g *Gateway) recordConfirmationOutcome(ctx context.Context, outcome string) {
	if g.metrics == nil {
		return
	}
	g.metrics.ConfirmationOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (g *Gateway) recordDispatchMetrics(ctx context.Context, serverID string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", serverID), attribute.String("status", status)))
	g.metrics.DispatchLatency.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attribute.String("server_id", serverID)))
}

// Passthrough helpers (§6 REST surface).

func (g *Gateway) ListTools(ctx context.Context, serverID string) (json.RawMessage, error) {
	return g.Call(ctx, serverID, "tools/list", nil)
}

func (g *Gateway) ListResources(ctx context.Context, serverID string) (json.RawMessage, error) {
	return g.Call(ctx, serverID, "resources/list", nil)
}

func (g *Gateway) ReadResource(ctx context.Context, serverID, uri string) (json.RawMessage, error) {
	params, err := json.Marshal(map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, serverID, "resources/read", params)
}

func (g *Gateway) ListPrompts(ctx context.Context, serverID string) (json.RawMessage, error) {
	return g.Call(ctx, serverID, "prompts/list", nil)
}

func (g *Gateway) CallTool(ctx context.Context, serverID, name string, arguments json.RawMessage) (json.RawMessage, error) {
	params, err := json.Marshal(map[string]any{"name": name, "arguments": rawOrEmptyObject(arguments)})
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, serverID, "tools/call", params)
}

func (g *Gateway) GetPrompt(ctx context.Context, serverID, name string, arguments json.RawMessage) (json.RawMessage, error) {
	params, err := json.Marshal(map[string]any{"name": name, "arguments": rawOrEmptyObject(arguments)})
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, serverID, "prompts/get", params)
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func extractToolName(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(params, &p)
	return p.Name
}

func buildConfirmationResponse(entry *confirm.PendingConfirmation, risk mcpconfig.RiskLevel) (json.RawMessage, error) {
	resp := map[string]any{
		"requires_confirmation": true,
		"confirmation_id":       entry.ID,
		"risk_level":            risk.String(),
		"risk_description":      risk.Description(),
		"server_id":             entry.ServerID,
		"method":                entry.Method,
		"tool_name":             entry.ToolName,
		"expires_at":            entry.ExpiresAt().UTC().Format(time.RFC3339),
	}
	return json.Marshal(resp)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
