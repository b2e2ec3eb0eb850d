// Package restapi is the thin REST framing layer that exercises the
// Gateway Facade: routing, JSON body parsing, and HTTP status mapping.
// Per §1 this layer is an external collaborator to the core (it holds
// no gating or dispatch logic of its own, only translation to and from
// the Facade's plain Go types).
package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/logging"
	"mcpgateway/internal/mcpconfig"
)

// Server wraps a Gateway Facade with its HTTP surface.
type Server struct {
	gw     *gateway.Gateway
	logger *logging.Logger
}

// New returns a Server ready to have its Routes() mounted.
func New(gw *gateway.Gateway, logger *logging.Logger) *Server {
	return &Server{gw: gw, logger: logger}
}

// Routes builds the handler tree described in §6, using Go 1.22's
// method- and wildcard-aware ServeMux patterns.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /servers", s.handleListServers)
	mux.HandleFunc("POST /servers", s.handleCreateServer)
	mux.HandleFunc("DELETE /servers/{id}", s.handleDeleteServer)

	mux.HandleFunc("GET /servers/{id}/tools", s.handleListTools)
	mux.HandleFunc("GET /servers/{id}/resources", s.handleListResources)
	mux.HandleFunc("GET /servers/{id}/resources/{uri}", s.handleReadResource)
	mux.HandleFunc("GET /servers/{id}/prompts", s.handleListPrompts)

	mux.HandleFunc("POST /servers/{id}/tools/{name}", s.handleCallTool)
	mux.HandleFunc("POST /servers/{id}/prompts/{name}", s.handleGetPrompt)

	mux.HandleFunc("POST /confirmations/{cid}", s.handleConfirm)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Health())
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.gw.ListServers()})
}

type createServerRequest struct {
	ID        string                  `json:"id"`
	Command   string                  `json:"command"`
	Args      []string                `json:"args,omitempty"`
	Env       map[string]string       `json:"env,omitempty"`
	RiskLevel mcpconfig.RiskLevel     `json:"riskLevel,omitempty"`
	Docker    *mcpconfig.DockerConfig `json:"docker,omitempty"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}

	cfg := mcpconfig.ServerConfig{
		Command:   req.Command,
		Args:      req.Args,
		Env:       req.Env,
		RiskLevel: req.RiskLevel,
		Docker:    req.Docker,
	}

	if err := s.gw.StartServer(r.Context(), req.ID, cfg); err != nil {
		s.writeGatewayErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.gw.StopServer(r.Context(), id); err != nil {
		s.writeGatewayErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "stopped": true})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.ListTools(r.Context(), r.PathValue("id"))
	})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.ListResources(r.Context(), r.PathValue("id"))
	})
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	uri, err := url.PathUnescape(r.PathValue("uri"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid uri encoding")
		return
	}
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.ReadResource(r.Context(), r.PathValue("id"), uri)
	})
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.ListPrompts(r.Context(), r.PathValue("id"))
	})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid body")
		return
	}
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.CallTool(r.Context(), r.PathValue("id"), r.PathValue("name"), body)
	})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid body")
		return
	}
	s.passthrough(w, r, func() (json.RawMessage, error) {
		return s.gw.GetPrompt(r.Context(), r.PathValue("id"), r.PathValue("name"), body)
	})
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	result, err := s.gw.Confirm(r.Context(), r.PathValue("cid"), req.Confirm)
	if err != nil {
		s.writeGatewayErr(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, result)
}

func (s *Server) passthrough(w http.ResponseWriter, r *http.Request, call func() (json.RawMessage, error)) {
	result, err := call()
	if err != nil {
		s.writeGatewayErr(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, result)
}

func (s *Server) writeGatewayErr(w http.ResponseWriter, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		s.logger.Error(context.Background(), "restapi_unclassified_error", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	status := statusForKind(gwErr.Kind)
	writeError(w, status, string(gwErr.Kind), gwErr.Message)
}

func statusForKind(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.KindConfigInvalid:
		return http.StatusBadRequest
	case gwerrors.KindConflict:
		return http.StatusConflict
	case gwerrors.KindNotFound:
		return http.StatusNotFound
	case gwerrors.KindNotReady:
		return http.StatusServiceUnavailable
	case gwerrors.KindRemoteError:
		return http.StatusBadGateway
	case gwerrors.KindSpawnFailed:
		return http.StatusBadGateway
	case gwerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case gwerrors.KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if strings.Contains(err.Error(), "EOF") {
			return json.RawMessage("{}"), nil
		}
		return nil, err
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) == 0 {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"error_code": code,
			"message":    message,
		},
	})
}
