package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"clarvis/internal/domain"
)

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Response  string `json:"response"`
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	AgentUsed string `json:"agent_used"`
	Error     string `json:"error,omitempty"`
}

type agentInfo struct {
	Name         string                   `json:"name"`
	Description  string                   `json:"description"`
	Capabilities []domain.AgentCapability `json:"capabilities"`
}

type streamFrame struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeQuery parses the request body and validates the query field.
// A malformed body or empty query is a 400; the caller stops on false.
func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query cannot be empty")
		return req, false
	}
	return req, true
}

// handleHealth reports gateway and per-agent availability. 200 when any
// agent is available, 503 when none are.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.orch.Registry().HealthCheckAll(r.Context())

	agents := make(map[string]string, len(health))
	anyAvailable := len(health) == 0 // no agents yet: the gateway itself is fine
	for name, ok := range health {
		if ok {
			agents[name] = "available"
			anyAvailable = true
		} else {
			agents[name] = "unavailable"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !anyAvailable {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"agents":  agents,
	})
}

// handleAgents lists registered agents and their capabilities in registry
// insertion order.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	registry := s.orch.Registry()

	var infos []agentInfo
	for _, name := range registry.List() {
		agent, err := registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, agentInfo{
			Name:         agent.Name(),
			Description:  agent.Description(),
			Capabilities: agent.Capabilities(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": infos,
		"count":  len(infos),
	})
}

// handleQuery is the buffered orchestrator endpoint.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultOrchestratorTimeout)
	defer cancel()

	resp, sid := s.orch.Process(ctx, req.Query, req.SessionID)
	writeJSON(w, http.StatusOK, queryResponse{
		Response:  resp.Content,
		Success:   resp.Success,
		SessionID: sid,
		AgentUsed: resp.AgentName,
		Error:     resp.Error,
	})
}

// handleQueryStream is the SSE orchestrator endpoint. Each chunk becomes
// one `data: {json}` frame; `data: [DONE]` terminates a clean stream. A
// deadline hit before the first frame surfaces as 504; after the first
// frame the stream just ends without the terminator.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultOrchestratorTimeout)
	defer cancel()

	chunks, sid := s.orch.Stream(ctx, req.Query, req.SessionID)

	wroteHeaders := false
	ensureHeaders := func() {
		if wroteHeaders {
			return
		}
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		// Keep reverse proxies from buffering the stream.
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		wroteHeaders = true
	}
	writeFrame := func(text string) {
		ensureHeaders()
		payload, _ := json.Marshal(streamFrame{Text: text, SessionID: sid})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for {
		select {
		case chunk, open := <-chunks:
			if !open {
				// Clean completion: terminator is the last frame.
				if ctx.Err() != nil {
					if !wroteHeaders {
						writeError(w, http.StatusGatewayTimeout, "timeout")
					}
					return
				}
				ensureHeaders()
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				// Failed stream: emit the error text, no terminator.
				if !wroteHeaders && errors.Is(chunk.Err, context.DeadlineExceeded) {
					writeError(w, http.StatusGatewayTimeout, "timeout")
					return
				}
				if chunk.Text != "" {
					writeFrame(chunk.Text)
				}
				return
			}
			writeFrame(chunk.Text)

		case <-ctx.Done():
			if !wroteHeaders && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				writeError(w, http.StatusGatewayTimeout, "timeout")
			}
			// Client disconnect: tear down silently. The orchestrator
			// observes the same context and skips the turn append.
			return
		}
	}
}

// handleAgentQuery bypasses the router and queries one agent directly.
// Direct queries are stateless: no session is created or consulted, so
// session_id in the response is intentionally empty.
func (s *Server) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("agent")
	if !s.orch.Registry().Has(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not registered", name))
		return
	}

	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AgentTimeout(name, defaultAgentTimeout))
	defer cancel()

	resp := s.orch.ProcessDirect(ctx, name, req.Query)
	writeJSON(w, http.StatusOK, queryResponse{
		Response:  resp.Content,
		Success:   resp.Success,
		SessionID: "",
		AgentUsed: resp.AgentName,
		Error:     resp.Error,
	})
}
