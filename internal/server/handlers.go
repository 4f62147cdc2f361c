package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

// UserIDHeader attributes a request to a user when the body names none.
const UserIDHeader = "X-User-ID"

// RunIDHeader carries the run id of an orchestrated call back to the caller.
const RunIDHeader = "X-Run-ID"

// RunRequest is the body accepted by the run and stream endpoints.
type RunRequest struct {
	Messages        []domain.Message `json:"messages"`
	Model           string           `json:"model,omitempty"`
	Params          map[string]any   `json:"params,omitempty"`
	Tools           []string         `json:"tools,omitempty"`
	UserID          string           `json:"user_id,omitempty"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	DeadlineSeconds *float64         `json:"deadline_seconds,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"allowed_models": s.policy.Allowed(),
		"default_model":  s.policy.Default(),
	}
	if s.prefixes != nil {
		body["prefixes"] = s.prefixes()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if s.pipelines != nil {
		ids = s.pipelines()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": ids})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pipelineID := chi.URLParam(r, "id")

	req, err := decodeRunRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(RunIDHeader, req.RunID())
	AddLogField(ctx, "run_id", req.RunID())
	AddLogField(ctx, "pipeline_id", pipelineID)

	resp, err := s.svc.Run(ctx, pipelineID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream runs the pipeline through the admission-controlled bridge and
// forwards every event as one SSE message named after its type. A failure
// before the first event is answered as a JSON error; a later one becomes a
// final error event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pipelineID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming not supported by response writer"))
		return
	}

	req, err := decodeRunRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(RunIDHeader, req.RunID())
	AddLogField(ctx, "run_id", req.RunID())
	AddLogField(ctx, "pipeline_id", pipelineID)

	es, err := s.svc.AStream(ctx, pipelineID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer es.Close()

	started := false
	events := 0
	for {
		ev, err := es.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				AddLogField(ctx, "client", "disconnected")
				return
			}
			if !started {
				s.writeError(w, r, err)
				return
			}
			AddError(ctx, err)
			writeEvent(w, string(domain.EventError), map[string]any{
				"event_type": domain.EventError,
				"run_id":     req.RunID(),
				"data": map[string]any{
					"message":    err.Error(),
					"error_type": domain.ErrorType(err),
				},
			})
			flusher.Flush()
			return
		}

		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := writeEvent(w, string(ev.Type), ev); err != nil {
			s.logger.Debug("failed to write stream event", slog.String("error", err.Error()))
			return
		}
		flusher.Flush()
		events++
	}
	AddLogAttr(ctx, slog.Int("events", events))
}

// decodeRunRequest reads the body into a ChatRequest carrying a fresh run
// context tied to the current trace.
func decodeRunRequest(w http.ResponseWriter, r *http.Request) (*domain.ChatRequest, error) {
	var body RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return nil, domain.ErrInvalidRequest("invalid request body").WithCause(err)
	}
	if len(body.Messages) == 0 {
		return nil, domain.ErrInvalidRequest("messages must not be empty")
	}
	for i, m := range body.Messages {
		switch m.Role {
		case domain.RoleSystem, domain.RoleUser, domain.RoleAssistant, domain.RoleTool:
		default:
			return nil, domain.ErrInvalidRequest("messages[%d] has invalid role %q", i, m.Role)
		}
	}

	rc := domain.NewRunContext()
	rc.UserID = body.UserID
	if rc.UserID == "" {
		rc.UserID = r.Header.Get(UserIDHeader)
	}
	rc.ConversationID = body.ConversationID
	rc.DeadlineSeconds = body.DeadlineSeconds
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		rc.TraceID = sc.TraceID().String()
	}

	return &domain.ChatRequest{
		Messages: body.Messages,
		Model:    body.Model,
		Params:   body.Params,
		Tools:    body.Tools,
		Context:  rc,
	}, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	status := http.StatusInternalServerError
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		status = de.HTTPStatusCode()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message: err.Error(),
		Type:    domain.ErrorType(err),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
