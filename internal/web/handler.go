package web

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/speckit/taskbridge/internal/github"
	"github.com/speckit/taskbridge/internal/server"
)

// envelope is the response wrapper for every HTTP tool call. The error
// branch always carries the classified shape, never a raw stack trace.
type envelope struct {
	OK     bool                    `json:"ok"`
	Result any                     `json:"result,omitempty"`
	Error  *github.ClassifiedError `json:"error,omitempty"`
}

// Handler serves the tool registry over HTTP as an alternative to the
// stdio transport.
type Handler struct {
	reg *server.Registry
}

// NewHandler creates a new HTTP transport over a registry.
func NewHandler(reg *server.Registry) *Handler {
	return &Handler{reg: reg}
}

// RegisterRoutes registers the transport's routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.HandleFunc("/tools", h.handleList).Methods("GET")
	r.HandleFunc("/tools/{name}", h.handleInvoke).Methods("POST")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ops := h.reg.Operations()
	list := make([]map[string]string, 0, len(ops))
	for _, op := range ops {
		list = append(list, map[string]string{"name": op.Name, "description": op.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	op, ok := h.reg.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{
			OK:    false,
			Error: github.NewClassified(github.KindNotFound, "unknown tool: "+name, map[string]any{"status": 404}),
		})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			OK:    false,
			Error: github.NewClassified(github.KindTaskValidation, "failed to read request body: "+err.Error(), nil),
		})
		return
	}

	result, err := op.Handler(r.Context(), body)
	if err != nil {
		ce := github.ClassifyErr(err)
		log.Printf("[HTTP] %s failed: %v", name, ce)
		writeJSON(w, statusForKind(ce.Kind), envelope{OK: false, Error: ce})
		return
	}

	writeJSON(w, http.StatusOK, envelope{OK: true, Result: result})
}

// statusForKind picks the HTTP status a classified error surfaces with.
func statusForKind(kind github.ErrorKind) int {
	switch kind {
	case github.KindTaskValidation:
		return http.StatusBadRequest
	case github.KindAuthMissingCredentials, github.KindAuthInvalidToken, github.KindAuthFailed:
		return http.StatusUnauthorized
	case github.KindForbidden:
		return http.StatusForbidden
	case github.KindNotFound:
		return http.StatusNotFound
	case github.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] failed to encode response: %v", err)
	}
}
