package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ventodeco/submission-intake/internal/jobs"
	"github.com/ventodeco/submission-intake/internal/queue"
)

// submissionRequest is the wire payload accepted by POST /submissions.
type submissionRequest struct {
	EntityKey    string         `json:"esign_id"`
	DocumentURL  string         `json:"document_url"`
	DocumentName string         `json:"document_name"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata"`
}

type submissionResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server wires the handlers for the thin HTTP intake surface: it accepts
// submissions and enqueues them onto the main queue for the worker pools
// to pick up. It holds no business logic of its own.
type Server struct {
	queue     *queue.Queue
	queueName string
	logger    *slog.Logger
}

// NewServer constructs a Server writing into the given queue/list.
func NewServer(q *queue.Queue, queueName string, logger *slog.Logger) *Server {
	return &Server{queue: q, queueName: queueName, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (req submissionRequest) validate() string {
	switch {
	case req.EntityKey == "":
		return "esign_id is required"
	case req.DocumentURL == "":
		return "document_url is required"
	case req.DocumentName == "":
		return "document_name is required"
	case req.DocumentType == "":
		return "document_type is required"
	default:
		return ""
	}
}

// CreateSubmission handles POST /submissions: it validates the payload,
// builds a Job, and enqueues it onto the main queue for a consumer to
// pick up. It does not perform the upload itself.
func (s *Server) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	job := jobs.New(req.EntityKey, req.DocumentURL, req.DocumentName, req.DocumentType, req.Metadata)
	if err := s.queue.Enqueue(r.Context(), s.queueName, job); err != nil {
		s.logger.Error("enqueue submission failed", slog.String("esign_id", req.EntityKey), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue submission")
		return
	}

	writeJSON(w, http.StatusAccepted, submissionResponse{ID: job.ID})
}

// Healthz reports process liveness.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
