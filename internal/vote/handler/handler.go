package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
	dErrors "ballotgate/pkg/domain-errors"
)

// Service is the orchestrator surface the HTTP layer needs.
type Service interface {
	StartSession(ctx context.Context, claimedIdentity string, candidateID int64) (*models.VotingSession, error)
	SubmitCapture(ctx context.Context, sessionID uuid.UUID, sample []byte) (*models.VotingSession, error)
	Authorize(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	CastVote(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error)
}

// Handler is the thin HTTP layer over the vote orchestrator. It delegates to
// the service without embedding business logic so transport concerns remain
// isolated.
type Handler struct {
	logger *slog.Logger
	vote   Service
}

func New(vote Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, vote: vote}
}

// Register wires the voting routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions", h.handleStartSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Post("/sessions/{sessionID}/capture", h.handleCapture)
	r.Post("/sessions/{sessionID}/authorize", h.handleAuthorize)
	r.Post("/sessions/{sessionID}/vote", h.handleCastVote)
	r.Get("/candidates/{candidateID}", h.handleGetCandidate)
}

type startSessionRequest struct {
	ClaimedIdentity string `json:"claimed_identity"`
	CandidateID     int64  `json:"candidate_id"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	sess, err := h.vote.StartSession(r.Context(), req.ClaimedIdentity, req.CandidateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sess)
}

type captureRequest struct {
	SampleBase64 string `json:"sample_base64"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	sample, err := base64.StdEncoding.DecodeString(req.SampleBase64)
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "sample must be base64 encoded"))
		return
	}

	sess, err := h.vote.SubmitCapture(r.Context(), sessionID, sample)
	if err != nil {
		h.writeSessionError(w, r, sess, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.vote.Authorize(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, r, sess, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.vote.CastVote(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, r, sess, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.vote.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "candidateID")
	candidateID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || candidateID <= 0 {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid candidate id"))
		return
	}
	candidate, err := h.vote.GetCandidate(r.Context(), candidateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, candidate)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid session id"))
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error   string                `json:"error"`
	Code    string                `json:"code"`
	Session *models.VotingSession `json:"session,omitempty"`
}

// writeSessionError includes the session snapshot so clients can render the
// state the session landed in (duplicate_vote, expired, ...).
func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, sess *models.VotingSession, err error) {
	h.writeErrorWithSession(w, r, sess, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorWithSession(w, r, nil, err)
}

func (h *Handler) writeErrorWithSession(w http.ResponseWriter, r *http.Request, sess *models.VotingSession, err error) {
	code := dErrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err.Error())
	}

	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	h.writeJSON(w, status, errorResponse{Error: message, Code: string(code), Session: sess})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", "error", err.Error())
	}
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeExpired:
		return http.StatusGone
	case dErrors.CodeRejected:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
