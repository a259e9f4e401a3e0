package handler

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ballotgate/internal/vote/models"
	dErrors "ballotgate/pkg/domain-errors"
	"ballotgate/pkg/testutil"
)

// stubService lets each test pin down exactly the calls it expects.
type stubService struct {
	startSession  func(ctx context.Context, claimedIdentity string, candidateID int64) (*models.VotingSession, error)
	submitCapture func(ctx context.Context, sessionID uuid.UUID, sample []byte) (*models.VotingSession, error)
	authorize     func(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	castVote      func(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	getSession    func(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error)
	getCandidate  func(ctx context.Context, candidateID int64) (*models.Candidate, error)
}

func (s *stubService) StartSession(ctx context.Context, claimedIdentity string, candidateID int64) (*models.VotingSession, error) {
	return s.startSession(ctx, claimedIdentity, candidateID)
}

func (s *stubService) SubmitCapture(ctx context.Context, sessionID uuid.UUID, sample []byte) (*models.VotingSession, error) {
	return s.submitCapture(ctx, sessionID, sample)
}

func (s *stubService) Authorize(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	return s.authorize(ctx, sessionID)
}

func (s *stubService) CastVote(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	return s.castVote(ctx, sessionID)
}

func (s *stubService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	return s.getSession(ctx, sessionID)
}

func (s *stubService) GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	return s.getCandidate(ctx, candidateID)
}

type HandlerSuite struct {
	suite.Suite
	service *stubService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.service = &stubService{}
	h := New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) newSession(state models.SessionState) *models.VotingSession {
	return &models.VotingSession{
		ID:              uuid.New(),
		State:           state,
		ClaimedIdentity: "john_doe",
		CandidateID:     1,
	}
}

func (s *HandlerSuite) TestStartSession() {
	s.Run("creates a session", func() {
		sess := s.newSession(models.StateCapturing)
		s.service.startSession = func(_ context.Context, claimedIdentity string, candidateID int64) (*models.VotingSession, error) {
			s.Equal("john_doe", claimedIdentity)
			s.Equal(int64(1), candidateID)
			return sess, nil
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions",
			map[string]any{"claimed_identity": "john_doe", "candidate_id": 1})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		got := testutil.UnmarshalResponse[models.VotingSession](s.T(), rr)
		s.Equal(sess.ID, got.ID)
		s.Equal(models.StateCapturing, got.State)
	})

	s.Run("rejects malformed JSON", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/sessions", "{not json")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeInvalidInput))
	})

	s.Run("maps validation errors to 400", func() {
		s.service.startSession = func(context.Context, string, int64) (*models.VotingSession, error) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "claimed identity is required")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", map[string]any{})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlerSuite) TestCapture() {
	s.Run("decodes the sample and returns the updated session", func() {
		sess := s.newSession(models.StateVerified)
		s.service.submitCapture = func(_ context.Context, sessionID uuid.UUID, sample []byte) (*models.VotingSession, error) {
			s.Equal(sess.ID, sessionID)
			s.Equal([]byte("frame"), sample)
			return sess, nil
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/capture",
			map[string]any{"sample_base64": base64.StdEncoding.EncodeToString([]byte("frame"))})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.VotingSession](s.T(), rr)
		s.Equal(models.StateVerified, got.State)
	})

	s.Run("rejects non-base64 samples", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+uuid.NewString()+"/capture",
			map[string]any{"sample_base64": "!!not base64!!"})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("rejects a malformed session id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/not-a-uuid/capture",
			map[string]any{"sample_base64": ""})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("failed verification includes the session snapshot", func() {
		sess := s.newSession(models.StateVerificationFailed)
		s.service.submitCapture = func(context.Context, uuid.UUID, []byte) (*models.VotingSession, error) {
			return sess, dErrors.New(dErrors.CodeRejected, "identity verification failed after maximum attempts")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/capture",
			map[string]any{"sample_base64": base64.StdEncoding.EncodeToString([]byte("frame"))})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusUnprocessableEntity)
		got := testutil.UnmarshalResponse[errorResponse](s.T(), rr)
		s.Require().NotNil(got.Session)
		s.Equal(models.StateVerificationFailed, got.Session.State)
	})
}

func (s *HandlerSuite) TestAuthorize() {
	s.Run("returns the authorized session", func() {
		sess := s.newSession(models.StateAuthorized)
		s.service.authorize = func(_ context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
			s.Equal(sess.ID, sessionID)
			return sess, nil
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/authorize", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("user rejection maps to 422", func() {
		sess := s.newSession(models.StateAuthorizationFailed)
		s.service.authorize = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, dErrors.New(dErrors.CodeRejected, "authorization rejected")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/authorize", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusUnprocessableEntity)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeRejected))
	})
}

func (s *HandlerSuite) TestCastVote() {
	s.Run("returns the confirmed session", func() {
		sess := s.newSession(models.StateConfirmed)
		sess.Transaction = &models.TransactionRecord{Ref: "0xabc", CandidateID: 1}
		s.service.castVote = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, nil
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/vote", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.VotingSession](s.T(), rr)
		s.Require().NotNil(got.Transaction)
		s.Equal("0xabc", got.Transaction.Ref)
	})

	s.Run("duplicate vote maps to 409 with the session state", func() {
		sess := s.newSession(models.StateDuplicateVote)
		s.service.castVote = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, dErrors.New(dErrors.CodeConflict, "identity has already voted")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/vote", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		got := testutil.UnmarshalResponse[errorResponse](s.T(), rr)
		s.Require().NotNil(got.Session)
		s.Equal(models.StateDuplicateVote, got.Session.State)
	})

	s.Run("expired session maps to 410", func() {
		sess := s.newSession(models.StateExpired)
		s.service.castVote = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, dErrors.New(dErrors.CodeExpired, "session expired")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/vote", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusGone)
	})

	s.Run("ledger unavailability maps to 503", func() {
		sess := s.newSession(models.StateSubmissionFailed)
		s.service.castVote = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, dErrors.New(dErrors.CodeUnavailable, "ledger confirmation not observed within retry budget")
		}

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions/"+sess.ID.String()+"/vote", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	})
}

func (s *HandlerSuite) TestGetSession() {
	s.Run("returns the snapshot", func() {
		sess := s.newSession(models.StateCapturing)
		s.service.getSession = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return sess, nil
		}

		req := testutil.NewRequest(s.T(), http.MethodGet, "/sessions/"+sess.ID.String())
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("unknown session maps to 404", func() {
		s.service.getSession = func(context.Context, uuid.UUID) (*models.VotingSession, error) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}

		req := testutil.NewRequest(s.T(), http.MethodGet, "/sessions/"+uuid.NewString())
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
		testutil.AssertErrorCode(s.T(), rr, string(dErrors.CodeNotFound))
	})
}

func (s *HandlerSuite) TestGetCandidate() {
	s.Run("returns candidate details", func() {
		s.service.getCandidate = func(_ context.Context, candidateID int64) (*models.Candidate, error) {
			s.Equal(int64(2), candidateID)
			return &models.Candidate{ID: 2, Name: "Ben Carter", VoteCount: 41}, nil
		}

		req := testutil.NewRequest(s.T(), http.MethodGet, "/candidates/2")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.Candidate](s.T(), rr)
		s.Equal("Ben Carter", got.Name)
		s.Equal(uint64(41), got.VoteCount)
	})

	s.Run("unknown candidate maps to 404", func() {
		s.service.getCandidate = func(context.Context, int64) (*models.Candidate, error) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown candidate")
		}

		req := testutil.NewRequest(s.T(), http.MethodGet, "/candidates/99")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})

	s.Run("non-numeric id maps to 400", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/candidates/abc")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}
