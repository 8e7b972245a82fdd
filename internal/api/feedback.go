package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/identity"
	"github.com/ashureev/quizdeck/internal/persist"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const feedbackWriteTimeout = 5 * time.Second

// FeedbackStore is the append-only side channel.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, fb *domain.Feedback) error
	AppendProblemReport(ctx context.Context, report *domain.ProblemReport) error
}

// QuestionLookup resolves the question a problem report refers to.
type QuestionLookup interface {
	Question(ctx context.Context, code string, index int) (string, domain.Question, error)
}

// FeedbackHandler accepts free-text feedback and per-question problem
// reports. Writes happen in the background so a slow store never blocks
// the quiz.
type FeedbackHandler struct {
	store     FeedbackStore
	questions QuestionLookup
	limit     func(http.Handler) http.Handler
	wg        sync.WaitGroup
}

// NewFeedbackHandler creates a feedback handler. limit wraps the routes
// and may be nil.
func NewFeedbackHandler(store FeedbackStore, questions QuestionLookup, limit func(http.Handler) http.Handler) *FeedbackHandler {
	return &FeedbackHandler{store: store, questions: questions, limit: limit}
}

// RegisterRoutes registers feedback routes.
func (h *FeedbackHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/api/feedback", h.Feedback)
		r.Post("/api/sessions/{code}/problems", h.Problem)
	})
}

// Wait blocks until background writes have finished.
func (h *FeedbackHandler) Wait() {
	h.wg.Wait()
}

type feedbackRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// Feedback stores free-text feedback.
func (h *FeedbackHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	fb := &domain.Feedback{
		ID:        uuid.NewString(),
		DeviceID:  identity.DeviceIDFromContext(r.Context()),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	h.async("feedback", fb.ID, func(ctx context.Context) error {
		return h.store.AppendFeedback(ctx, fb)
	})
	JSON(w, http.StatusAccepted, map[string]string{"id": fb.ID})
}

type problemRequest struct {
	QuestionIndex *int   `json:"question_index" validate:"required,min=0"`
	Message       string `json:"message" validate:"required,max=2000"`
}

// Problem stores a report about one question of a session.
func (h *FeedbackHandler) Problem(w http.ResponseWriter, r *http.Request) {
	var req problemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	code := chi.URLParam(r, "code")
	subject, q, err := h.questions.Question(r.Context(), code, *req.QuestionIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report := &domain.ProblemReport{
		ID:            uuid.NewString(),
		DeviceID:      identity.DeviceIDFromContext(r.Context()),
		ResumeCode:    persist.NormalizeCode(code),
		Subject:       subject,
		QuestionIndex: *req.QuestionIndex,
		QuestionText:  q.Text,
		Message:       strings.TrimSpace(req.Message),
		CreatedAt:     time.Now().UTC(),
	}
	h.async("problem_report", report.ID, func(ctx context.Context) error {
		return h.store.AppendProblemReport(ctx, report)
	})
	JSON(w, http.StatusAccepted, map[string]string{"id": report.ID})
}

// async runs write on a background goroutine with its own timeout.
func (h *FeedbackHandler) async(kind, id string, write func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), feedbackWriteTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			slog.Warn("Failed to store feedback", "kind", kind, "id", id, "error", err)
		}
	}()
}
