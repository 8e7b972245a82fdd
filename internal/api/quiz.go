package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/identity"
	"github.com/ashureev/quizdeck/internal/question"
	"github.com/ashureev/quizdeck/internal/runner"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// QuizRunner is the session surface the HTTP layer drives.
type QuizRunner interface {
	Start(ctx context.Context, req runner.StartRequest) (runner.View, error)
	Resume(ctx context.Context, code string) (runner.View, error)
	Answer(ctx context.Context, code, choice string) (runner.View, error)
	Advance(ctx context.Context, code string) (runner.View, error)
	UpdateSettings(ctx context.Context, code string, settings runner.Settings) (runner.View, error)
	Save(ctx context.Context, code, label string) (runner.View, error)
	Report(ctx context.Context, code string) (string, string, error)
	Discard(code string)
	Inspect(ctx context.Context, code string) (runner.Summary, error)
}

// Catalog lists subjects and their question sets.
type Catalog interface {
	Subjects() []question.Subject
	Questions(name string) ([]domain.Question, error)
	SourceURL(name string) string
}

// Memory remembers the last resume code of a device.
type Memory interface {
	Remember(w http.ResponseWriter, code string)
	Recall(r *http.Request) string
}

// QuizHandler serves subjects and quiz sessions.
type QuizHandler struct {
	runner  QuizRunner
	catalog Catalog
	memory  Memory
	now     func() time.Time
}

// NewQuizHandler creates a new quiz handler.
func NewQuizHandler(r QuizRunner, catalog Catalog, memory Memory) *QuizHandler {
	return &QuizHandler{runner: r, catalog: catalog, memory: memory, now: time.Now}
}

// RegisterRoutes registers subject and session routes.
func (h *QuizHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/subjects", func(r chi.Router) {
		r.Get("/", h.ListSubjects)
		r.Get("/{subject}", h.GetSubject)
	})
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/last", h.Last)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.Resume)
			r.Delete("/", h.Discard)
			r.Post("/answer", h.Answer)
			r.Post("/advance", h.Advance)
			r.Patch("/settings", h.UpdateSettings)
			r.Post("/save", h.Save)
			r.Get("/report", h.Report)
		})
	})
}

type subjectResponse struct {
	Name          string `json:"name"`
	SourceURL     string `json:"source_url,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
	DefaultCount  int    `json:"default_count,omitempty"`
}

// ListSubjects returns the configured subjects.
func (h *QuizHandler) ListSubjects(w http.ResponseWriter, _ *http.Request) {
	subjects := h.catalog.Subjects()
	out := make([]subjectResponse, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, subjectResponse{Name: s.Name, SourceURL: h.catalog.SourceURL(s.Name)})
	}
	JSON(w, http.StatusOK, out)
}

// GetSubject loads a subject's questions and returns the limits the
// configure screen needs.
func (h *QuizHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "subject")
	questions, err := h.catalog.Questions(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, subjectResponse{
		Name:          name,
		SourceURL:     h.catalog.SourceURL(name),
		QuestionCount: len(questions),
		DefaultCount:  min(runner.DefaultQuestionCount, len(questions)),
	})
}

type startRequest struct {
	Subject      string `json:"subject" validate:"required,max=200"`
	Count        int    `json:"count" validate:"min=0"`
	Randomize    *bool  `json:"randomize"`
	TimerEnabled bool   `json:"timer_enabled"`
	TimerVisible *bool  `json:"timer_visible"`
	AutoAdvance  *bool  `json:"auto_advance"`
	Language     string `json:"language" validate:"omitempty,max=35"`
	Label        string `json:"label" validate:"omitempty,max=64"`
}

// Start begins a new quiz and remembers its code for this device.
func (h *QuizHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.runner.Start(r.Context(), runner.StartRequest{
		Subject:      req.Subject,
		Count:        req.Count,
		Randomize:    boolOr(req.Randomize, true),
		TimerEnabled: req.TimerEnabled,
		TimerVisible: boolOr(req.TimerVisible, true),
		AutoAdvance:  boolOr(req.AutoAdvance, true),
		Language:     req.Language,
		Label:        req.Label,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.memory.Remember(w, v.Code)
	slog.Info("Quiz session created", "code", v.Code, "device_id", identity.DeviceIDFromContext(r.Context()))
	JSON(w, http.StatusCreated, v)
}

type lastResponse struct {
	Code     string    `json:"code"`
	Subject  string    `json:"subject"`
	Number   int       `json:"number"`
	Total    int       `json:"total"`
	Score    int       `json:"score"`
	Finished bool      `json:"finished"`
	SavedAt  time.Time `json:"saved_at"`
	SavedAgo string    `json:"saved_ago"`
}

// Last describes the quiz this device last autosaved.
func (h *QuizHandler) Last(w http.ResponseWriter, r *http.Request) {
	code := h.memory.Recall(r)
	if code == "" {
		Error(w, http.StatusNotFound, "no autosaved quiz on this device")
		return
	}

	sum, err := h.runner.Inspect(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, lastResponse{
		Code:     sum.Code,
		Subject:  sum.Subject,
		Number:   sum.Number,
		Total:    sum.Total,
		Score:    sum.Score,
		Finished: sum.Finished,
		SavedAt:  sum.SavedAt,
		SavedAgo: humanize.RelTime(sum.SavedAt, h.now(), "ago", "from now"),
	})
}

// Resume returns the session under code.
func (h *QuizHandler) Resume(w http.ResponseWriter, r *http.Request) {
	v, err := h.runner.Resume(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.memory.Remember(w, v.Code)
	JSON(w, http.StatusOK, v)
}

type answerRequest struct {
	Choice string `json:"choice" validate:"required,max=1000"`
}

// Answer submits the chosen option.
func (h *QuizHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.runner.Answer(r.Context(), chi.URLParam(r, "code"), req.Choice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// Advance moves to the next question.
func (h *QuizHandler) Advance(w http.ResponseWriter, r *http.Request) {
	v, err := h.runner.Advance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

type settingsRequest struct {
	AutoAdvance  *bool `json:"auto_advance"`
	TimerVisible *bool `json:"timer_visible"`
}

// UpdateSettings changes the mid-quiz toggles.
func (h *QuizHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.runner.UpdateSettings(r.Context(), chi.URLParam(r, "code"), runner.Settings{
		AutoAdvance:  req.AutoAdvance,
		TimerVisible: req.TimerVisible,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

type saveRequest struct {
	Label string `json:"label" validate:"omitempty,max=64"`
}

// Save stores progress, optionally under a new labelled code.
func (h *QuizHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.runner.Save(r.Context(), chi.URLParam(r, "code"), req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.memory.Remember(w, v.Code)
	JSON(w, http.StatusOK, v)
}

// Report downloads the markdown results of a finished quiz.
func (h *QuizHandler) Report(w http.ResponseWriter, r *http.Request) {
	name, body, err := h.runner.Report(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Debug("Failed to write report", "error", err)
	}
}

// Discard drops the live session ("play again").
func (h *QuizHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.runner.Discard(chi.URLParam(r, "code"))
	w.WriteHeader(http.StatusNoContent)
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
