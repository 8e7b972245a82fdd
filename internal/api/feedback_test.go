//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/go-chi/chi/v5"
)

func TestFeedbackStored(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, "/api/feedback", `{"message":"  the timer is great  "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), `"id"`) {
		t.Errorf("expected an id in %s", data)
	}
	s.fbh.Wait()

	s.feedback.mu.Lock()
	defer s.feedback.mu.Unlock()
	if len(s.feedback.feedback) != 1 {
		t.Fatalf("expected 1 feedback, got %d", len(s.feedback.feedback))
	}
	fb := s.feedback.feedback[0]
	if fb.Message != "the timer is great" {
		t.Errorf("unexpected message %q", fb.Message)
	}
	if fb.DeviceID == "" {
		t.Error("expected the device id from the cookie middleware")
	}
}

func TestFeedbackRejectsBlank(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{`{}`, `{"message":"   "}`} {
		resp, _ := s.do(t, http.MethodPost, "/api/feedback", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestProblemReport(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/api/sessions", `{"subject":"algebra","randomize":false}`)
	code := decodeView(t, data).Code

	resp, data := s.do(t, http.MethodPost, "/api/sessions/"+strings.ToLower(code)+"/problems",
		`{"question_index":1,"message":"answer key looks wrong"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}
	s.fbh.Wait()

	s.feedback.mu.Lock()
	defer s.feedback.mu.Unlock()
	if len(s.feedback.problems) != 1 {
		t.Fatalf("expected 1 report, got %d", len(s.feedback.problems))
	}
	report := s.feedback.problems[0]
	if report.ResumeCode != code || report.Subject != "algebra" || report.QuestionText != "2+2?" {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestProblemReportErrors(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/api/sessions", `{"subject":"algebra","randomize":false}`)
	code := decodeView(t, data).Code

	tests := map[string]struct {
		path   string
		body   string
		status int
	}{
		"out of range":  {"/api/sessions/" + code + "/problems", `{"question_index":9,"message":"x"}`, http.StatusBadRequest},
		"missing index": {"/api/sessions/" + code + "/problems", `{"message":"x"}`, http.StatusBadRequest},
		"unknown code":  {"/api/sessions/NOPE-NOPE-10/problems", `{"question_index":0,"message":"x"}`, http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, data)
			}
		})
	}
}

type failingFeedbackStore struct{}

func (failingFeedbackStore) AppendFeedback(context.Context, *domain.Feedback) error {
	return errors.New("store offline")
}

func (failingFeedbackStore) AppendProblemReport(context.Context, *domain.ProblemReport) error {
	return errors.New("store offline")
}

func TestFeedbackStoreFailureStillAccepted(t *testing.T) {
	h := NewFeedbackHandler(failingFeedbackStore{}, nil, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(`{"message":"hi"}`)))
	h.Wait()

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestFeedbackLimiterApplied(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusTooManyRequests, "slow down")
		})
	}
	h := NewFeedbackHandler(&fakeFeedbackStore{}, nil, blocked)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(`{"message":"hi"}`)))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
