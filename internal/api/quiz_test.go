//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/identity"
	"github.com/ashureev/quizdeck/internal/persist"
	"github.com/ashureev/quizdeck/internal/question"
	"github.com/ashureev/quizdeck/internal/quiz"
	"github.com/ashureev/quizdeck/internal/runner"
	"github.com/ashureev/quizdeck/internal/store"
	"github.com/go-chi/chi/v5"
)

const algebraCSV = `question,options,answer
"1+1?","a. 1
b. 2",b
"2+2?","a. 4
b. 5",a
"3+3?","a. 6
b. 7",a
`

type fakeFeedbackStore struct {
	mu       sync.Mutex
	feedback []*domain.Feedback
	problems []*domain.ProblemReport
}

func (f *fakeFeedbackStore) AppendFeedback(_ context.Context, fb *domain.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
	return nil
}

func (f *fakeFeedbackStore) AppendProblemReport(_ context.Context, report *domain.ProblemReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.problems = append(f.problems, report)
	return nil
}

type testServer struct {
	*httptest.Server
	client   *http.Client
	feedback *fakeFeedbackStore
	fbh      *FeedbackHandler
	runner   *runner.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "algebra.csv"), []byte(algebraCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	catalog, err := question.Discover(dataDir, "https://example.com/data")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "quiz.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	rn := runner.New(quiz.NewEngine(), persist.NewGateway(repo, nil, nil), catalog,
		runner.WithAutoAdvanceDelay(time.Hour))
	fb := &fakeFeedbackStore{}
	fbh := NewFeedbackHandler(fb, rn, nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(repo, rn.Live).RegisterHealth(r)
	NewQuizHandler(rn, catalog, identity.CookieMemory{IsDev: true}).RegisterRoutes(r)
	fbh.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{
		Server:   srv,
		client:   &http.Client{Jar: jar},
		feedback: fb,
		fbh:      fbh,
		runner:   rn,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decodeView(t *testing.T, data []byte) runner.View {
	t.Helper()
	var v runner.View
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode view: %v (%s)", err, data)
	}
	return v
}

func TestSubjects(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/api/subjects", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var subjects []subjectResponse
	if err := json.Unmarshal(data, &subjects); err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 1 || subjects[0].Name != "algebra" || subjects[0].SourceURL != "https://example.com/data/algebra.csv" {
		t.Fatalf("unexpected subjects %+v", subjects)
	}

	resp, data = s.do(t, http.MethodGet, "/api/subjects/algebra", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var subject subjectResponse
	if err := json.Unmarshal(data, &subject); err != nil {
		t.Fatal(err)
	}
	if subject.QuestionCount != 3 || subject.DefaultCount != 3 {
		t.Errorf("unexpected subject %+v", subject)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/subjects/biology", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFullQuizFlow(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, "/api/sessions", `{"subject":"algebra","randomize":false,"auto_advance":false,"timer_enabled":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
	}
	v := decodeView(t, data)
	code := v.Code
	if v.Total != 3 || v.Question == nil || v.Question.Text != "1+1?" {
		t.Fatalf("unexpected start view %+v", v)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+code+"/advance", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 advancing before answering, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+code+"/answer", `{"choice":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty choice, got %d", resp.StatusCode)
	}

	answers := []string{"b. 2", "b. 5", "a. 6"}
	for _, choice := range answers {
		resp, data = s.do(t, http.MethodPost, "/api/sessions/"+code+"/answer", `{"choice":"`+choice+`"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("answer %q: expected 200, got %d: %s", choice, resp.StatusCode, data)
		}
		if v := decodeView(t, data); v.Feedback == nil {
			t.Fatalf("expected feedback after answering, got %+v", v)
		}
		resp, data = s.do(t, http.MethodPost, "/api/sessions/"+code+"/advance", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("advance: expected 200, got %d: %s", resp.StatusCode, data)
		}
	}

	v = decodeView(t, data)
	if v.Phase != domain.PhaseFinished || v.Summary == nil || v.Summary.Score != 2 {
		t.Fatalf("unexpected finished view %+v", v)
	}

	resp, data = s.do(t, http.MethodGet, "/api/sessions/"+code+"/report", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "quiz-results-algebra.md") {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !strings.Contains(string(data), "2/3 (66.7%)") {
		t.Errorf("unexpected report:\n%s", data)
	}
}

func TestResumeAndLast(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/api/sessions/last", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without a remembered quiz, got %d", resp.StatusCode)
	}

	_, data := s.do(t, http.MethodPost, "/api/sessions", `{"subject":"algebra"}`)
	code := decodeView(t, data).Code

	resp, data = s.do(t, http.MethodGet, "/api/sessions/last", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	var last lastResponse
	if err := json.Unmarshal(data, &last); err != nil {
		t.Fatal(err)
	}
	if last.Code != code || last.Subject != "algebra" || last.SavedAgo == "" {
		t.Errorf("unexpected last %+v", last)
	}

	// Drop the live copy so the next resume reads the store.
	resp, _ = s.do(t, http.MethodDelete, "/api/sessions/"+code, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, data = s.do(t, http.MethodGet, "/api/sessions/"+strings.ToLower(code), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected resume from store, got %d: %s", resp.StatusCode, data)
	}
	if v := decodeView(t, data); v.Code != code || v.Number != 1 {
		t.Errorf("unexpected resumed view %+v", v)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/sessions/NOPE-NOPE-10", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown code, got %d", resp.StatusCode)
	}
}

func TestSettingsAndSave(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/api/sessions", `{"subject":"algebra","timer_enabled":true}`)
	code := decodeView(t, data).Code

	resp, data := s.do(t, http.MethodPatch, "/api/sessions/"+code+"/settings", `{"auto_advance":false,"timer_visible":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	if v := decodeView(t, data); v.AutoAdvance || v.TimerVisible {
		t.Errorf("expected toggles off, got %+v", v)
	}

	resp, data = s.do(t, http.MethodPost, "/api/sessions/"+code+"/save", `{"label":"Final Exam"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	saved := decodeView(t, data)
	if !strings.HasPrefix(saved.Code, "FINAL-EXAM-") {
		t.Fatalf("expected labelled code, got %q", saved.Code)
	}

	resp, data = s.do(t, http.MethodGet, "/api/sessions/last", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), saved.Code) {
		t.Errorf("expected the new code to be remembered, got %d: %s", resp.StatusCode, data)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+code+"/save", `{"unknown":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown fields, got %d", resp.StatusCode)
	}
}

func TestStartValidation(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]struct {
		body   string
		status int
	}{
		"missing subject": {`{}`, http.StatusBadRequest},
		"negative count":  {`{"subject":"algebra","count":-1}`, http.StatusBadRequest},
		"unknown subject": {`{"subject":"biology"}`, http.StatusNotFound},
		"malformed":       {`{"subject":`, http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/api/sessions", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, data)
			}
			var body map[string]string
			if err := json.Unmarshal(data, &body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %s", data)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), `"database":"ok"`) {
		t.Errorf("unexpected health body %s", data)
	}
}

// startRecorder captures the request the handler builds and fails every
// other call.
type startRecorder struct {
	QuizRunner
	got runner.StartRequest
}

func (s *startRecorder) Start(_ context.Context, req runner.StartRequest) (runner.View, error) {
	s.got = req
	return runner.View{Code: "APPLE-BEAR-42"}, nil
}

func TestStartDefaults(t *testing.T) {
	tests := map[string]struct {
		body      string
		randomize bool
		auto      bool
		visible   bool
	}{
		"omitted":  {`{"subject":"algebra"}`, true, true, true},
		"explicit": {`{"subject":"algebra","randomize":false,"auto_advance":false,"timer_visible":false}`, false, false, false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &startRecorder{}
			r := chi.NewRouter()
			NewQuizHandler(rec, nil, identity.CookieMemory{IsDev: true}).RegisterRoutes(r)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(tt.body)))
			if w.Code != http.StatusCreated {
				t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
			}
			got := rec.got
			if got.Randomize != tt.randomize || got.AutoAdvance != tt.auto || got.TimerVisible != tt.visible {
				t.Errorf("unexpected start request %+v", got)
			}
		})
	}
}
