package domain

import (
	"time"
)

// Phase is the per-question sub-state of a running quiz.
type Phase string

const (
	// PhaseAnswering waits for the user to pick an option.
	PhaseAnswering Phase = "answering"
	// PhaseFeedback shows the verdict for the submitted option.
	PhaseFeedback Phase = "feedback"
	// PhaseFinished is terminal: every question has been answered.
	PhaseFinished Phase = "finished"
)

// HistoryEntry records one answered question.
type HistoryEntry struct {
	Question   Question `json:"question"`
	UserChoice string   `json:"user_choice"`
	IsCorrect  bool     `json:"is_correct"`
}

// Timer tracks elapsed quiz time across pauses. A zero StartedAt means the
// clock is stopped and ElapsedBeforePause holds the full elapsed time.
type Timer struct {
	Enabled            bool
	Visible            bool
	StartedAt          time.Time
	ElapsedBeforePause time.Duration
}

// Running reports whether the clock is currently ticking.
func (t *Timer) Running() bool {
	return t.Enabled && !t.StartedAt.IsZero()
}

// Elapsed returns the elapsed quiz time at now.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	if !t.Running() {
		return t.ElapsedBeforePause
	}
	d := t.ElapsedBeforePause + now.Sub(t.StartedAt)
	if d < 0 {
		return t.ElapsedBeforePause
	}
	return d
}

// Pause folds the running time into ElapsedBeforePause and stops the clock.
// Pausing a stopped timer is a no-op.
func (t *Timer) Pause(now time.Time) {
	if !t.Running() {
		return
	}
	t.ElapsedBeforePause = t.Elapsed(now)
	t.StartedAt = time.Time{}
}

// Resume restarts a stopped clock at now without touching ElapsedBeforePause.
func (t *Timer) Resume(now time.Time) {
	if !t.Enabled || !t.StartedAt.IsZero() {
		return
	}
	t.StartedAt = now
}

// Session is the full mutable state of one quiz.
type Session struct {
	Subject      string
	Questions    []Question
	CurrentIndex int
	Score        int
	Phase        Phase
	// Scored is the score-once/record-once guard of the feedback phase.
	Scored      bool
	LastChoice  string
	History     []HistoryEntry
	Timer       Timer
	ResumeCode  string
	AutoAdvance bool
	Language    string
}

// AnswerSubmitted reports whether an answer awaits advancement.
func (s *Session) AnswerSubmitted() bool {
	return s.Phase == PhaseFeedback
}

// Finished reports whether every question has been answered.
func (s *Session) Finished() bool {
	return s.CurrentIndex >= len(s.Questions)
}

// Current returns the question being answered, or false once finished.
func (s *Session) Current() (Question, bool) {
	if s.Finished() || s.CurrentIndex < 0 {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Total returns the number of questions in the quiz.
func (s *Session) Total() int {
	return len(s.Questions)
}

// Percentage returns the score as a percentage of the question count.
func (s *Session) Percentage() float64 {
	if len(s.Questions) == 0 {
		return 0
	}
	return float64(s.Score*100) / float64(len(s.Questions))
}
