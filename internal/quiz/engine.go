// Package quiz implements the quiz state machine: start, submit, score and
// advance over an explicitly owned domain.Session.
package quiz

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/question"
)

// TimerConfig selects the timer behaviour of a new quiz.
type TimerConfig struct {
	Enabled bool
	Visible bool
}

// Config is fixed once the quiz starts.
type Config struct {
	Count       int
	Randomize   bool
	Timer       TimerConfig
	AutoAdvance bool
}

// Engine advances sessions. It holds no session state of its own.
type Engine struct {
	now  func() time.Time
	rand *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the shuffle source.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// NewEngine creates an engine using the wall clock and a randomly seeded source.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:  time.Now,
		rand: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Start creates a session over questions. The input slice is not modified.
func (e *Engine) Start(subject string, questions []domain.Question, cfg Config) (*domain.Session, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions available for %q", domain.ErrData, subject)
	}

	picked := make([]domain.Question, len(questions))
	copy(picked, questions)
	if cfg.Randomize {
		e.rand.Shuffle(len(picked), func(i, j int) {
			picked[i], picked[j] = picked[j], picked[i]
		})
	}
	picked = picked[:clampCount(cfg.Count, len(picked))]

	s := &domain.Session{
		Subject:     subject,
		Questions:   picked,
		Phase:       domain.PhaseAnswering,
		History:     make([]domain.HistoryEntry, 0, len(picked)),
		AutoAdvance: cfg.AutoAdvance,
		Timer: domain.Timer{
			Enabled: cfg.Timer.Enabled,
			Visible: cfg.Timer.Enabled && cfg.Timer.Visible,
		},
	}
	s.Timer.Resume(e.now())
	return s, nil
}

// Submit records the chosen option. Scoring happens in ScoreCurrent.
func (e *Engine) Submit(s *domain.Session, choice string) error {
	switch s.Phase {
	case domain.PhaseFinished:
		return fmt.Errorf("%w: quiz already finished", domain.ErrState)
	case domain.PhaseFeedback:
		return fmt.Errorf("%w: answer already submitted", domain.ErrValidation)
	}
	if strings.TrimSpace(choice) == "" {
		return fmt.Errorf("%w: please select an answer", domain.ErrValidation)
	}

	s.LastChoice = choice
	s.Phase = domain.PhaseFeedback
	s.Scored = false
	return nil
}

// ScoreCurrent scores the submitted answer once per question. Repeated calls
// return the recorded verdict without touching score or history.
func (e *Engine) ScoreCurrent(s *domain.Session) (bool, error) {
	if s.Phase != domain.PhaseFeedback {
		return false, fmt.Errorf("%w: no submitted answer to score", domain.ErrState)
	}
	q, ok := s.Current()
	if !ok {
		return false, fmt.Errorf("%w: no current question", domain.ErrState)
	}
	if s.Scored {
		// Sessions saved before history existed have no entry to read back.
		if n := len(s.History); n > 0 {
			return s.History[n-1].IsCorrect, nil
		}
		return IsCorrect(q, s.LastChoice), nil
	}

	correct := IsCorrect(q, s.LastChoice)
	if correct {
		s.Score++
	}
	s.History = append(s.History, domain.HistoryEntry{
		Question:   q,
		UserChoice: s.LastChoice,
		IsCorrect:  correct,
	})
	s.Scored = true
	return correct, nil
}

// Advance moves to the next question, scoring first if needed. Reaching the
// end freezes the timer.
func (e *Engine) Advance(s *domain.Session) error {
	if s.Phase != domain.PhaseFeedback {
		return fmt.Errorf("%w: cannot advance before an answer is submitted", domain.ErrState)
	}
	if !s.Scored {
		if _, err := e.ScoreCurrent(s); err != nil {
			return err
		}
	}

	s.CurrentIndex++
	s.LastChoice = ""
	s.Scored = false
	if s.Finished() {
		s.Phase = domain.PhaseFinished
		s.Timer.Pause(e.now())
		return nil
	}
	s.Phase = domain.PhaseAnswering
	return nil
}

// Elapsed returns the session's elapsed quiz time.
func (e *Engine) Elapsed(s *domain.Session) time.Duration {
	return s.Timer.Elapsed(e.now())
}

// IsCorrect compares the leading letter of choice with the answer key.
// A choice without a parsable letter is incorrect.
func IsCorrect(q domain.Question, choice string) bool {
	letter := question.LeadingLetter(choice)
	if letter == "" {
		return false
	}
	return letter == strings.ToLower(strings.TrimSpace(q.AnswerKey))
}

func clampCount(count, total int) int {
	if count < 1 {
		return 1
	}
	if count > total {
		return total
	}
	return count
}
