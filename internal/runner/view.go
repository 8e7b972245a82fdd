package runner

import (
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/question"
	"github.com/ashureev/quizdeck/internal/quiz"
	"github.com/ashureev/quizdeck/internal/report"
)

// View is the render model of one session screen.
type View struct {
	Code         string        `json:"code"`
	Subject      string        `json:"subject"`
	Phase        domain.Phase  `json:"phase"`
	Number       int           `json:"number"`
	Total        int           `json:"total"`
	Score        int           `json:"score"`
	AutoAdvance  bool          `json:"auto_advance"`
	TimerEnabled bool          `json:"timer_enabled"`
	TimerVisible bool          `json:"timer_visible"`
	Elapsed      string        `json:"elapsed,omitempty"`
	ElapsedSecs  int64         `json:"elapsed_seconds,omitempty"`
	Language     string        `json:"language,omitempty"`
	Question     *QuestionView `json:"question,omitempty"`
	Feedback     *FeedbackView `json:"feedback,omitempty"`
	Summary      *SummaryView  `json:"summary,omitempty"`
}

// QuestionView is the question being answered.
type QuestionView struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// FeedbackView is the verdict shown after an answer is submitted.
type FeedbackView struct {
	Choice        string `json:"choice"`
	Correct       bool   `json:"correct"`
	CorrectOption string `json:"correct_option,omitempty"`
}

// SummaryView is the finished screen.
type SummaryView struct {
	Score      int                   `json:"score"`
	Total      int                   `json:"total"`
	Percentage float64               `json:"percentage"`
	Grade      string                `json:"grade"`
	Perfect    bool                  `json:"perfect"`
	Message    string                `json:"message"`
	Elapsed    string                `json:"elapsed,omitempty"`
	Review     []domain.HistoryEntry `json:"review"`
}

// NewView builds the render model of s at now.
func NewView(s *domain.Session, now time.Time) View {
	v := View{
		Code:         s.ResumeCode,
		Subject:      s.Subject,
		Phase:        s.Phase,
		Number:       min(s.CurrentIndex+1, s.Total()),
		Total:        s.Total(),
		Score:        s.Score,
		AutoAdvance:  s.AutoAdvance,
		TimerEnabled: s.Timer.Enabled,
		TimerVisible: s.Timer.Visible,
		Language:     s.Language,
	}
	elapsed := s.Timer.Elapsed(now)
	if s.Timer.Enabled && s.Timer.Visible {
		v.Elapsed = report.FormatElapsed(elapsed)
		v.ElapsedSecs = int64(elapsed / time.Second)
	}

	if q, ok := s.Current(); ok {
		v.Question = &QuestionView{Text: q.Text, Options: q.Options}
		if s.Phase == domain.PhaseFeedback {
			fb := &FeedbackView{Choice: s.LastChoice, Correct: quiz.IsCorrect(q, s.LastChoice)}
			if !fb.Correct {
				fb.CorrectOption, _ = question.CorrectOption(q)
			}
			v.Feedback = fb
		}
	}

	if s.Phase == domain.PhaseFinished {
		pct := s.Percentage()
		grade := report.GradeFor(pct)
		sum := &SummaryView{
			Score:      s.Score,
			Total:      s.Total(),
			Percentage: pct,
			Grade:      grade.Letter,
			Perfect:    grade.Perfect,
			Message:    grade.Message,
			Review:     s.History,
		}
		if s.Timer.Enabled {
			sum.Elapsed = report.FormatElapsed(elapsed)
		}
		v.Summary = sum
	}
	return v
}
