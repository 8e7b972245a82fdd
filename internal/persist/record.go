package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
)

// recordVersion is bumped whenever a field is added to record.
const recordVersion = 2

// record is the stored shape of a session: a flat document with exactly the
// session fields. Fields missing from older documents keep the defaults set
// in newRecord.
type record struct {
	Version         int                   `json:"version"`
	Subject         string                `json:"subject"`
	Questions       []domain.Question     `json:"questions"`
	CurrentIndex    int                   `json:"current_index"`
	Score           int                   `json:"score"`
	AnswerSubmitted bool                  `json:"answer_submitted"`
	Scored          bool                  `json:"scored"`
	LastChoice      string                `json:"last_choice"`
	History         []domain.HistoryEntry `json:"history"`
	TimerEnabled    bool                  `json:"timer_enabled"`
	TimerVisible    bool                  `json:"timer_visible"`
	ElapsedMillis   int64                 `json:"elapsed_ms"`
	ResumeCode      string                `json:"resume_code"`
	AutoAdvance     bool                  `json:"auto_advance"`
	Language        string                `json:"language,omitempty"`
	SavedAt         time.Time             `json:"saved_at"`
}

func newRecord() record {
	return record{
		Version:      1,
		TimerVisible: true,
		AutoAdvance:  true,
	}
}

// encodeSession serialises s. The timer must already be folded, so only
// ElapsedBeforePause is stored.
func encodeSession(s *domain.Session, savedAt time.Time) ([]byte, error) {
	rec := record{
		Version:         recordVersion,
		Subject:         s.Subject,
		Questions:       s.Questions,
		CurrentIndex:    s.CurrentIndex,
		Score:           s.Score,
		AnswerSubmitted: s.AnswerSubmitted(),
		Scored:          s.Phase == domain.PhaseFeedback && s.Scored,
		LastChoice:      s.LastChoice,
		History:         s.History,
		TimerEnabled:    s.Timer.Enabled,
		TimerVisible:    s.Timer.Visible,
		ElapsedMillis:   s.Timer.ElapsedBeforePause.Milliseconds(),
		ResumeCode:      s.ResumeCode,
		AutoAdvance:     s.AutoAdvance,
		Language:        s.Language,
		SavedAt:         savedAt.UTC(),
	}
	if rec.History == nil {
		rec.History = []domain.HistoryEntry{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// decodeSession rebuilds a session from a stored document, coercing
// out-of-range values instead of trusting the stored shape. The timer is
// returned stopped.
func decodeSession(data []byte) (*domain.Session, error) {
	rec := newRecord()
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode saved session: %v", domain.ErrData, err)
	}
	if len(rec.Questions) == 0 {
		return nil, fmt.Errorf("%w: saved session has no questions", domain.ErrData)
	}

	total := len(rec.Questions)
	s := &domain.Session{
		Subject:      rec.Subject,
		Questions:    rec.Questions,
		CurrentIndex: clamp(rec.CurrentIndex, 0, total),
		Score:        clamp(rec.Score, 0, total),
		LastChoice:   rec.LastChoice,
		History:      rec.History,
		ResumeCode:   rec.ResumeCode,
		AutoAdvance:  rec.AutoAdvance,
		Language:     rec.Language,
		Timer: domain.Timer{
			Enabled:            rec.TimerEnabled,
			Visible:            rec.TimerEnabled && rec.TimerVisible,
			ElapsedBeforePause: time.Duration(max(rec.ElapsedMillis, 0)) * time.Millisecond,
		},
	}
	if s.History == nil {
		s.History = []domain.HistoryEntry{}
	}

	switch {
	case s.Finished():
		s.Phase = domain.PhaseFinished
		s.LastChoice = ""
	case rec.AnswerSubmitted && rec.LastChoice != "":
		s.Phase = domain.PhaseFeedback
		s.Scored = rec.Scored
	default:
		s.Phase = domain.PhaseAnswering
		s.LastChoice = ""
	}

	limit := s.CurrentIndex
	if s.Phase == domain.PhaseFeedback && s.Scored {
		limit++
	}
	if len(s.History) > limit {
		s.History = s.History[:limit]
	}

	return s, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
