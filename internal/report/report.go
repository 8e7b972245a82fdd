package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/question"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Generate renders a finished session as a markdown results document. The
// output depends only on the session.
func Generate(s *domain.Session) (string, error) {
	if !s.Finished() {
		return "", fmt.Errorf("%w: report requires a finished quiz", domain.ErrState)
	}

	pct := s.Percentage()
	grade := GradeFor(pct)

	var b strings.Builder
	fmt.Fprintf(&b, "# Quiz Results: %s\n\n", s.Subject)
	fmt.Fprintf(&b, "- **Score:** %d/%d (%.1f%%)\n", s.Score, s.Total(), pct)
	fmt.Fprintf(&b, "- **Grade:** %s (%s)\n", grade.Letter, grade.Message)
	if s.Timer.Enabled {
		fmt.Fprintf(&b, "- **Time taken:** %s\n", FormatElapsed(s.Timer.ElapsedBeforePause))
	}

	for i, h := range s.History {
		fmt.Fprintf(&b, "\n## Question %d\n\n", i+1)
		fmt.Fprintf(&b, "%s\n\n", h.Question.Text)
		if h.IsCorrect {
			fmt.Fprintf(&b, "- Your answer: %s (correct)\n", h.UserChoice)
			continue
		}
		fmt.Fprintf(&b, "- Your answer: %s (incorrect)\n", h.UserChoice)
		correct, ok := question.CorrectOption(h.Question)
		if !ok {
			correct = strings.ToUpper(h.Question.AnswerKey)
		}
		fmt.Fprintf(&b, "- Correct answer: %s\n", correct)
	}

	return b.String(), nil
}

// FormatElapsed renders a duration as MM:SS, or HH:MM:SS past an hour.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// FileName returns the download name for a session's report.
func FileName(s *domain.Session) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s.Subject), "-"), "-")
	if slug == "" {
		slug = "quiz"
	}
	return "quiz-results-" + slug + ".md"
}
