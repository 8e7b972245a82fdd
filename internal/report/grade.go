// Package report renders finished quiz sessions into exportable documents.
package report

// Grade is a letter grade derived from the score percentage.
type Grade struct {
	Letter  string `json:"letter"`
	Perfect bool   `json:"perfect"`
	Message string `json:"message"`
}

type gradeBand struct {
	min     float64
	letter  string
	message string
}

// Descending thresholds, first match wins. 100 is handled separately so the
// perfect score keeps letter A with its own message.
var gradeBands = []gradeBand{
	{80, "A", "Excellent work!"},
	{75, "AB", "Great job!"},
	{70, "B", "Good job!"},
	{65, "BC", "Nice effort."},
	{55, "C", "Fair. Keep practicing."},
	{45, "D", "Needs improvement."},
}

// GradeFor maps a score percentage to its grade.
func GradeFor(pct float64) Grade {
	if pct >= 100 {
		return Grade{Letter: "A", Perfect: true, Message: "Perfect score! Outstanding!"}
	}
	for _, b := range gradeBands {
		if pct >= b.min {
			return Grade{Letter: b.letter, Message: b.message}
		}
	}
	return Grade{Letter: "E", Message: "Keep studying and try again."}
}
