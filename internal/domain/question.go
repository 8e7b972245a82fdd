// Package domain contains core domain types for the quiz runner.
package domain

// Question is a single multiple-choice item loaded from a question source.
// AnswerKey is the lower-case letter of the correct option.
type Question struct {
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	AnswerKey string   `json:"answer_key"`
}
