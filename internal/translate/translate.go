// Package translate rewrites question text into another language before a
// quiz starts. Answer keys and option letters are never translated.
package translate

import (
	"context"
	"strings"

	"github.com/ashureev/quizdeck/internal/domain"
	"golang.org/x/text/language"
)

// Translator translates a question set into lang.
type Translator interface {
	Translate(ctx context.Context, questions []domain.Question, lang language.Tag) ([]domain.Question, error)
}

// Nop returns questions unchanged.
type Nop struct{}

// Translate implements Translator.
func (Nop) Translate(_ context.Context, questions []domain.Question, _ language.Tag) ([]domain.Question, error) {
	return questions, nil
}

// ParseLanguage parses a BCP 47 tag. An empty string yields language.Und.
func ParseLanguage(s string) (language.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und, nil
	}
	return language.Parse(s)
}

// splitPrefix separates an option's letter prefix ("c. ") from its body.
// Options without a '.' have no prefix.
func splitPrefix(option string) (prefix, body string) {
	head, rest, ok := strings.Cut(option, ".")
	if !ok {
		return "", option
	}
	if strings.TrimSpace(head) == "" || len(strings.TrimSpace(head)) > 3 {
		return "", option
	}
	trimmed := strings.TrimLeft(rest, " ")
	return option[:len(option)-len(trimmed)], trimmed
}
