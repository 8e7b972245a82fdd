// Package question loads multiple-choice question sets from CSV files.
package question

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/quizdeck/internal/domain"
)

// Header aliases for the three required columns, compared case-insensitively.
var (
	questionColumns = []string{"pertanyaan", "question"}
	optionsColumns  = []string{"pilihan ganda", "options"}
	answerColumns   = []string{"jawaban", "answer"}
)

// Load reads every usable question from the CSV file at path.
func Load(path string) ([]domain.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: question file %s not found", domain.ErrData, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrData, path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("failed to close question file", "path", path, "error", closeErr)
		}
	}()

	questions, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return questions, nil
}

// Parse reads questions from CSV data with a header row. Rows with a blank
// required cell or an answer key that matches no single option are skipped.
func Parse(r io.Reader) ([]domain.Question, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty question source", domain.ErrData)
		}
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrData, err)
	}

	qCol, err := columnIndex(header, questionColumns)
	if err != nil {
		return nil, err
	}
	oCol, err := columnIndex(header, optionsColumns)
	if err != nil {
		return nil, err
	}
	aCol, err := columnIndex(header, answerColumns)
	if err != nil {
		return nil, err
	}

	var questions []domain.Question
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: parse row %d: %v", domain.ErrData, line, err)
		}

		text := cell(record, qCol)
		rawOptions := cell(record, oCol)
		answer := strings.ToLower(cell(record, aCol))
		if text == "" || rawOptions == "" || answer == "" {
			continue
		}

		options := SplitOptions(rawOptions)
		if matches := countMatches(options, answer); matches != 1 {
			slog.Warn("Skipping question with ambiguous answer key",
				"row", line, "answer", answer, "matching_options", matches)
			continue
		}

		questions = append(questions, domain.Question{
			Text:      text,
			Options:   options,
			AnswerKey: answer,
		})
	}

	return questions, nil
}

// SplitOptions splits a multi-line option cell into trimmed, non-empty options.
func SplitOptions(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var options []string
	for _, opt := range strings.Split(raw, "\n") {
		opt = strings.TrimSpace(opt)
		if opt != "" {
			options = append(options, opt)
		}
	}
	return options
}

// LeadingLetter returns the lower-cased text before the first '.' of an
// option, e.g. "c" for "C. Strategic planning".
func LeadingLetter(option string) string {
	letter, _, _ := strings.Cut(option, ".")
	return strings.ToLower(strings.TrimSpace(letter))
}

// CorrectOption returns the option whose leading letter is the answer key.
func CorrectOption(q domain.Question) (string, bool) {
	for _, opt := range q.Options {
		if LeadingLetter(opt) == q.AnswerKey {
			return opt, true
		}
	}
	return "", false
}

func countMatches(options []string, answer string) int {
	n := 0
	for _, opt := range options {
		if LeadingLetter(opt) == answer {
			n++
		}
	}
	return n
}

func columnIndex(header []string, aliases []string) (int, error) {
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		for _, alias := range aliases {
			if name == alias {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: required column %q is missing", domain.ErrData, aliases[0])
}

func cell(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
