// Quizdeck terminal runner: takes a quiz from a question CSV on stdin/stdout.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/question"
	"github.com/ashureev/quizdeck/internal/quiz"
	"github.com/ashureev/quizdeck/internal/report"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Quiz failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	file      string
	subject   string
	count     int
	randomize bool
	timer     bool
	out       string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("quiz", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.file, "file", "f", os.Getenv("QUIZ_FILE"), "question CSV file")
	fs.StringVarP(&o.subject, "subject", "s", "", "subject name (default: file name)")
	fs.IntVarP(&o.count, "count", "n", 10, "number of questions")
	fs.BoolVarP(&o.randomize, "random", "r", false, "shuffle questions")
	fs.BoolVarP(&o.timer, "timer", "t", false, "time the quiz")
	fs.StringVarP(&o.out, "out", "o", "", "write the markdown report to this path")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.file == "" && fs.NArg() > 0 {
		o.file = fs.Arg(0)
	}
	if o.file == "" {
		return o, fmt.Errorf("%w: a question file is required (--file)", domain.ErrValidation)
	}
	if o.subject == "" {
		o.subject = strings.TrimSuffix(filepath.Base(o.file), filepath.Ext(o.file))
	}
	return o, nil
}

func run(args []string, in io.Reader, out io.Writer) error {
	o, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	questions, err := question.Load(o.file)
	if err != nil {
		return err
	}

	engine := quiz.NewEngine()
	s, err := engine.Start(o.subject, questions, quiz.Config{
		Count:     min(o.count, len(questions)),
		Randomize: o.randomize,
		Timer:     quiz.TimerConfig{Enabled: o.timer, Visible: o.timer},
	})
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for !s.Finished() {
		q, _ := s.Current()
		fmt.Fprintf(out, "\nQuestion %d of %d\n%s\n", s.CurrentIndex+1, s.Total(), q.Text)
		for i, opt := range q.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
		}

		choice, ok := prompt(scanner, out, q.Options)
		if !ok {
			return fmt.Errorf("%w: input ended before the quiz finished", domain.ErrState)
		}
		if err := engine.Submit(s, choice); err != nil {
			return err
		}
		correct, err := engine.ScoreCurrent(s)
		if err != nil {
			return err
		}
		if correct {
			fmt.Fprintln(out, "Correct!")
		} else {
			answer, found := question.CorrectOption(q)
			if !found {
				answer = strings.ToUpper(q.AnswerKey)
			}
			fmt.Fprintf(out, "Incorrect. The correct answer is: %s\n", answer)
		}
		if err := engine.Advance(s); err != nil {
			return err
		}
	}

	grade := report.GradeFor(s.Percentage())
	fmt.Fprintf(out, "\nFinal score: %d/%d (%.1f%%) Grade %s\n%s\n", s.Score, s.Total(), s.Percentage(), grade.Letter, grade.Message)
	if s.Timer.Enabled {
		fmt.Fprintf(out, "Time taken: %s\n", report.FormatElapsed(engine.Elapsed(s)))
	}

	if o.out == "" {
		return nil
	}
	body, err := report.Generate(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.out, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(out, "Report written to %s\n", o.out)
	return nil
}

// prompt reads until the user picks an option by number or letter.
func prompt(scanner *bufio.Scanner, out io.Writer, opts []string) (string, bool) {
	for {
		fmt.Fprint(out, "Your answer: ")
		if !scanner.Scan() {
			return "", false
		}
		if choice, ok := resolveChoice(strings.TrimSpace(scanner.Text()), opts); ok {
			return choice, true
		}
		fmt.Fprintf(out, "Please enter 1-%d or an option letter.\n", len(opts))
	}
}

func resolveChoice(input string, opts []string) (string, bool) {
	if input == "" {
		return "", false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(opts) {
			return opts[n-1], true
		}
		return "", false
	}
	letter := strings.ToLower(input)
	for _, opt := range opts {
		if question.LeadingLetter(opt) == letter {
			return opt, true
		}
	}
	return "", false
}
