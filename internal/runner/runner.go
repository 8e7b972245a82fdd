// Package runner owns the live quiz sessions behind the HTTP API. It
// serialises actions per session, autosaves after every advancement and
// pushes each state change to a Publisher.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/persist"
	"github.com/ashureev/quizdeck/internal/quiz"
	"github.com/ashureev/quizdeck/internal/report"
	"github.com/ashureev/quizdeck/internal/translate"
	"golang.org/x/text/language"
)

const (
	// DefaultAutoAdvanceDelay is how long feedback stays on screen before an
	// automatic advance.
	DefaultAutoAdvanceDelay = 1500 * time.Millisecond
	// DefaultQuestionCount is used when a start request leaves count unset.
	DefaultQuestionCount = 10

	backgroundSaveTimeout = 10 * time.Second
)

// QuestionSource resolves a subject to its question set.
type QuestionSource interface {
	Questions(subject string) ([]domain.Question, error)
}

// Publisher receives every state change of a live session.
type Publisher interface {
	Publish(code string, v View)
	Rename(oldCode, newCode string)
	Close(code string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, View)  {}
func (nopPublisher) Rename(string, string) {}
func (nopPublisher) Close(string)          {}

// StartRequest configures a new quiz.
type StartRequest struct {
	Subject      string
	Count        int
	Randomize    bool
	TimerEnabled bool
	TimerVisible bool
	AutoAdvance  bool
	Language     string
	Label        string
}

// Settings are the toggles that may change mid-quiz. Nil fields are left
// untouched.
type Settings struct {
	AutoAdvance  *bool
	TimerVisible *bool
}

// Summary describes a saved session without making it live.
type Summary struct {
	Code     string
	Subject  string
	Number   int
	Total    int
	Score    int
	Finished bool
	SavedAt  time.Time
}

type entry struct {
	mu        sync.Mutex
	session   *domain.Session
	lastSeen  time.Time
	lastSaved time.Time
	pending   *time.Timer
	gen       uint64
	closed    bool
}

// cancelPending stops a scheduled auto-advance. Caller holds e.mu.
func (e *entry) cancelPending() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.gen++
}

// Runner coordinates the engine, the gateway and live subscribers.
type Runner struct {
	engine     *quiz.Engine
	gateway    *persist.Gateway
	questions  QuestionSource
	translator translate.Translator
	publisher  Publisher
	delay      time.Duration
	logger     *slog.Logger

	// engineMu guards the engine's shuffle source during Start.
	engineMu sync.Mutex

	mu   sync.RWMutex
	live map[string]*entry
}

// Option configures a Runner.
type Option func(*Runner)

// WithTranslator sets the translator used for non-empty start languages.
func WithTranslator(t translate.Translator) Option {
	return func(r *Runner) { r.translator = t }
}

// WithPublisher sets the receiver of state changes.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithAutoAdvanceDelay overrides DefaultAutoAdvanceDelay.
func WithAutoAdvanceDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner.
func New(engine *quiz.Engine, gateway *persist.Gateway, questions QuestionSource, opts ...Option) *Runner {
	r := &Runner{
		engine:     engine,
		gateway:    gateway,
		questions:  questions,
		translator: translate.Nop{},
		publisher:  nopPublisher{},
		delay:      DefaultAutoAdvanceDelay,
		logger:     slog.Default(),
		live:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPublisher replaces the publisher. It must be called before the runner
// serves requests.
func (r *Runner) SetPublisher(p Publisher) {
	r.publisher = p
}

// Start creates, saves and registers a new session.
func (r *Runner) Start(ctx context.Context, req StartRequest) (View, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return View{}, fmt.Errorf("%w: please select a subject", domain.ErrValidation)
	}
	lang, err := translate.ParseLanguage(req.Language)
	if err != nil {
		return View{}, fmt.Errorf("%w: invalid language %q", domain.ErrValidation, req.Language)
	}

	questions, err := r.questions.Questions(subject)
	if err != nil {
		return View{}, err
	}

	count := req.Count
	if count <= 0 {
		count = min(DefaultQuestionCount, len(questions))
	}

	r.engineMu.Lock()
	s, err := r.engine.Start(subject, questions, quiz.Config{
		Count:       count,
		Randomize:   req.Randomize,
		Timer:       quiz.TimerConfig{Enabled: req.TimerEnabled, Visible: req.TimerVisible},
		AutoAdvance: req.AutoAdvance,
	})
	r.engineMu.Unlock()
	if err != nil {
		return View{}, err
	}

	if lang != language.Und {
		r.translateSession(ctx, s, lang)
	}

	code, err := r.gateway.Save(ctx, s, req.Label)
	if err != nil {
		return View{}, err
	}

	now := r.engine.Now()
	e := &entry{session: s, lastSeen: now, lastSaved: now}
	e, _ = r.register(code, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	v := NewView(e.session, now)
	r.publisher.Publish(code, v)

	r.logger.Info("Quiz started", "code", code, "subject", subject, "questions", s.Total())
	return v, nil
}

// translateSession replaces the picked questions with a translated copy.
// Translation failures keep the original text.
func (r *Runner) translateSession(ctx context.Context, s *domain.Session, lang language.Tag) {
	translated, err := r.translator.Translate(ctx, s.Questions, lang)
	if err != nil {
		r.logger.Warn("Translation failed, using original text", "error", err, "language", lang.String())
		return
	}
	if len(translated) != len(s.Questions) {
		r.logger.Warn("Translation returned a different question count, using original text",
			"language", lang.String(), "want", len(s.Questions), "got", len(translated))
		return
	}
	s.Questions = translated
	s.Language = lang.String()
}

// Resume returns the live session under code, loading it from the store
// when it is not live.
func (r *Runner) Resume(ctx context.Context, code string) (View, error) {
	var v View
	err := r.withEntry(ctx, code, func(e *entry) error {
		v = NewView(e.session, r.engine.Now())
		return nil
	})
	return v, err
}

// Answer submits and scores choice. With auto-advance on, an advance is
// scheduled after the feedback delay.
func (r *Runner) Answer(ctx context.Context, code, choice string) (View, error) {
	var v View
	err := r.withEntry(ctx, code, func(e *entry) error {
		if err := r.engine.Submit(e.session, choice); err != nil {
			return err
		}
		if _, err := r.engine.ScoreCurrent(e.session); err != nil {
			return err
		}
		if e.session.AutoAdvance {
			r.scheduleAdvance(e)
		}
		v = r.publish(e)
		return nil
	})
	return v, err
}

// Advance moves to the next question and autosaves. A failed save leaves
// the session as it was so the caller can retry.
func (r *Runner) Advance(ctx context.Context, code string) (View, error) {
	var v View
	err := r.withEntry(ctx, code, func(e *entry) error {
		var err error
		v, err = r.commit(ctx, e, func(s *domain.Session) error {
			e.cancelPending()
			return r.engine.Advance(s)
		})
		return err
	})
	return v, err
}

// UpdateSettings changes the mid-quiz toggles and autosaves.
func (r *Runner) UpdateSettings(ctx context.Context, code string, settings Settings) (View, error) {
	var v View
	err := r.withEntry(ctx, code, func(e *entry) error {
		var err error
		v, err = r.commit(ctx, e, func(s *domain.Session) error {
			if settings.AutoAdvance != nil {
				s.AutoAdvance = *settings.AutoAdvance
			}
			if settings.TimerVisible != nil {
				s.Timer.Visible = s.Timer.Enabled && *settings.TimerVisible
			}
			r.syncPending(e)
			return nil
		})
		return err
	})
	return v, err
}

// commit applies mutate, autosaves and publishes. If either step fails the
// session is restored and the pending auto-advance follows it. Caller
// holds e.mu.
func (r *Runner) commit(ctx context.Context, e *entry, mutate func(s *domain.Session) error) (View, error) {
	// History only grows by append, so the old slice header still
	// describes the old entries.
	prev := *e.session

	err := mutate(e.session)
	if err == nil {
		err = r.autosave(ctx, e)
	}
	if err != nil {
		*e.session = prev
		r.syncPending(e)
		return View{}, err
	}
	return r.publish(e), nil
}

// syncPending arms or cancels the auto-advance to match the session.
// Caller holds e.mu.
func (r *Runner) syncPending(e *entry) {
	s := e.session
	switch {
	case !s.AutoAdvance || s.Phase != domain.PhaseFeedback:
		e.cancelPending()
	case e.pending == nil:
		r.scheduleAdvance(e)
	}
}

// Save writes the session. A non-empty label mints a new labelled code and
// re-keys the live session under it.
func (r *Runner) Save(ctx context.Context, code, label string) (View, error) {
	var v View
	err := r.withEntry(ctx, code, func(e *entry) error {
		if strings.TrimSpace(label) == "" {
			if err := r.autosave(ctx, e); err != nil {
				return err
			}
			v = r.publish(e)
			return nil
		}

		oldCode := e.session.ResumeCode
		newCode, err := r.gateway.SaveAs(ctx, e.session, label)
		if err != nil {
			return err
		}
		e.lastSaved = r.engine.Now()

		r.mu.Lock()
		delete(r.live, oldCode)
		r.live[newCode] = e
		r.mu.Unlock()
		r.publisher.Rename(oldCode, newCode)

		r.logger.Info("Quiz saved under new code", "old_code", oldCode, "code", newCode)
		v = r.publish(e)
		return nil
	})
	return v, err
}

// Report renders the finished session as markdown. It returns the download
// file name and the document.
func (r *Runner) Report(ctx context.Context, code string) (string, string, error) {
	var name, body string
	err := r.withEntry(ctx, code, func(e *entry) error {
		doc, err := report.Generate(e.session)
		if err != nil {
			return err
		}
		name, body = report.FileName(e.session), doc
		return nil
	})
	return name, body, err
}

// Discard drops the live session. The saved copy stays resumable until the
// retention sweep removes it.
func (r *Runner) Discard(code string) {
	code = persist.NormalizeCode(code)
	r.mu.Lock()
	e, ok := r.live[code]
	delete(r.live, code)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.cancelPending()
	e.closed = true
	e.mu.Unlock()
	r.publisher.Close(code)
	r.logger.Info("Quiz discarded", "code", code)
}

// Inspect summarises the session under code without making it live.
func (r *Runner) Inspect(ctx context.Context, code string) (Summary, error) {
	code = persist.NormalizeCode(code)
	if e := r.lookup(code); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return summarize(e.session, e.lastSaved), nil
	}

	s, savedAt, err := r.gateway.Inspect(ctx, code)
	if err != nil {
		return Summary{}, err
	}
	return summarize(s, savedAt), nil
}

func summarize(s *domain.Session, savedAt time.Time) Summary {
	return Summary{
		Code:     s.ResumeCode,
		Subject:  s.Subject,
		Number:   min(s.CurrentIndex+1, s.Total()),
		Total:    s.Total(),
		Score:    s.Score,
		Finished: s.Finished(),
		SavedAt:  savedAt,
	}
}

// Elapsed returns the elapsed time of a live session and whether the timer
// is shown. ok is false when the session is not live.
func (r *Runner) Elapsed(code string) (elapsed time.Duration, visible, ok bool) {
	e := r.lookup(persist.NormalizeCode(code))
	if e == nil {
		return 0, false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	return s.Timer.Elapsed(r.engine.Now()), s.Timer.Enabled && s.Timer.Visible, true
}

// Live returns the number of live sessions.
func (r *Runner) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// EvictIdle autosaves and drops sessions untouched for longer than ttl. It
// returns the number of evicted sessions.
func (r *Runner) EvictIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := r.engine.Now().Add(-ttl)

	r.mu.RLock()
	candidates := make(map[string]*entry, len(r.live))
	for code, e := range r.live {
		candidates[code] = e
	}
	r.mu.RUnlock()

	evicted := 0
	for code, e := range candidates {
		e.mu.Lock()
		if e.closed || !e.lastSeen.Before(cutoff) {
			e.mu.Unlock()
			continue
		}
		e.cancelPending()
		if err := r.autosave(ctx, e); err != nil {
			// Keep it live so the next sweep retries.
			r.logger.Warn("Failed to save idle session", "code", code, "error", err)
			e.mu.Unlock()
			continue
		}
		e.closed = true
		e.mu.Unlock()

		r.mu.Lock()
		if r.live[code] == e {
			delete(r.live, code)
		}
		r.mu.Unlock()
		r.publisher.Close(code)
		evicted++
	}
	if evicted > 0 {
		r.logger.Info("Evicted idle sessions", "count", evicted)
	}
	return evicted
}

// withEntry runs fn on the live entry for code with the entry locked.
func (r *Runner) withEntry(ctx context.Context, code string, fn func(e *entry) error) error {
	code = persist.NormalizeCode(code)
	if code == "" {
		return fmt.Errorf("%w: resume code is empty", domain.ErrValidation)
	}

	for {
		e := r.lookup(code)
		if e == nil {
			s, err := r.gateway.Load(ctx, code)
			if err != nil {
				return err
			}
			now := r.engine.Now()
			e, _ = r.register(code, &entry{session: s, lastSeen: now, lastSaved: now})
		}

		e.mu.Lock()
		if e.closed {
			// Evicted or discarded between lookup and lock.
			e.mu.Unlock()
			continue
		}
		e.lastSeen = r.engine.Now()
		err := fn(e)
		e.mu.Unlock()
		return err
	}
}

func (r *Runner) lookup(code string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live[code]
}

// register stores e under code unless another entry got there first, in
// which case the existing entry is returned.
func (r *Runner) register(code string, e *entry) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.live[code]; ok {
		return existing, false
	}
	r.live[code] = e
	return e, true
}

// autosave writes the session under its own code. Caller holds e.mu.
func (r *Runner) autosave(ctx context.Context, e *entry) error {
	if err := r.gateway.Autosave(ctx, e.session); err != nil {
		return err
	}
	e.lastSaved = r.engine.Now()
	return nil
}

// publish renders and pushes the current view. Caller holds e.mu.
func (r *Runner) publish(e *entry) View {
	v := NewView(e.session, r.engine.Now())
	r.publisher.Publish(e.session.ResumeCode, v)
	return v
}

// scheduleAdvance arms the auto-advance timer. Caller holds e.mu.
func (r *Runner) scheduleAdvance(e *entry) {
	e.cancelPending()
	gen := e.gen
	e.pending = time.AfterFunc(r.delay, func() {
		r.autoAdvance(e, gen)
	})
}

func (r *Runner) autoAdvance(e *entry, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A manual advance, a settings change or a discard got there first.
	if e.closed || e.gen != gen || e.session.Phase != domain.PhaseFeedback {
		return
	}
	e.pending = nil

	code := e.session.ResumeCode
	if err := r.engine.Advance(e.session); err != nil {
		r.logger.Warn("Auto-advance failed", "code", code, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backgroundSaveTimeout)
	defer cancel()
	if err := r.autosave(ctx, e); err != nil {
		r.logger.Error("Autosave after auto-advance failed", "code", code, "error", err)
	}
	r.publish(e)
}

// Question returns the subject and the question at index of the session
// under code.
func (r *Runner) Question(ctx context.Context, code string, index int) (string, domain.Question, error) {
	var subject string
	var q domain.Question
	err := r.withEntry(ctx, code, func(e *entry) error {
		s := e.session
		if index < 0 || index >= s.Total() {
			return fmt.Errorf("%w: question index %d out of range", domain.ErrValidation, index)
		}
		subject, q = s.Subject, s.Questions[index]
		return nil
	})
	return subject, q, err
}
