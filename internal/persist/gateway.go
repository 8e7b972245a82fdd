// Package persist saves and restores quiz sessions in the document store
// under human-friendly resume codes.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
)

// DocumentStore is the subset of the store the gateway needs.
type DocumentStore interface {
	GetSession(ctx context.Context, code string) (*domain.SessionDocument, error)
	UpsertSession(ctx context.Context, doc *domain.SessionDocument) error
	SessionExists(ctx context.Context, code string) (bool, error)
	DeleteSession(ctx context.Context, code string) error
}

// Gateway serialises sessions to and from the document store.
type Gateway struct {
	repo  DocumentStore
	codes *CodeGenerator
	now   func() time.Time
}

// NewGateway creates a gateway. A nil codes generator uses the defaults.
func NewGateway(repo DocumentStore, codes *CodeGenerator, now func() time.Time) *Gateway {
	if now == nil {
		now = time.Now
	}
	if codes == nil {
		codes = NewCodeGenerator(DefaultCodeAttempts, nil, now)
	}
	return &Gateway{repo: repo, codes: codes, now: now}
}

// Save writes s under its resume code, minting one from label first if the
// session has none. It returns the code.
func (g *Gateway) Save(ctx context.Context, s *domain.Session, label string) (string, error) {
	if s.ResumeCode == "" {
		code, err := g.codes.Generate(ctx, label, g.repo.SessionExists)
		if err != nil {
			return "", err
		}
		s.ResumeCode = code
	}
	if err := g.write(ctx, s); err != nil {
		return "", err
	}
	return s.ResumeCode, nil
}

// SaveAs writes s under a freshly minted code and re-keys the session.
func (g *Gateway) SaveAs(ctx context.Context, s *domain.Session, label string) (string, error) {
	code, err := g.codes.Generate(ctx, label, g.repo.SessionExists)
	if err != nil {
		return "", err
	}
	previous := s.ResumeCode
	s.ResumeCode = code
	if err := g.write(ctx, s); err != nil {
		s.ResumeCode = previous
		return "", err
	}
	return code, nil
}

// Autosave writes s under the code it already owns.
func (g *Gateway) Autosave(ctx context.Context, s *domain.Session) error {
	if s.ResumeCode == "" {
		return fmt.Errorf("%w: session has no resume code", domain.ErrState)
	}
	return g.write(ctx, s)
}

// Load restores the session saved under code. A running timer restarts now.
func (g *Gateway) Load(ctx context.Context, code string) (*domain.Session, error) {
	s, _, err := g.Inspect(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.Phase != domain.PhaseFinished {
		s.Timer.Resume(g.now())
	}
	return s, nil
}

// Inspect decodes the session saved under code without restarting its
// timer. It also returns when the document was last written.
func (g *Gateway) Inspect(ctx context.Context, code string) (*domain.Session, time.Time, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, time.Time{}, fmt.Errorf("%w: resume code is empty", domain.ErrValidation)
	}

	doc, err := g.repo.GetSession(ctx, code)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load session %s: %w", code, err)
	}
	if doc == nil {
		return nil, time.Time{}, fmt.Errorf("%w: no saved quiz for code %s", domain.ErrNotFound, code)
	}

	s, err := decodeSession(doc.Payload)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load session %s: %w", code, err)
	}
	s.ResumeCode = code
	if s.Subject == "" {
		s.Subject = doc.Subject
	}
	return s, doc.UpdatedAt, nil
}

// Delete removes the document saved under code.
func (g *Gateway) Delete(ctx context.Context, code string) error {
	return g.repo.DeleteSession(ctx, NormalizeCode(code))
}

// write folds the running timer into ElapsedBeforePause and restarts it at
// now, so the stored copy holds the full elapsed time and the live copy
// keeps counting.
func (g *Gateway) write(ctx context.Context, s *domain.Session) error {
	now := g.now()
	if s.Timer.Running() {
		s.Timer.Pause(now)
		s.Timer.Resume(now)
	}

	payload, err := encodeSession(s, now)
	if err != nil {
		return err
	}
	doc := &domain.SessionDocument{
		Code:      s.ResumeCode,
		Subject:   s.Subject,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.repo.UpsertSession(ctx, doc); err != nil {
		return fmt.Errorf("save session %s: %w", s.ResumeCode, err)
	}
	return nil
}
