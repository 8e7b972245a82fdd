package question

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ashureev/quizdeck/internal/domain"
)

// Subject maps a display name to its question file.
type Subject struct {
	Name string `json:"name" mapstructure:"name"`
	File string `json:"file" mapstructure:"file"`
}

// Catalog resolves subjects to question sets. Loaded sets are cached.
type Catalog struct {
	dataDir       string
	sourceBaseURL string
	subjects      []Subject

	mu    sync.RWMutex
	cache map[string][]domain.Question
}

// NewCatalog creates a catalog over the given subjects. Relative file paths
// are resolved against dataDir.
func NewCatalog(dataDir, sourceBaseURL string, subjects []Subject) *Catalog {
	list := make([]Subject, len(subjects))
	copy(list, subjects)
	return &Catalog{
		dataDir:       dataDir,
		sourceBaseURL: sourceBaseURL,
		subjects:      list,
		cache:         make(map[string][]domain.Question),
	}
}

// Discover builds a catalog from every *.csv file in dataDir. The subject
// name is the file name without its extension.
func Discover(dataDir, sourceBaseURL string) (*Catalog, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read data directory %s: %v", domain.ErrData, dataDir, err)
	}

	var subjects []Subject
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		subjects = append(subjects, Subject{
			Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			File: e.Name(),
		})
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Name < subjects[j].Name })

	return NewCatalog(dataDir, sourceBaseURL, subjects), nil
}

// Subjects returns the configured subjects in display order.
func (c *Catalog) Subjects() []Subject {
	out := make([]Subject, len(c.subjects))
	copy(out, c.subjects)
	return out
}

// Lookup returns the subject with the given name.
func (c *Catalog) Lookup(name string) (Subject, bool) {
	for _, s := range c.subjects {
		if s.Name == name {
			return s, true
		}
	}
	return Subject{}, false
}

// Questions returns the full question set of a subject.
func (c *Catalog) Questions(name string) ([]domain.Question, error) {
	subject, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: subject %q", domain.ErrNotFound, name)
	}

	c.mu.RLock()
	cached, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	path := subject.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dataDir, path)
	}
	questions, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: subject %q has no usable questions", domain.ErrData, name)
	}

	c.mu.Lock()
	c.cache[name] = questions
	c.mu.Unlock()
	return questions, nil
}

// SourceURL returns a link to the raw question file, or "" when no base
// URL is configured.
func (c *Catalog) SourceURL(name string) string {
	subject, ok := c.Lookup(name)
	if !ok || c.sourceBaseURL == "" {
		return ""
	}
	u, err := url.JoinPath(c.sourceBaseURL, filepath.Base(subject.File))
	if err != nil {
		return ""
	}
	return u
}
