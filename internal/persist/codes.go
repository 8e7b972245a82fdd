package persist

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultCodeAttempts bounds the uniqueness checks per generated code.
	DefaultCodeAttempts = 10
	maxLabelLength      = 24
	fallbackLabel       = "QUIZ"
)

var (
	labelInvalid   = regexp.MustCompile(`[^A-Z0-9]+`)
	codeWhitespace = regexp.MustCompile(`\s+`)
)

// codeWords is the dictionary for label-less codes such as APPLE-BEAR-42.
var codeWords = []string{
	"APPLE", "BEAR", "CEDAR", "DELTA", "EAGLE", "FALCON", "GRAPE", "HARBOR",
	"IVORY", "JADE", "KITE", "LEMON", "MAPLE", "NOVA", "OCEAN", "PANDA",
	"QUARTZ", "RIVER", "SAGE", "TIGER", "UMBER", "VIOLET", "WILLOW", "XENON",
	"YARROW", "ZEBRA", "AMBER", "BISON", "CORAL", "DUNE", "EMBER", "FERN",
	"GLACIER", "HAZEL", "IRIS", "JUNIPER", "KOALA", "LOTUS", "MANGO", "NUTMEG",
}

// ExistsFunc reports whether a code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator mints resume codes that do not collide with stored ones.
type CodeGenerator struct {
	maxAttempts int
	rand        *rand.Rand
	now         func() time.Time
}

// NewCodeGenerator creates a generator. maxAttempts <= 0 selects the default.
func NewCodeGenerator(maxAttempts int, r *rand.Rand, now func() time.Time) *CodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultCodeAttempts
	}
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{maxAttempts: maxAttempts, rand: r, now: now}
}

// Generate checks up to maxAttempts candidates against exists. When every
// candidate collides, it returns a label+timestamp code without checking it.
func (g *CodeGenerator) Generate(ctx context.Context, label string, exists ExistsFunc) (string, error) {
	label = SanitizeLabel(label)
	for i := 0; i < g.maxAttempts; i++ {
		candidate := g.candidate(label)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check resume code: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return g.Fallback(label), nil
}

// Fallback returns the unconditional label+timestamp code.
func (g *CodeGenerator) Fallback(label string) string {
	if label == "" {
		label = fallbackLabel
	}
	return label + "-" + g.now().UTC().Format("20060102150405")
}

func (g *CodeGenerator) candidate(label string) string {
	if label != "" {
		return fmt.Sprintf("%s-%04d", label, g.rand.IntN(10000))
	}
	first := codeWords[g.rand.IntN(len(codeWords))]
	second := codeWords[g.rand.IntN(len(codeWords))]
	return fmt.Sprintf("%s-%s-%02d", first, second, 10+g.rand.IntN(90))
}

// SanitizeLabel upper-cases a user label and reduces it to A-Z, 0-9 and
// single dashes. Accents are dropped first, so "Ünïcode" keeps its letters.
func SanitizeLabel(label string) string {
	// Chained transformers are stateful; build one per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(stripMarks, label); err == nil {
		label = folded
	}
	label = labelInvalid.ReplaceAllString(strings.ToUpper(label), "-")
	label = strings.Trim(label, "-")
	if len(label) > maxLabelLength {
		label = strings.TrimRight(label[:maxLabelLength], "-")
	}
	return label
}

// NormalizeCode canonicalises a user-entered resume code.
func NormalizeCode(code string) string {
	return strings.ToUpper(codeWhitespace.ReplaceAllString(strings.TrimSpace(code), ""))
}
