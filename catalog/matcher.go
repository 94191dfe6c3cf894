package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/glimte/mandate-go/internal/reliability"
)

// MaxMatches is the most items a matcher may return
const MaxMatches = 3

// Matcher ranks catalog items against a free-text description. It returns
// at most MaxMatches item ids, best first.
type Matcher interface {
	Match(ctx context.Context, description string, items []Item) ([]string, error)
}

// MatcherFunc adapts a function to Matcher
type MatcherFunc func(ctx context.Context, description string, items []Item) ([]string, error)

func (f MatcherFunc) Match(ctx context.Context, description string, items []Item) ([]string, error) {
	return f(ctx, description, items)
}

// FallbackMatcher returns the first entries of the catalog regardless of
// the description.
type FallbackMatcher struct{}

// Match implements Matcher
func (FallbackMatcher) Match(_ context.Context, _ string, items []Item) ([]string, error) {
	n := len(items)
	if n > MaxMatches {
		n = MaxMatches
	}
	ids := make([]string, 0, n)
	for _, it := range items[:n] {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

// KeywordMatcher scores items by how many description words appear in the
// item's name, destination, description or tags.
type KeywordMatcher struct{}

// Match implements Matcher
func (KeywordMatcher) Match(ctx context.Context, description string, items []Item) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := tokenize(description)
	if len(words) == 0 {
		return nil, nil
	}

	type scored struct {
		id    string
		score int
		pos   int
	}
	var ranked []scored
	for pos, it := range items {
		vocab := make(map[string]bool)
		for _, field := range append([]string{it.Name, it.Destination, it.Description}, it.Tags...) {
			for _, w := range tokenize(field) {
				vocab[w] = true
			}
		}
		score := 0
		for _, w := range words {
			if vocab[w] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{id: it.ID, score: score, pos: pos})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].pos < ranked[j].pos
	})
	if len(ranked) > MaxMatches {
		ranked = ranked[:MaxMatches]
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	return ids, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "want": true,
	"looking": true, "need": true, "please": true, "some": true, "find": true,
}

// ResilientMatcher calls an external matcher through a circuit breaker and
// answers with the fallback when the call fails or the circuit is open.
type ResilientMatcher struct {
	primary  Matcher
	fallback Matcher
	breaker  *reliability.CircuitBreaker
	logger   *slog.Logger
}

// ResilientOption configures a ResilientMatcher
type ResilientOption func(*ResilientMatcher)

// WithFallback replaces the fallback matcher
func WithFallback(m Matcher) ResilientOption {
	return func(r *ResilientMatcher) {
		r.fallback = m
	}
}

// WithBreaker replaces the circuit breaker
func WithBreaker(cb *reliability.CircuitBreaker) ResilientOption {
	return func(r *ResilientMatcher) {
		r.breaker = cb
	}
}

// WithMatcherLogger sets the logger
func WithMatcherLogger(logger *slog.Logger) ResilientOption {
	return func(r *ResilientMatcher) {
		r.logger = logger
	}
}

// NewResilientMatcher wraps primary with a breaker and a fallback
func NewResilientMatcher(primary Matcher, opts ...ResilientOption) *ResilientMatcher {
	r := &ResilientMatcher{
		primary:  primary,
		fallback: FallbackMatcher{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("catalog-matcher"),
			reliability.WithFailureThreshold(3),
			reliability.WithListener(reliability.LogListener(r.logger)),
		)
	}
	return r
}

// Breaker exposes the circuit breaker for health reporting
func (r *ResilientMatcher) Breaker() *reliability.CircuitBreaker {
	return r.breaker
}

// Match implements Matcher. It only fails when the fallback fails.
func (r *ResilientMatcher) Match(ctx context.Context, description string, items []Item) ([]string, error) {
	var ids []string
	err := r.breaker.Execute(ctx, func() error {
		var err error
		ids, err = r.primary.Match(ctx, description, items)
		return err
	})
	if err == nil {
		return ids, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	if reliability.IsRejected(err) {
		r.logger.Debug("matcher circuit open, using fallback", "breaker", r.breaker.GetMetrics().Name)
	} else {
		r.logger.Warn("matcher failed, using fallback", "error", err)
	}
	ids, err = r.fallback.Match(ctx, description, items)
	if err != nil {
		return nil, fmt.Errorf("fallback matcher failed: %w", err)
	}
	return ids, nil
}
