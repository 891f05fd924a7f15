// Package filter selects host subsets for a run, e.g. re-running only the
// hosts that failed last time.
package filter

import (
	"fmt"
	"path"
	"strings"

	"fleetrun/internal/hostspec"
)

// Matcher decides whether a host belongs to the selected subset.
type Matcher struct {
	include []term
	exclude []term
}

type term struct {
	pattern string
	isTag   bool
}

// Parse compiles a limit expression: comma-separated shell-style glob
// patterns matched against the bare name and the raw token, "tag:x" terms
// matched against inventory tags, and "!" prefix for exclusion. A host is
// selected when it matches any include term (or none exist) and no exclude
// term.
func Parse(expr string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range strings.Split(expr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		negated := strings.HasPrefix(raw, "!")
		if negated {
			raw = strings.TrimSpace(strings.TrimPrefix(raw, "!"))
		}

		t := term{pattern: raw}
		if tag, ok := strings.CutPrefix(raw, "tag:"); ok {
			t = term{pattern: tag, isTag: true}
		}
		if t.pattern == "" {
			return nil, fmt.Errorf("empty filter term in %q", expr)
		}
		if _, err := path.Match(t.pattern, "probe"); err != nil {
			return nil, fmt.Errorf("bad filter pattern %q: %w", t.pattern, err)
		}

		if negated {
			m.exclude = append(m.exclude, t)
		} else {
			m.include = append(m.include, t)
		}
	}
	return m, nil
}

// Match reports whether a token (with optional inventory tags) is selected.
func (m *Matcher) Match(token hostspec.Token, tags []string) bool {
	for _, t := range m.exclude {
		if t.matches(token, tags) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, t := range m.include {
		if t.matches(token, tags) {
			return true
		}
	}
	return false
}

func (t term) matches(token hostspec.Token, tags []string) bool {
	if t.isTag {
		for _, tag := range tags {
			if strings.EqualFold(tag, t.pattern) {
				return true
			}
		}
		return false
	}

	bare := hostspec.BareName(token)
	for _, candidate := range []string{bare, string(token)} {
		if ok, _ := path.Match(t.pattern, candidate); ok {
			return true
		}
	}
	return false
}

// Apply filters a token list in place-order, consulting the tag index by bare
// name.
func (m *Matcher) Apply(tokens []hostspec.Token, tagIndex map[string][]string) []hostspec.Token {
	var out []hostspec.Token
	for _, tok := range tokens {
		if m.Match(tok, tagIndex[hostspec.BareName(tok)]) {
			out = append(out, tok)
		}
	}
	return out
}
