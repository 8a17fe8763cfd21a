// Package moderation screens user-supplied text (chat messages, group
// posts) against a blocklist before it is accepted. The filter resists the
// two common evasions: separators inserted between letters ("h.a.t.e") and
// leet-speak substitutions ("h4t3").
package moderation

import (
	"context"
	"regexp"
	"strings"
)

// Stage names the normalisation pass that produced a match.
type Stage string

const (
	StageNone      Stage = ""
	StageDirect    Stage = "direct"
	StageCompacted Stage = "compacted"
	StageDeleeted  Stage = "deleeted"
)

// Verdict is the outcome of screening one text.
type Verdict struct {
	Blocked bool
	Stage   Stage
	Term    string
}

// Filter decides whether a text contains blocklisted content. A Filter is
// immutable after NewFilter returns and is safe for concurrent use.
type Filter struct {
	terms   []string
	pattern *regexp.Regexp // nil when the blocklist is empty
	leet    [128]rune      // indexed by ASCII byte, 0 = unmapped
}

// NewFilter compiles cfg into a Filter. Terms are lowercased, trimmed and
// de-duplicated; the alternation pattern is built once here.
func NewFilter(cfg Config) *Filter {
	f := &Filter{terms: normalizeTerms(cfg.Blocklist)}

	if len(f.terms) > 0 {
		quoted := make([]string, len(f.terms))
		for i, t := range f.terms {
			quoted[i] = regexp.QuoteMeta(t)
		}
		f.pattern = regexp.MustCompile(strings.Join(quoted, "|"))
	}

	for from, to := range cfg.Leet {
		// Only ASCII alphanumerics survive compaction, so other keys could
		// never be looked up.
		if from < 128 {
			f.leet[from] = to
		}
	}
	return f
}

// NewDefaultFilter is NewFilter(DefaultConfig()).
func NewDefaultFilter() *Filter {
	return NewFilter(DefaultConfig())
}

// Terms returns a copy of the normalised blocklist in configured order.
func (f *Filter) Terms() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.terms...)
}

// IsInappropriate reports whether text contains a blocklisted term in its
// direct, compacted or de-leeted form. The empty string is never
// inappropriate.
func (f *Filter) IsInappropriate(text string) bool {
	return f.Check(text).Blocked
}

// IsInappropriateText is IsInappropriate for an optional text; a nil text
// is treated as acceptable.
func (f *Filter) IsInappropriateText(text *string) bool {
	if text == nil {
		return false
	}
	return f.IsInappropriate(*text)
}

// Check runs the three passes in order and stops at the first match.
func (f *Filter) Check(text string) Verdict {
	if f == nil || f.pattern == nil || text == "" {
		return Verdict{}
	}

	lower := strings.ToLower(text)
	if term := f.pattern.FindString(lower); term != "" {
		return Verdict{Blocked: true, Stage: StageDirect, Term: term}
	}

	compacted := compact(lower)
	if compacted == "" {
		return Verdict{}
	}
	if term := f.pattern.FindString(compacted); term != "" {
		return Verdict{Blocked: true, Stage: StageCompacted, Term: term}
	}

	if term := f.pattern.FindString(f.deleet(compacted)); term != "" {
		return Verdict{Blocked: true, Stage: StageDeleeted, Term: term}
	}
	return Verdict{}
}

// Screen lets a local Filter stand in wherever a remote moderation client is
// accepted. It never fails.
func (f *Filter) Screen(_ context.Context, text string) (Verdict, error) {
	return f.Check(text), nil
}

// compact keeps only ASCII letters and digits.
func compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// deleet maps every character of an already compacted string through the
// leet table in a single pass.
func (f *Filter) deleet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if to := f.leet[s[i]]; to != 0 {
			b.WriteRune(to)
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
