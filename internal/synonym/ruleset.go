package synonym

import (
	"strings"

	"github.com/supportal/kbsearch/internal/domain"
)

// Group is one equivalence class of mutually substitutable terms.
type Group []string

// Ruleset holds the validated synonym groups of a single locale. Immutable
// after construction; shared read-only across analyzer invocations.
type Ruleset struct {
	locale string
	groups []Group
	byTerm map[string]int // term -> group index, used for ambiguity checks and expansion
}

// NewRuleset validates and builds a ruleset. A term present in more than
// one group makes the whole locale invalid (AmbiguousTermError); a group
// with fewer than two terms is rejected as malformed.
func NewRuleset(locale string, groups []Group) (*Ruleset, error) {
	rs := &Ruleset{
		locale: locale,
		groups: make([]Group, 0, len(groups)),
		byTerm: make(map[string]int),
	}
	for _, g := range groups {
		normalized := make(Group, 0, len(g))
		for _, term := range g {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				return nil, &MalformedGroupError{Locale: locale, Group: g}
			}
			normalized = append(normalized, term)
		}
		if len(normalized) < 2 {
			return nil, &MalformedGroupError{Locale: locale, Group: g}
		}
		idx := len(rs.groups)
		for _, term := range normalized {
			if prev, ok := rs.byTerm[term]; ok && prev != idx {
				return nil, &domain.AmbiguousTermError{Locale: locale, Term: term}
			}
			rs.byTerm[term] = idx
		}
		rs.groups = append(rs.groups, normalized)
	}
	return rs, nil
}

// Locale returns the locale this ruleset belongs to.
func (r *Ruleset) Locale() string { return r.locale }

// Len returns the number of equivalence groups.
func (r *Ruleset) Len() int { return len(r.groups) }

// Groups returns the groups as plain string slices, in load order.
func (r *Ruleset) Groups() [][]string {
	out := make([][]string, len(r.groups))
	for i, g := range r.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}

// Expansions returns the other members of term's group, or nil when the
// term belongs to no group.
func (r *Ruleset) Expansions(term string) []string {
	idx, ok := r.byTerm[term]
	if !ok {
		return nil
	}
	group := r.groups[idx]
	out := make([]string, 0, len(group)-1)
	for _, t := range group {
		if t != term {
			out = append(out, t)
		}
	}
	return out
}
