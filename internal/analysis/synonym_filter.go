package analysis

import (
	"fmt"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

// SynonymFilterType is the registry name of the synonym expansion filter.
// Per-locale instances are added to an index mapping with a config of the
// form {"type": SynonymFilterType, "groups": [][]string}.
const SynonymFilterType = "kb_synonym_expand"

// SynonymFilter emits every member of a term's equivalence group at the
// same token position, so a query for any group member matches documents
// containing any other member. Positions are preserved for phrase queries;
// synonym siblings share a position.
type SynonymFilter struct {
	expansions map[string][]string
}

// NewSynonymFilter builds a filter from equivalence groups. Groups are
// assumed validated (no term in two groups); validation happens at
// dictionary load time.
func NewSynonymFilter(groups [][]string) *SynonymFilter {
	expansions := make(map[string][]string)
	for _, group := range groups {
		for _, term := range group {
			for _, sibling := range group {
				if sibling != term {
					expansions[term] = append(expansions[term], sibling)
				}
			}
		}
	}
	return &SynonymFilter{expansions: expansions}
}

// Filter implements analysis.TokenFilter.
func (f *SynonymFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	rv := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		rv = append(rv, tok)
		siblings, ok := f.expansions[string(tok.Term)]
		if !ok {
			continue
		}
		for _, s := range siblings {
			rv = append(rv, &analysis.Token{
				Term:     []byte(s),
				Position: tok.Position,
				Start:    tok.Start,
				End:      tok.End,
				Type:     tok.Type,
			})
		}
	}
	return rv
}

func synonymFilterConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	groups, err := groupsFromConfig(config["groups"])
	if err != nil {
		return nil, err
	}
	return NewSynonymFilter(groups), nil
}

// groupsFromConfig accepts both the native [][]string shape and the
// []interface{} shape produced when a stored index mapping is decoded
// from JSON on reopen.
func groupsFromConfig(v interface{}) ([][]string, error) {
	switch groups := v.(type) {
	case nil:
		return nil, fmt.Errorf("synonym filter: missing groups config")
	case [][]string:
		return groups, nil
	case []interface{}:
		out := make([][]string, 0, len(groups))
		for _, g := range groups {
			raw, ok := g.([]interface{})
			if !ok {
				return nil, fmt.Errorf("synonym filter: group must be a list, got %T", g)
			}
			group := make([]string, 0, len(raw))
			for _, t := range raw {
				term, ok := t.(string)
				if !ok {
					return nil, fmt.Errorf("synonym filter: term must be a string, got %T", t)
				}
				group = append(group, term)
			}
			out = append(out, group)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("synonym filter: unsupported groups config type %T", v)
	}
}

func init() {
	err := registry.RegisterTokenFilter(SynonymFilterType, synonymFilterConstructor)
	if err != nil {
		panic(err)
	}
}
