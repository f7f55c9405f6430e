package synonym

import (
	"errors"
	"testing"

	"github.com/supportal/kbsearch/internal/domain"
)

func TestNewRuleset_Valid(t *testing.T) {
	rs, err := NewRuleset("en", []Group{
		{"car", "automobile"},
		{"crash", "freeze", "hang"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Locale() != "en" {
		t.Errorf("expected locale 'en', got %q", rs.Locale())
	}
	if rs.Len() != 2 {
		t.Errorf("expected 2 groups, got %d", rs.Len())
	}
}

func TestNewRuleset_NormalizesTerms(t *testing.T) {
	rs, err := NewRuleset("en", []Group{{" Car ", "AUTOMOBILE"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := rs.Expansions("car")
	if len(exp) != 1 || exp[0] != "automobile" {
		t.Errorf("expected [automobile], got %v", exp)
	}
}

func TestNewRuleset_AmbiguousTerm(t *testing.T) {
	_, err := NewRuleset("en", []Group{
		{"car", "automobile"},
		{"car", "vehicle"},
	})
	if err == nil {
		t.Fatal("expected error for ambiguous term")
	}
	if !errors.Is(err, domain.ErrSynonymLoad) {
		t.Errorf("expected ErrSynonymLoad, got %v", err)
	}

	var ambErr *domain.AmbiguousTermError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected AmbiguousTermError, got %T", err)
	}
	if ambErr.Term != "car" {
		t.Errorf("expected term 'car', got %q", ambErr.Term)
	}
	if ambErr.Locale != "en" {
		t.Errorf("expected locale 'en', got %q", ambErr.Locale)
	}
}

func TestNewRuleset_DuplicateWithinGroup(t *testing.T) {
	// The same term twice in one group is redundant but not ambiguous.
	rs, err := NewRuleset("en", []Group{{"car", "car", "automobile"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Len() != 1 {
		t.Errorf("expected 1 group, got %d", rs.Len())
	}
}

func TestNewRuleset_SingleTermGroup(t *testing.T) {
	_, err := NewRuleset("en", []Group{{"car"}})
	if err == nil {
		t.Fatal("expected error for single-term group")
	}

	var malErr *MalformedGroupError
	if !errors.As(err, &malErr) {
		t.Fatalf("expected MalformedGroupError, got %T", err)
	}
}

func TestNewRuleset_EmptyTerm(t *testing.T) {
	_, err := NewRuleset("en", []Group{{"car", "  "}})
	if err == nil {
		t.Fatal("expected error for empty term")
	}
	if !errors.Is(err, domain.ErrSynonymLoad) {
		t.Errorf("expected ErrSynonymLoad, got %v", err)
	}
}

func TestExpansions(t *testing.T) {
	rs, err := NewRuleset("en", []Group{{"crash", "freeze", "hang"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := rs.Expansions("freeze")
	if len(exp) != 2 {
		t.Fatalf("expected 2 expansions, got %v", exp)
	}
	seen := map[string]bool{}
	for _, e := range exp {
		seen[e] = true
	}
	if !seen["crash"] || !seen["hang"] {
		t.Errorf("expected crash and hang, got %v", exp)
	}

	if exp := rs.Expansions("unrelated"); exp != nil {
		t.Errorf("expected nil for unknown term, got %v", exp)
	}
}
