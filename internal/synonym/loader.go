// Package synonym loads per-locale synonym dictionaries from the filesystem
// and exposes them as an atomically swappable locale -> ruleset table.
//
// Dictionary format (one file per locale, "<dir>/<locale>.txt"): one
// comma-separated equivalence group per line, "#" starts a comment. The
// file syntax is an external contract with the dictionary maintainers.
package synonym

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/metrics"
)

// MalformedGroupError reports a dictionary line that does not form a usable
// equivalence group (empty term, or fewer than two terms).
type MalformedGroupError struct {
	Locale string
	Group  []string
}

func (e *MalformedGroupError) Error() string {
	return fmt.Sprintf("%s: malformed group %v in locale %q",
		domain.ErrSynonymLoad.Error(), e.Group, e.Locale)
}

func (e *MalformedGroupError) Unwrap() error { return domain.ErrSynonymLoad }

// Table is an immutable locale -> ruleset snapshot.
type Table map[string]*Ruleset

// Loader reads dictionaries for a fixed set of locales and keeps the
// current table behind an atomic pointer so analyzer construction never
// observes a half-reloaded state.
type Loader struct {
	dir     string
	locales []string
	logger  *zap.Logger
	table   atomic.Pointer[Table]
}

// NewLoader creates a Loader. Rulesets are empty until LoadAll is called.
func NewLoader(dir string, locales []string, logger *zap.Logger) *Loader {
	l := &Loader{dir: dir, locales: append([]string(nil), locales...), logger: logger}
	empty := Table{}
	l.table.Store(&empty)
	return l
}

// Load parses and validates the dictionary file of a single locale.
func (l *Loader) Load(locale string) (*Ruleset, error) {
	path := filepath.Join(l.dir, locale+".txt")
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: locale %q: %w", domain.ErrSynonymLoad, locale, err)
	}
	defer func() { _ = f.Close() }()

	var groups []Group
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.Index(text, "#"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		group := Group(strings.Split(text, ","))
		groups = append(groups, group)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: locale %q line %d: %w", domain.ErrSynonymLoad, locale, line, err)
	}

	rs, err := NewRuleset(locale, groups)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// LoadAll loads every configured locale and swaps the table in one step.
// A locale that fails to load keeps its previous ruleset (if any); the
// joined per-locale errors are returned so callers can report them, but a
// partial failure never blocks the healthy locales.
func (l *Loader) LoadAll() error {
	next := make(Table, len(l.locales))
	prev := *l.table.Load()

	var errs []error
	for _, locale := range l.locales {
		rs, err := l.Load(locale)
		if err != nil {
			errs = append(errs, err)
			if old, ok := prev[locale]; ok {
				next[locale] = old
			}
			l.logger.Warn("synonym dictionary rejected",
				zap.String("locale", locale),
				zap.Error(err),
			)
			continue
		}
		next[locale] = rs
	}

	l.table.Store(&next)

	for locale, rs := range next {
		l.logger.Info("synonym rules loaded",
			zap.String("locale", locale),
			zap.Int("groups", rs.Len()),
		)
		metrics.SynonymRulesLoaded.WithLabelValues(locale).Set(float64(rs.Len()))
	}

	return errors.Join(errs...)
}

// Table returns the current snapshot. The returned map must not be mutated.
func (l *Loader) Table() Table {
	return *l.table.Load()
}

// Get returns the ruleset for a locale, if one is loaded.
func (l *Loader) Get(locale string) (*Ruleset, bool) {
	rs, ok := l.Table()[locale]
	return rs, ok
}
