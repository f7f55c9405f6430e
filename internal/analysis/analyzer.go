// Package analysis builds the per-locale analyzer pipeline: unicode
// tokenization, lowercasing, locale stop words, and synonym expansion.
// The same pipeline serves index-time and query-time analysis -- the
// analyzers are registered on the bleve index mapping, and queries resolve
// the analyzer through the mapping of the index they run against, so the
// two sides cannot drift apart.
package analysis

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"

	"github.com/supportal/kbsearch/internal/synonym"
)

// LocaleConfig parameterizes one locale's analyzer: its stop words and its
// synonym ruleset. A nil Synonyms means no expansion for that locale.
type LocaleConfig struct {
	Locale    string
	StopWords []string
	Synonyms  *synonym.Ruleset
}

// LocaleConfigs assembles analyzer configs for the given locales from the
// built-in stop-word lists and a loaded synonym table.
func LocaleConfigs(locales []string, table synonym.Table) []LocaleConfig {
	configs := make([]LocaleConfig, 0, len(locales))
	for _, locale := range locales {
		configs = append(configs, LocaleConfig{
			Locale:    locale,
			StopWords: StopWords(locale),
			Synonyms:  table[locale],
		})
	}
	return configs
}

// Term is one analyzed index term. Synonym siblings share a Position.
type Term struct {
	Text     string
	Position int
}

// Analyzer runs the pipeline directly, outside any index. It mirrors the
// analyzer registered on the index mapping for the same config and exists
// for the analyze operation (debug endpoint) and for tests.
type Analyzer struct {
	tokenizer analysis.Tokenizer
	filters   []analysis.TokenFilter
}

// NewAnalyzer builds the pipeline for one locale config.
func NewAnalyzer(cfg LocaleConfig) *Analyzer {
	a := &Analyzer{tokenizer: unicode.NewUnicodeTokenizer()}
	a.filters = append(a.filters, lowercase.NewLowerCaseFilter())
	if len(cfg.StopWords) > 0 {
		tokenMap := analysis.NewTokenMap()
		for _, w := range cfg.StopWords {
			tokenMap.AddToken(w)
		}
		a.filters = append(a.filters, stop.NewStopTokensFilter(tokenMap))
	}
	if cfg.Synonyms != nil {
		a.filters = append(a.filters, NewSynonymFilter(cfg.Synonyms.Groups()))
	}
	return a
}

// NewGenericAnalyzer builds the fallback pipeline: tokenize and lowercase
// only. Forum content appears in locales without a curated dictionary, so
// an unknown locale degrades soft rather than failing.
func NewGenericAnalyzer() *Analyzer {
	return NewAnalyzer(LocaleConfig{})
}

// Analyze produces the term sequence for a text. Deterministic for a fixed
// config.
func (a *Analyzer) Analyze(text string) []Term {
	stream := a.tokenizer.Tokenize([]byte(text))
	for _, f := range a.filters {
		stream = f.Filter(stream)
	}
	terms := make([]Term, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, Term{Text: string(tok.Term), Position: tok.Position})
	}
	return terms
}

// Registry resolves a locale to its analyzer once per request, falling
// back to the generic analyzer for unconfigured locales.
type Registry struct {
	analyzers map[string]*Analyzer
	generic   *Analyzer
}

// NewRegistry builds analyzers for every config up front; rulesets are
// immutable between reloads, so the analyzers are shareable read-only.
func NewRegistry(configs []LocaleConfig) *Registry {
	r := &Registry{
		analyzers: make(map[string]*Analyzer, len(configs)),
		generic:   NewGenericAnalyzer(),
	}
	for _, cfg := range configs {
		r.analyzers[cfg.Locale] = NewAnalyzer(cfg)
	}
	return r
}

// Analyze runs the locale's pipeline over text.
func (r *Registry) Analyze(locale, text string) []Term {
	if a, ok := r.analyzers[locale]; ok {
		return a.Analyze(text)
	}
	return r.generic.Analyze(text)
}

// Configured reports whether the locale has a dedicated analyzer.
func (r *Registry) Configured(locale string) bool {
	_, ok := r.analyzers[locale]
	return ok
}
