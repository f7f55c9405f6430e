package analysis

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index field names. One physical index holds all locales; locale is a
// filter field, and the per-locale analyzer is selected through the
// document type (TypeField = locale).
const (
	FieldDocType   = "doc_type"
	FieldLocale    = "locale"
	FieldTitle     = "title"
	FieldContent   = "content"
	FieldAnswer    = "answer_content"
	FieldProducts  = "products"
	FieldTopics    = "topics"
	FieldSolved    = "solved"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldRevision  = "revision"
)

// GenericAnalyzerName is the mapping name of the fallback analyzer.
const GenericAnalyzerName = "kb_generic"

// AnalyzerName returns the mapping name of a locale's analyzer.
func AnalyzerName(locale string) string {
	return "kb_" + locale
}

// BuildIndexMapping constructs the mapping for a new index generation:
// one document mapping per configured locale wired to that locale's
// analyzer, and a generic default for everything else. The synonym groups
// are baked into the mapping, which is why changed dictionaries take
// effect on the next full rebuild.
func BuildIndexMapping(configs []LocaleConfig) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.TypeField = FieldLocale

	if err := im.AddCustomAnalyzer(GenericAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []interface{}{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add generic analyzer: %w", err)
	}
	im.DefaultAnalyzer = GenericAnalyzerName
	im.DefaultMapping = documentMapping(GenericAnalyzerName)

	for _, cfg := range configs {
		name, err := addLocaleAnalyzer(im, cfg)
		if err != nil {
			return nil, err
		}
		im.AddDocumentMapping(cfg.Locale, documentMapping(name))
	}

	return im, nil
}

// addLocaleAnalyzer registers the locale's token components and analyzer
// on the mapping and returns the analyzer name.
func addLocaleAnalyzer(im *mapping.IndexMappingImpl, cfg LocaleConfig) (string, error) {
	filters := []interface{}{lowercase.Name}

	if len(cfg.StopWords) > 0 {
		mapName := "kb_stop_" + cfg.Locale
		tokens := make([]interface{}, len(cfg.StopWords))
		for i, w := range cfg.StopWords {
			tokens[i] = w
		}
		if err := im.AddCustomTokenMap(mapName, map[string]interface{}{
			"type":   tokenmap.Name,
			"tokens": tokens,
		}); err != nil {
			return "", fmt.Errorf("locale %s: add stop token map: %w", cfg.Locale, err)
		}
		filterName := "kb_stopfilter_" + cfg.Locale
		if err := im.AddCustomTokenFilter(filterName, map[string]interface{}{
			"type":           stop.Name,
			"stop_token_map": mapName,
		}); err != nil {
			return "", fmt.Errorf("locale %s: add stop filter: %w", cfg.Locale, err)
		}
		filters = append(filters, filterName)
	}

	if cfg.Synonyms != nil && cfg.Synonyms.Len() > 0 {
		filterName := "kb_synonyms_" + cfg.Locale
		if err := im.AddCustomTokenFilter(filterName, map[string]interface{}{
			"type":   SynonymFilterType,
			"groups": cfg.Synonyms.Groups(),
		}); err != nil {
			return "", fmt.Errorf("locale %s: add synonym filter: %w", cfg.Locale, err)
		}
		filters = append(filters, filterName)
	}

	name := AnalyzerName(cfg.Locale)
	if err := im.AddCustomAnalyzer(name, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": filters,
	}); err != nil {
		return "", fmt.Errorf("locale %s: add analyzer: %w", cfg.Locale, err)
	}
	return name, nil
}

// documentMapping lays out the index document fields for one analyzer.
func documentMapping(analyzer string) *mapping.DocumentMapping {
	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = analyzer
	title.Store = false
	title.IncludeTermVectors = true // phrase matching
	dm.AddFieldMappingsAt(FieldTitle, title)

	content := bleve.NewTextFieldMapping()
	content.Analyzer = analyzer
	content.Store = false
	content.IncludeTermVectors = true
	dm.AddFieldMappingsAt(FieldContent, content)

	answer := bleve.NewTextFieldMapping()
	answer.Analyzer = analyzer
	answer.Store = false
	answer.IncludeTermVectors = true
	dm.AddFieldMappingsAt(FieldAnswer, answer)

	// Filter fields: exact match, no analysis beyond keyword identity.
	for _, field := range []string{FieldDocType, FieldLocale, FieldProducts, FieldTopics} {
		keyword := bleve.NewKeywordFieldMapping()
		keyword.Store = true
		dm.AddFieldMappingsAt(field, keyword)
	}

	solved := bleve.NewBooleanFieldMapping()
	solved.Store = true
	dm.AddFieldMappingsAt(FieldSolved, solved)

	for _, field := range []string{FieldCreatedAt, FieldUpdatedAt} {
		dt := bleve.NewDateTimeFieldMapping()
		dt.Store = true
		dm.AddFieldMappingsAt(field, dt)
	}

	revision := bleve.NewNumericFieldMapping()
	revision.Store = true
	dm.AddFieldMappingsAt(FieldRevision, revision)

	return dm
}
