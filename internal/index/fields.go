package index

import (
	"github.com/supportal/kbsearch/internal/analysis"
	"github.com/supportal/kbsearch/internal/domain"
)

// docFields flattens an index document into the field map bleve indexes.
// The locale field doubles as the mapping type selector, which is what
// routes the text fields through the locale's analyzer.
func docFields(d domain.Document) map[string]interface{} {
	fields := map[string]interface{}{
		analysis.FieldDocType:   string(d.Type),
		analysis.FieldLocale:    d.Locale,
		analysis.FieldTitle:     d.Title,
		analysis.FieldContent:   d.Content,
		analysis.FieldSolved:    d.Solved,
		analysis.FieldCreatedAt: d.CreatedAt,
		analysis.FieldUpdatedAt: d.UpdatedAt,
		analysis.FieldRevision:  float64(d.Revision),
	}
	if d.AnswerContent != "" {
		fields[analysis.FieldAnswer] = d.AnswerContent
	}
	if len(d.Products) > 0 {
		fields[analysis.FieldProducts] = d.Products
	}
	if len(d.Topics) > 0 {
		fields[analysis.FieldTopics] = d.Topics
	}
	return fields
}
