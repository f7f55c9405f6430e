// Package mapper converts content-layer records into flat index documents.
// The transform is pure; errors are always returned to the caller because
// a silently dropped document is a silent search-quality regression.
package mapper

import (
	"html"
	"regexp"
	"strings"

	"github.com/supportal/kbsearch/internal/domain"
)

// Map converts a content record into an index document. Records missing a
// stable id or a locale cannot be indexed and yield a MappingError.
func Map(rec domain.ContentRecord) (domain.Document, error) {
	if rec.ID == "" {
		return domain.Document{}, &domain.MissingFieldError{Field: "id"}
	}
	if strings.TrimSpace(rec.Locale) == "" {
		return domain.Document{}, &domain.MissingFieldError{Field: "locale"}
	}
	if !rec.Type.Valid() {
		return domain.Document{}, &domain.MissingFieldError{Field: "type"}
	}

	return domain.Document{
		Type:          rec.Type,
		ID:            rec.ID,
		Locale:        strings.TrimSpace(rec.Locale),
		Title:         StripMarkup(rec.Title),
		Content:       StripMarkup(rec.Body),
		AnswerContent: StripMarkup(rec.AnswerBody),
		Products:      append([]string(nil), rec.Products...),
		Topics:        append([]string(nil), rec.Topics...),
		Solved:        rec.Solved,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Revision:      rec.Revision,
	}, nil
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	wikiLinkPattern   = regexp.MustCompile(`\[\[(?:[^|\]]*\|)?([^\]]*)\]\]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripMarkup removes HTML tags and wiki link syntax from text and
// collapses whitespace. Only the searchable text survives; presentation
// belongs to the content layer.
func StripMarkup(s string) string {
	if s == "" {
		return ""
	}
	s = wikiLinkPattern.ReplaceAllString(s, "$1")
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
