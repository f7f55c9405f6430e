package domain

import (
	"fmt"
	"time"
)

// DocType identifies the kind of content record behind an index document.
type DocType string

const (
	// DocTypeArticle is a knowledge-base article.
	DocTypeArticle DocType = "article"
	// DocTypeQuestion is a support-forum question, including its answer text.
	DocTypeQuestion DocType = "question"
)

// Valid reports whether t is a known document type.
func (t DocType) Valid() bool {
	return t == DocTypeArticle || t == DocTypeQuestion
}

// Document is a flat, denormalized index document derived from a content
// record. The index is a pure relevance/filter index: text fields are
// searchable, filter fields are exact-match constraints, and the content
// layer remains the source of truth.
type Document struct {
	Type          DocType
	ID            string
	Locale        string
	Title         string
	Content       string
	AnswerContent string // extracted answer text, questions only
	Products      []string
	Topics        []string
	Solved        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Revision is a monotonically increasing stamp supplied by the content
	// layer. Updates carrying a revision <= the indexed one are no-ops.
	Revision uint64
}

// DocID returns the stable index key for the document, "type:id".
func (d Document) DocID() string {
	return DocID(d.Type, d.ID)
}

// DocID builds the index key for a content identifier.
func DocID(t DocType, id string) string {
	return fmt.Sprintf("%s:%s", t, id)
}

// Reference points back at an authoritative content record. Search results
// carry references only; callers re-fetch content from the content layer.
type Reference struct {
	Type  DocType
	ID    string
	Score float64
}
