package domain

import (
	"context"
	"time"
)

// ContentRecord is the shape the content layer exposes for indexing. Text
// fields may contain markup; the mapper strips it before indexing.
type ContentRecord struct {
	Type       DocType   `json:"type"`
	ID         string    `json:"id"`
	Locale     string    `json:"locale"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	AnswerBody string    `json:"answer_body,omitempty"`
	Products   []string  `json:"products,omitempty"`
	Topics     []string  `json:"topics,omitempty"`
	Solved     bool      `json:"solved,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Revision   uint64    `json:"revision"`
}

// ChangeOp is the operation carried by a content change event.
type ChangeOp string

const (
	// OpCreate signals a new content record.
	OpCreate ChangeOp = "create"
	// OpUpdate signals a revised content record.
	OpUpdate ChangeOp = "update"
	// OpDelete signals a removed content record.
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one entry of the content layer's change feed. It carries
// only the content identifier and revision; payloads are fetched through
// the bulk-read API.
type ChangeEvent struct {
	Type     DocType  `json:"type"`
	ID       string   `json:"id"`
	Revision uint64   `json:"revision"`
	Op       ChangeOp `json:"op"`
}

// ContentSource is the read API of the content layer. Enumerate streams
// every indexable record through fn without holding the full set in memory;
// a non-nil error from fn stops the enumeration.
type ContentSource interface {
	Enumerate(ctx context.Context, fn func(ContentRecord) error) error
	Fetch(ctx context.Context, t DocType, id string) (ContentRecord, error)
}
