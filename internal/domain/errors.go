package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSynonymLoad signals bad synonym dictionary data. Fatal to that
	// locale's analyzer only, never process-fatal.
	ErrSynonymLoad = errors.New("synonym load failed")
	// ErrMapping signals a content record that cannot be mapped to an
	// index document. Reported per document; a rebuild continues past it.
	ErrMapping = errors.New("mapping failed")
	// ErrBuild signals an aborted rebuild. The live index is unaffected.
	ErrBuild = errors.New("index build failed")
	// ErrRebuildInProgress signals that a full rebuild is already running.
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	// ErrPublish signals a refused cutover. The live index is unaffected.
	ErrPublish = errors.New("publish failed")
	// ErrPublishInProgress signals a concurrent publish attempt.
	ErrPublishInProgress = errors.New("publish already in progress")
	// ErrQuery signals a degraded query (store unavailable or timed out).
	// Distinguishable from an empty-but-successful result set.
	ErrQuery = errors.New("query failed")
	// ErrInvalidQuery signals an unusable search request.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNoLiveGeneration signals that no index generation has been
	// published yet.
	ErrNoLiveGeneration = errors.New("no live index generation")
	// ErrDegradedIndex signals an incremental update that exhausted its
	// retry budget. Logged and surfaced for operator follow-up.
	ErrDegradedIndex = errors.New("index degraded")
)

// AmbiguousTermError reports a synonym term claimed by two equivalence
// groups of the same locale. Ambiguity is fatal for that locale's
// dictionary rather than resolved by a guessed precedence.
type AmbiguousTermError struct {
	Locale string
	Term   string
}

func (e *AmbiguousTermError) Error() string {
	return fmt.Sprintf("%s: term %q belongs to multiple groups in locale %q",
		ErrSynonymLoad.Error(), e.Term, e.Locale)
}

func (e *AmbiguousTermError) Unwrap() error { return ErrSynonymLoad }

// MissingFieldError reports a content record lacking a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", ErrMapping.Error(), e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMapping }
