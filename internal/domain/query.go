package domain

// Filters are hard constraints applied to a search, never ranking factors.
// A nil Solved means "both solved and unsolved".
type Filters struct {
	Products []string
	Topics   []string
	Solved   *bool
}

// Query is a parsed user search request.
type Query struct {
	Text    string
	Locale  string
	Filters Filters
	Size    int
	From    int
}

// QueryResult is a ranked page of references plus the total hit count.
type QueryResult struct {
	References []Reference
	Total      uint64
}
