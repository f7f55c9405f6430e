package health

import "context"

// IndexChecker checks that the live index answers queries.
type IndexChecker interface {
	HealthCheck(ctx context.Context) error
}

// FeedChecker checks change-feed connectivity.
type FeedChecker interface {
	Ping(ctx context.Context) error
}
