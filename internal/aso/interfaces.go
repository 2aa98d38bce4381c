package aso

import (
	"context"
	"time"
)

// AppProvider resolves store listings and related-app handles.
type AppProvider interface {
	// AppByHandle hydrates one listing. Returns KindNotFound when the store
	// reports no match, KindRateLimit on throttling, KindUpstream otherwise.
	AppByHandle(ctx context.Context, handle int64) (AppRecord, error)
	// RelatedHandles returns related-app handles in provider relevance order.
	// An empty sequence is success, not an error.
	RelatedHandles(ctx context.Context, handle int64) ([]int64, error)
}

// KeywordModel produces a ranked keyword list for one app via a generative
// model call.
type KeywordModel interface {
	Generate(ctx context.Context, app AppRecord) (KeywordSet, error)
}

// KeywordScorer returns traffic/difficulty scores for keywords.
type KeywordScorer interface {
	Score(ctx context.Context, keyword string) (ScoredKeyword, error)
	// ScoreBatch scores keywords sequentially in input order.
	ScoreBatch(ctx context.Context, keywords []string) ([]ScoredKeyword, error)
}

// ImageFetcher retrieves screenshot bytes with a classified media type.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (Image, error)
	// FetchAll fetches up to max URLs concurrently. Per-image failures are
	// absorbed; successes keep input order.
	FetchAll(ctx context.Context, urls []string, max int) []Image
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
