// Package scoring retrieves traffic/difficulty scores for keywords from the
// ASO scoring service.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/fetch"
	"github.com/appsight/aso-pipeline/internal/metrics"
)

// Config controls scoring-service access.
type Config struct {
	BaseURL string
}

// Scorer implements aso.KeywordScorer against the scoring service.
type Scorer struct {
	cfg    Config
	client *fetch.Client
	logger *zap.Logger
}

// New builds a Scorer using the shared fetch client.
func New(cfg Config, client *fetch.Client, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{cfg: cfg, client: client, logger: logger}
}

type scorePayload struct {
	Traffic    float64 `json:"traffic"`
	Difficulty float64 `json:"difficulty"`
}

// Score fetches the scores for a single keyword.
func (s *Scorer) Score(ctx context.Context, keyword string) (scored aso.ScoredKeyword, err error) {
	const op = "scoring.Score"

	trimmed := strings.TrimSpace(keyword)
	if trimmed == "" {
		return aso.ScoredKeyword{}, aso.E(aso.KindValidation, op, "keyword is blank", nil)
	}

	start := time.Now()
	defer func() { metrics.ObserveUpstream("scoring", metrics.Outcome(err), time.Since(start)) }()

	scoreURL := fmt.Sprintf("%s/v1/keywords/scores?term=%s", s.cfg.BaseURL, url.QueryEscape(trimmed))
	resp, err := s.client.Get(ctx, scoreURL, nil)
	if err != nil {
		return aso.ScoredKeyword{}, aso.E(aso.KindUpstream, op, "scoring service unreachable", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return aso.ScoredKeyword{}, aso.E(aso.KindNotFound, op,
			fmt.Sprintf("no analysis available for %q", trimmed), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return aso.ScoredKeyword{}, aso.E(aso.KindRateLimit, op, "scoring service throttled the request", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return aso.ScoredKeyword{}, aso.E(aso.KindUpstream, op,
			fmt.Sprintf("scoring service returned status %d", resp.StatusCode), nil)
	}

	var payload scorePayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return aso.ScoredKeyword{}, aso.E(aso.KindMalformed, op, "unparseable scoring payload", err)
	}
	return aso.ScoredKeyword{Keyword: trimmed, Traffic: payload.Traffic, Difficulty: payload.Difficulty}, nil
}

// ScoreBatch scores keywords strictly sequentially, in input order. The
// sequential pass is a deliberate latency trade-off; callers keep the input
// small. The first failure aborts the batch.
func (s *Scorer) ScoreBatch(ctx context.Context, keywords []string) ([]aso.ScoredKeyword, error) {
	const op = "scoring.ScoreBatch"

	if len(keywords) == 0 {
		return nil, aso.E(aso.KindValidation, op, "keyword list is empty", nil)
	}
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			return nil, aso.E(aso.KindValidation, op, "keyword list contains a blank entry", nil)
		}
	}

	scored := make([]aso.ScoredKeyword, 0, len(keywords))
	for _, kw := range keywords {
		result, err := s.Score(ctx, kw)
		if err != nil {
			return nil, fmt.Errorf("score %q: %w", kw, err)
		}
		scored = append(scored, result)
	}
	s.logger.Debug("scored keyword batch", zap.Int("count", len(scored)))
	return scored, nil
}
