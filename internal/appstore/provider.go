// Package appstore resolves store listings through the iTunes catalog APIs.
package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/fetch"
	"github.com/appsight/aso-pipeline/internal/metrics"
)

// Config controls catalog access.
type Config struct {
	// BaseURL points at the iTunes catalog, e.g. https://itunes.apple.com.
	BaseURL string
	Country string
	// StoreFront is the X-Apple-Store-Front value used by the related-apps
	// page; the ",32" suffix selects the JSON rendition.
	StoreFront string
}

const (
	defaultBaseURL    = "https://itunes.apple.com"
	defaultCountry    = "us"
	defaultStoreFront = "143441,32"
)

// relatedAppsPattern extracts the customersAlsoBoughtApps id array embedded in
// the storefront page payload.
var relatedAppsPattern = regexp.MustCompile(`"customersAlsoBoughtApps":\s*(\[[^\]]*\])`)

// Provider implements aso.AppProvider against the iTunes catalog.
type Provider struct {
	cfg    Config
	client *fetch.Client
	logger *zap.Logger
}

// New builds a Provider using the shared fetch client.
func New(cfg Config, client *fetch.Client, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = defaultCountry
	}
	if cfg.StoreFront == "" {
		cfg.StoreFront = defaultStoreFront
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

// lookupEnvelope mirrors the catalog lookup response.
type lookupEnvelope struct {
	ResultCount int           `json:"resultCount"`
	Results     []lookupEntry `json:"results"`
}

type lookupEntry struct {
	TrackID            int64    `json:"trackId"`
	BundleID           string   `json:"bundleId"`
	TrackName          string   `json:"trackName"`
	Description        string   `json:"description"`
	ArtworkURL512      string   `json:"artworkUrl512"`
	Genres             []string `json:"genres"`
	PrimaryGenreName   string   `json:"primaryGenreName"`
	ScreenshotURLs     []string `json:"screenshotUrls"`
	ArtistName         string   `json:"artistName"`
	Version            string   `json:"version"`
	Price              float64  `json:"price"`
	AverageUserRating  float64  `json:"averageUserRating"`
	UserRatingCount    int64    `json:"userRatingCount"`
	ReleaseDate        string   `json:"releaseDate"`
	CurrentVersionDate string   `json:"currentVersionReleaseDate"`
}

// AppByHandle hydrates a single listing via the lookup endpoint.
func (p *Provider) AppByHandle(ctx context.Context, handle int64) (record aso.AppRecord, err error) {
	const op = "appstore.AppByHandle"

	lookupURL := fmt.Sprintf("%s/lookup?id=%d&country=%s&entity=software",
		p.cfg.BaseURL, handle, url.QueryEscape(p.cfg.Country))

	start := time.Now()
	defer func() { metrics.ObserveUpstream("appstore", metrics.Outcome(err), time.Since(start)) }()
	resp, err := p.client.Get(ctx, lookupURL, nil)
	if err != nil {
		return aso.AppRecord{}, aso.E(aso.KindUpstream, op, "catalog unreachable", err)
	}
	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return aso.AppRecord{}, err
	}

	var envelope lookupEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return aso.AppRecord{}, aso.E(aso.KindMalformed, op, "catalog payload is not valid JSON", err)
	}
	if envelope.ResultCount == 0 || len(envelope.Results) == 0 {
		return aso.AppRecord{}, aso.E(aso.KindNotFound, op, fmt.Sprintf("no app with handle %d", handle), nil)
	}

	record = toAppRecord(envelope.Results[0])
	p.logger.Debug("resolved app",
		zap.Int64("handle", handle),
		zap.String("title", record.Title),
		zap.Duration("dur", time.Since(start)),
	)
	return record, nil
}

// RelatedHandles returns the customers-also-bought handles for an app, in the
// catalog's relevance order. An app with no related entries yields an empty
// slice, not an error.
func (p *Provider) RelatedHandles(ctx context.Context, handle int64) ([]int64, error) {
	const op = "appstore.RelatedHandles"

	pageURL := fmt.Sprintf("%s/%s/app/app/id%d", p.cfg.BaseURL, p.cfg.Country, handle)
	headers := http.Header{}
	headers.Set("X-Apple-Store-Front", p.cfg.StoreFront)

	resp, err := p.client.Get(ctx, pageURL, headers)
	if err != nil {
		return nil, aso.E(aso.KindUpstream, op, "catalog unreachable", err)
	}
	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}

	match := relatedAppsPattern.FindSubmatch(resp.Body)
	if match == nil {
		// The storefront omits the block entirely for apps with no
		// recommendations.
		return nil, nil
	}

	var rawIDs []json.Number
	if err := json.Unmarshal(match[1], &rawIDs); err != nil {
		// Some storefront renditions quote the ids.
		var quoted []string
		if qErr := json.Unmarshal(match[1], &quoted); qErr != nil {
			return nil, aso.E(aso.KindMalformed, op, "unparseable related-apps block", err)
		}
		for _, q := range quoted {
			rawIDs = append(rawIDs, json.Number(q))
		}
	}

	handles := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := raw.Int64()
		if err != nil {
			p.logger.Warn("skipping unparseable related handle", zap.String("raw", raw.String()))
			continue
		}
		handles = append(handles, id)
	}
	return handles, nil
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return aso.E(aso.KindNotFound, op, "catalog reported not found", nil)
	case status == http.StatusTooManyRequests:
		return aso.E(aso.KindRateLimit, op, "catalog throttled the request", nil)
	default:
		return aso.E(aso.KindUpstream, op, fmt.Sprintf("catalog returned status %d", status), nil)
	}
}

func toAppRecord(entry lookupEntry) aso.AppRecord {
	return aso.AppRecord{
		Handle:       entry.TrackID,
		BundleID:     entry.BundleID,
		Title:        entry.TrackName,
		Description:  entry.Description,
		Icon:         entry.ArtworkURL512,
		Genres:       entry.Genres,
		PrimaryGenre: entry.PrimaryGenreName,
		Screenshots:  entry.ScreenshotURLs,
		Developer:    entry.ArtistName,
		Version:      entry.Version,
		Price:        entry.Price,
		Free:         entry.Price == 0,
		Score:        entry.AverageUserRating,
		Reviews:      entry.UserRatingCount,
		Released:     entry.ReleaseDate,
		Updated:      entry.CurrentVersionDate,
	}
}
