// Package images retrieves screenshot bytes for the model payload.
package images

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/fetch"
	"github.com/appsight/aso-pipeline/internal/metrics"
)

// Fetcher implements aso.ImageFetcher over the shared fetch client.
type Fetcher struct {
	client *fetch.Client
	logger *zap.Logger
}

// New builds a Fetcher.
func New(client *fetch.Client, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch retrieves one image and classifies its media type.
func (f *Fetcher) Fetch(ctx context.Context, url string) (aso.Image, error) {
	const op = "images.Fetch"

	resp, err := f.client.Get(ctx, url, nil)
	if err != nil {
		return aso.Image{}, aso.E(aso.KindUpstream, op, "image unreachable", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return aso.Image{}, aso.E(aso.KindUpstream, op,
			fmt.Sprintf("image fetch returned status %d", resp.StatusCode), nil)
	}
	metrics.ObserveScreenshotBytes(len(resp.Body))
	return aso.Image{
		URL:       url,
		MediaType: ClassifyMediaType(resp.Headers.Get("Content-Type"), url),
		Data:      resp.Body,
	}, nil
}

// FetchAll fetches up to max URLs concurrently. A failed image is logged and
// skipped; it never aborts the batch. Successful images keep input order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, max int) []aso.Image {
	if max > 0 && len(urls) > max {
		urls = urls[:max]
	}
	if len(urls) == 0 {
		return nil
	}

	results := make([]*aso.Image, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			img, err := f.Fetch(ctx, url)
			if err != nil {
				f.logger.Warn("skipping screenshot", zap.String("url", url), zap.Error(err))
				return
			}
			results[i] = &img
		}(i, url)
	}
	wg.Wait()

	fetched := make([]aso.Image, 0, len(urls))
	for _, img := range results {
		if img != nil {
			fetched = append(fetched, *img)
		}
	}
	return fetched
}

// ClassifyMediaType picks the image encoding. The transport-reported content
// type wins; the URL extension is the fallback; jpeg is the default.
func ClassifyMediaType(contentType, url string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image/png"):
		return "image/png"
	case strings.Contains(ct, "image/jpeg"), strings.Contains(ct, "image/jpg"):
		return "image/jpeg"
	case strings.Contains(ct, "image/webp"):
		return "image/webp"
	case strings.Contains(ct, "image/gif"):
		return "image/gif"
	}

	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".png"):
		return "image/png"
	case strings.Contains(lower, ".webp"):
		return "image/webp"
	case strings.Contains(lower, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
