// Package main hosts the keyword enrichment service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, a synchronous keyword endpoint, and an SSE stream that
//     forwards pipeline checkpoints as they land. Handles are validated before any network call is made.
//   - Pipeline: internal/pipeline.Orchestrator drives each run through primary resolution, generative keyword
//     extraction, a bounded related-app fan-out, and sequential keyword scoring. The primary phase is fatal on
//     failure; related and scoring failures are absorbed so partial results still complete.
//   - Upstreams: internal/appstore resolves listings and related handles from the store catalog, internal/keywords
//     calls the Anthropic Messages API with a forced tool choice (text plus up to four screenshots), and
//     internal/scoring fetches traffic/difficulty scores. All three share the Colly-based internal/fetch client.
//   - Progress fanout: internal/progress batches run lifecycle events through a non-blocking hub into log,
//     Prometheus, and optional Pub/Sub sinks. Emission never stalls a run; backpressure drops with a warning.
//   - Configuration & plumbing: Viper populates config from env/files (prefix ASO); zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler. The service holds no state
//     across requests, suitable for Cloud Run scale-out.
//
// Operational notes:
//   - Concurrency model: each request owns one run; within a run the related fan-out is bounded (three apps) and
//     scoring is strictly sequential. Shutdown is coordinated via context cancellation from main.
//   - Observability: zap logs carry run IDs and handles at key transitions; Prometheus counters/histograms track API,
//     upstream, and run activity; the progress hub batches lifecycle events for downstream sinks.
//   - Run locally: go run ./cmd/asoserver -config config.yaml (or rely solely on ASO_* env overrides; only
//     ASO_MODEL_API_KEY is required).
package main
