// Package aso defines core types shared across the keyword pipeline.
package aso

import "time"

// AppRecord is the resolved store listing for a single app. It is immutable
// once fetched and owned by the pipeline run that fetched it.
type AppRecord struct {
	Handle       int64    `json:"handle"`
	BundleID     string   `json:"bundle_id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Icon         string   `json:"icon,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	PrimaryGenre string   `json:"primary_genre,omitempty"`
	Screenshots  []string `json:"screenshots,omitempty"`
	Developer    string   `json:"developer,omitempty"`
	Version      string   `json:"version,omitempty"`
	Price        float64  `json:"price"`
	Free         bool     `json:"free"`
	Score        float64  `json:"score,omitempty"`
	Reviews      int64    `json:"reviews,omitempty"`
	Released     string   `json:"released,omitempty"`
	Updated      string   `json:"updated,omitempty"`
}

// Clone returns a deep copy; the run snapshots records before handing them to
// callers so the background phase never shares slices with them.
func (a AppRecord) Clone() AppRecord {
	cp := a
	cp.Genres = append([]string(nil), a.Genres...)
	cp.Screenshots = append([]string(nil), a.Screenshots...)
	return cp
}

// KeywordSet holds the generated keywords for one AppRecord. Keyword order is
// the model's relevance ranking and must be preserved; downstream prefix
// selection depends on it.
type KeywordSet struct {
	AppTitle    string        `json:"app_title"`
	Keywords    []string      `json:"keywords"`
	Model       string        `json:"model"`
	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration_ms"`
}

// Count returns the number of generated keywords.
func (k KeywordSet) Count() int {
	return len(k.Keywords)
}

// Throughput reports keywords per second for the generation call.
func (k KeywordSet) Throughput() float64 {
	if k.Duration <= 0 {
		return 0
	}
	return float64(len(k.Keywords)) / k.Duration.Seconds()
}

// Clone returns a deep copy of the set.
func (k KeywordSet) Clone() KeywordSet {
	cp := k
	cp.Keywords = append([]string(nil), k.Keywords...)
	return cp
}

// ScoredKeyword pairs a keyword with provider traffic/difficulty scores.
type ScoredKeyword struct {
	Keyword    string  `json:"keyword"`
	Traffic    float64 `json:"traffic_score"`
	Difficulty float64 `json:"difficulty_score"`
}

// RelatedResult is one hydrated related app together with its keywords.
type RelatedResult struct {
	App      AppRecord  `json:"app"`
	Keywords KeywordSet `json:"keywords"`
}

// State names the orchestrator's position in the pipeline.
type State string

// Pipeline states. Failed is a terminal reachable from any state.
const (
	StateIdle              State = "idle"
	StateValidatingInput   State = "validating_input"
	StateResolvingPrimary  State = "resolving_primary"
	StateGeneratingPrimary State = "generating_primary_keywords"
	StatePrimaryReady      State = "primary_ready"
	StateResolvingRelated  State = "resolving_related"
	StateGeneratingRelated State = "generating_related_keywords"
	StateRelatedReady      State = "related_ready"
	StateScoringKeywords   State = "scoring_keywords"
	StateComplete          State = "complete"
	StateFailed            State = "failed"
)

// PipelineRun is the transient aggregate for one invocation. The primary
// fields populate strictly before any related-app field; nothing survives
// the invocation.
type PipelineRun struct {
	ID     string `json:"id"`
	Handle int64  `json:"handle"`
	State  State  `json:"state"`

	Primary         *AppRecord      `json:"primary,omitempty"`
	PrimaryKeywords *KeywordSet     `json:"primary_keywords,omitempty"`
	Related         []RelatedResult `json:"related,omitempty"`
	RelatedAttempts int             `json:"related_attempts"`
	Scores          []ScoredKeyword `json:"scores,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot deep-copies the run so staged deliveries never alias state still
// being mutated by the background phase.
func (r *PipelineRun) Snapshot() PipelineRun {
	cp := *r
	if r.Primary != nil {
		p := r.Primary.Clone()
		cp.Primary = &p
	}
	if r.PrimaryKeywords != nil {
		k := r.PrimaryKeywords.Clone()
		cp.PrimaryKeywords = &k
	}
	if len(r.Related) > 0 {
		cp.Related = make([]RelatedResult, len(r.Related))
		for i, rel := range r.Related {
			cp.Related[i] = RelatedResult{App: rel.App.Clone(), Keywords: rel.Keywords.Clone()}
		}
	}
	cp.Scores = append([]ScoredKeyword(nil), r.Scores...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// Image is a fetched screenshot ready for the model payload.
type Image struct {
	URL       string
	MediaType string
	Data      []byte
}
