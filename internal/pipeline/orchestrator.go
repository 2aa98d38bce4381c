// Package pipeline implements the keyword enrichment run loop.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/progress"
)

// Stage labels a staged delivery checkpoint.
type Stage string

// Checkpoint stages in delivery order. Failed can replace any of them.
const (
	StagePrimaryReady Stage = "primaryReady"
	StageRelatedReady Stage = "relatedReady"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Checkpoint is one staged delivery. Run is a deep snapshot; callers may hold
// it while the background phase keeps mutating the live run. Err is set only
// for StageFailed.
type Checkpoint struct {
	Stage Stage
	Run   *aso.PipelineRun
	Err   error
}

// Config controls fan-out and scoring limits.
type Config struct {
	// RelatedCap bounds how many related apps are hydrated (default 3).
	RelatedCap int
	// ScoreCap bounds how many primary keywords are scored (default 15).
	ScoreCap int
}

const (
	defaultRelatedCap = 3
	defaultScoreCap   = 15
)

// Orchestrator drives one run through resolution, generation, related fan-out
// and scoring, delivering checkpoints as each phase lands.
type Orchestrator struct {
	provider aso.AppProvider
	model    aso.KeywordModel
	scorer   aso.KeywordScorer
	emitter  progress.Emitter
	clock    aso.Clock
	ids      aso.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator. The scorer may be nil; scoring is then
// skipped entirely.
func New(
	provider aso.AppProvider,
	model aso.KeywordModel,
	scorer aso.KeywordScorer,
	emitter progress.Emitter,
	clock aso.Clock,
	ids aso.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.RelatedCap <= 0 {
		cfg.RelatedCap = defaultRelatedCap
	}
	if cfg.ScoreCap <= 0 {
		cfg.ScoreCap = defaultScoreCap
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		provider: provider,
		model:    model,
		scorer:   scorer,
		emitter:  emitter,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts a pipeline run for the raw handle and returns the checkpoint
// stream. The channel delivers at most three checkpoints (primaryReady,
// relatedReady, complete) or a single failed checkpoint, then closes. The
// buffer is sized so a slow consumer never stalls the run.
func (o *Orchestrator) Run(ctx context.Context, raw string) <-chan Checkpoint {
	out := make(chan Checkpoint, 4)
	go func() {
		defer close(out)
		o.execute(ctx, raw, out)
	}()
	return out
}

func (o *Orchestrator) execute(ctx context.Context, raw string, out chan<- Checkpoint) {
	run := &aso.PipelineRun{
		State:     aso.StateValidatingInput,
		StartedAt: o.clock.Now(),
	}
	if id, err := o.ids.NewID(); err == nil {
		run.ID = id
	} else {
		o.fail(out, run, aso.E(aso.KindInternal, "pipeline.Run", "generate run id", err))
		return
	}

	handle, err := aso.ParseHandle(raw)
	if err != nil {
		o.fail(out, run, err)
		return
	}
	run.Handle = handle

	o.emit(progress.Event{
		RunID:  run.ID,
		TS:     o.clock.Now(),
		Stage:  progress.StageRunStart,
		Handle: run.Handle,
	})

	// Primary phase. Any failure here fails the whole run.
	run.State = aso.StateResolvingPrimary
	primary, err := o.provider.AppByHandle(ctx, handle)
	if err != nil {
		o.fail(out, run, err)
		return
	}
	run.Primary = &primary

	run.State = aso.StateGeneratingPrimary
	keywords, err := o.model.Generate(ctx, primary)
	if err != nil {
		o.fail(out, run, err)
		return
	}
	run.PrimaryKeywords = &keywords

	run.State = aso.StatePrimaryReady
	o.deliver(out, StagePrimaryReady, run)
	o.emit(progress.Event{
		RunID:    run.ID,
		TS:       o.clock.Now(),
		Stage:    progress.StagePrimaryReady,
		Handle:   run.Handle,
		AppTitle: primary.Title,
		Keywords: keywords.Count(),
		Dur:      keywords.Duration,
	})

	if err := ctx.Err(); err != nil {
		o.fail(out, run, aso.E(aso.KindInternal, "pipeline.Run", "run canceled", err))
		return
	}

	// Related phase. Failures are absorbed; the run continues regardless.
	relatedOK, relatedFailed := o.relatedPhase(ctx, run)
	run.State = aso.StateRelatedReady
	o.deliver(out, StageRelatedReady, run)
	o.emit(progress.Event{
		RunID:         run.ID,
		TS:            o.clock.Now(),
		Stage:         progress.StageRelatedReady,
		Handle:        run.Handle,
		RelatedOK:     relatedOK,
		RelatedFailed: relatedFailed,
	})

	if err := ctx.Err(); err != nil {
		o.fail(out, run, aso.E(aso.KindInternal, "pipeline.Run", "run canceled", err))
		return
	}

	// Scoring phase, also absorbed on failure.
	if o.scoringPhase(ctx, run) {
		o.emit(progress.Event{
			RunID:    run.ID,
			TS:       o.clock.Now(),
			Stage:    progress.StageScored,
			Handle:   run.Handle,
			Keywords: len(run.Scores),
		})
	}

	now := o.clock.Now()
	run.State = aso.StateComplete
	run.FinishedAt = &now
	o.deliver(out, StageComplete, run)
	o.emit(progress.Event{
		RunID:  run.ID,
		TS:     now,
		Stage:  progress.StageRunDone,
		Handle: run.Handle,
		Dur:    now.Sub(run.StartedAt),
	})
}

// relatedPhase resolves related handles, hydrates the first few concurrently
// and generates keywords for each. Every failure is logged and dropped.
func (o *Orchestrator) relatedPhase(ctx context.Context, run *aso.PipelineRun) (ok, failed int) {
	run.State = aso.StateResolvingRelated
	handles, err := o.provider.RelatedHandles(ctx, run.Handle)
	if err != nil {
		o.logger.Warn("related handle resolution failed",
			zap.String("run_id", run.ID),
			zap.Int64("handle", run.Handle),
			zap.Error(err),
		)
		return 0, 0
	}
	if len(handles) > o.cfg.RelatedCap {
		handles = handles[:o.cfg.RelatedCap]
	}
	run.RelatedAttempts = len(handles)
	if len(handles) == 0 {
		return 0, 0
	}

	run.State = aso.StateGeneratingRelated
	results := make([]*aso.RelatedResult, len(handles))
	var wg sync.WaitGroup
	for i, handle := range handles {
		wg.Add(1)
		go func(i int, handle int64) {
			defer wg.Done()
			app, err := o.provider.AppByHandle(ctx, handle)
			if err != nil {
				o.logger.Warn("related app hydration failed",
					zap.String("run_id", run.ID),
					zap.Int64("related_handle", handle),
					zap.Error(err),
				)
				return
			}
			keywords, err := o.model.Generate(ctx, app)
			if err != nil {
				o.logger.Warn("related keyword generation failed",
					zap.String("run_id", run.ID),
					zap.Int64("related_handle", handle),
					zap.String("app", app.Title),
					zap.Error(err),
				)
				return
			}
			results[i] = &aso.RelatedResult{App: app, Keywords: keywords}
		}(i, handle)
	}
	wg.Wait()

	for _, res := range results {
		if res != nil {
			run.Related = append(run.Related, *res)
		}
	}
	ok = len(run.Related)
	failed = run.RelatedAttempts - ok
	return ok, failed
}

// scoringPhase scores a prefix of the primary keywords sequentially. Returns
// true when scores landed on the run.
func (o *Orchestrator) scoringPhase(ctx context.Context, run *aso.PipelineRun) bool {
	if o.scorer == nil || run.PrimaryKeywords == nil || run.PrimaryKeywords.Count() == 0 {
		return false
	}
	run.State = aso.StateScoringKeywords
	keywords := run.PrimaryKeywords.Keywords
	if len(keywords) > o.cfg.ScoreCap {
		keywords = keywords[:o.cfg.ScoreCap]
	}
	scores, err := o.scorer.ScoreBatch(ctx, keywords)
	if err != nil {
		o.logger.Warn("keyword scoring failed",
			zap.String("run_id", run.ID),
			zap.Int64("handle", run.Handle),
			zap.Int("keywords", len(keywords)),
			zap.Error(err),
		)
		return false
	}
	run.Scores = scores
	return true
}

func (o *Orchestrator) deliver(out chan<- Checkpoint, stage Stage, run *aso.PipelineRun) {
	snap := run.Snapshot()
	out <- Checkpoint{Stage: stage, Run: &snap}
}

func (o *Orchestrator) fail(out chan<- Checkpoint, run *aso.PipelineRun, err error) {
	now := o.clock.Now()
	run.State = aso.StateFailed
	run.FinishedAt = &now
	o.logger.Error("pipeline run failed",
		zap.String("run_id", run.ID),
		zap.Int64("handle", run.Handle),
		zap.Error(err),
	)
	o.emit(progress.Event{
		RunID:  run.ID,
		TS:     now,
		Stage:  progress.StageRunError,
		Handle: run.Handle,
		Dur:    now.Sub(run.StartedAt),
		Note:   err.Error(),
	})
	snap := run.Snapshot()
	out <- Checkpoint{Stage: StageFailed, Run: &snap, Err: err}
}

func (o *Orchestrator) emit(evt progress.Event) {
	o.emitter.Emit(evt)
}
