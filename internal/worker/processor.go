package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversion-job-service/internal/engine"
	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/failure"
	"conversion-job-service/internal/naming"
)

// Tracker is the owner of the job records. The processor never touches a
// record directly; every transition goes through the tracker.
type Tracker interface {
	// Begin moves a Ready job to Processing. It returns false when the job
	// left Ready in the meantime (cancelled) and must not be run.
	Begin(id uuid.UUID) (context.Context, entity.JobRequest, bool)
	CancelRequested(id uuid.UUID) bool
	BeginStage(id uuid.UUID, stage string)
	Report(id uuid.UUID, sample entity.StageProgressSample)
	Complete(id uuid.UUID, result entity.Result)
	Fail(id uuid.UUID, jerr *entity.JobError)
	Cancelled(id uuid.UUID)
}

type Processor struct {
	tracker Tracker
	engine  engine.Engine
	namer   naming.Namer
	ext     string
	log     zerolog.Logger
}

func NewProcessor(tracker Tracker, eng engine.Engine, namer naming.Namer, outputExt string, logger zerolog.Logger) *Processor {
	return &Processor{
		tracker: tracker,
		engine:  eng,
		namer:   namer,
		ext:     outputExt,
		log:     logger.With().Str("component", "processor").Logger(),
	}
}

// stageState carries stage payloads from one stage to the next.
type stageState struct {
	doc   *engine.Document
	audio *engine.Audio
	pkg   *engine.Package
}

func (p *Processor) Process(id uuid.UUID) error {
	start := time.Now()
	logger := p.log.With().Str("job_id", id.String()).Logger()

	ctx, req, ok := p.tracker.Begin(id)
	if !ok {
		logger.Info().Msg("job left ready state before execution, skipping")
		return nil
	}
	logger.Info().Str("state", string(entity.StateProcessing)).Str("source", req.SourceURL).Msg("job started")

	staging := filepath.Join(req.DestinationDir, ".staging-"+id.String()+p.ext)
	defer func() { _ = os.Remove(staging) }()

	var st stageState
	for _, stage := range entity.Stages {
		if p.tracker.CancelRequested(id) {
			return p.cancelled(logger, id, stage, start)
		}

		p.tracker.BeginStage(id, stage)
		stageStart := time.Now()
		if err := p.runStage(ctx, id, stage, req, staging, &st); err != nil {
			return p.failed(logger, id, stage, start, err)
		}
		logger.Debug().Str("stage", stage).Int64("duration_ms", time.Since(stageStart).Milliseconds()).Msg("stage done")
	}

	if p.tracker.CancelRequested(id) {
		return p.cancelled(logger, id, "", start)
	}

	final, err := p.finalize(ctx, req, staging)
	if err != nil {
		return p.failed(logger, id, entity.StageAssembleOutput, start, err)
	}

	p.tracker.Complete(id, entity.Result{
		OutputPath: final,
		ItemCount:  st.pkg.ItemCount,
		Elapsed:    time.Since(start),
	})
	logger.Info().
		Str("state", string(entity.StateCompleted)).
		Str("output", final).
		Int("items", st.pkg.ItemCount).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("job done")
	return nil
}

// runStage invokes one engine stage and converts panics into errors so a
// failing engine can never leave the job stuck in Processing.
func (p *Processor) runStage(ctx context.Context, id uuid.UUID, stage string, req entity.JobRequest, staging string, st *stageState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Internal(fmt.Sprintf("engine panicked during %s", stage), fmt.Errorf("%v", r))
		}
	}()

	sink := func(sample entity.StageProgressSample) {
		sample.Stage = stage
		p.tracker.Report(id, sample)
	}

	switch stage {
	case entity.StageFetchSource:
		st.doc, err = p.engine.FetchSource(ctx, req.SourceURL, sink)
	case entity.StageIngestAudio:
		st.audio, err = p.engine.IngestAudio(ctx, req.AudioPath, sink)
	case entity.StageAssembleOutput:
		st.pkg, err = p.engine.AssembleOutput(ctx, engine.AssembleInput{
			Document:    st.doc,
			Audio:       st.audio,
			StagingPath: staging,
		}, sink)
		if err == nil && st.pkg == nil {
			err = failure.Internal("engine returned no package", nil)
		}
	default:
		err = failure.Internal("unknown stage "+stage, nil)
	}
	return err
}

// finalize reserves the output name and moves the staged package onto it.
func (p *Processor) finalize(ctx context.Context, req entity.JobRequest, staging string) (string, error) {
	final, err := p.namer.NextName(ctx, naming.BaseName(req.SourceURL, p.ext), req.DestinationDir)
	if err != nil {
		return "", err
	}
	if err := os.Rename(staging, final); err != nil {
		_ = naming.Release(final)
		return "", err
	}
	return final, nil
}

func (p *Processor) failed(logger zerolog.Logger, id uuid.UUID, stage string, start time.Time, err error) error {
	if p.tracker.CancelRequested(id) {
		return p.cancelled(logger, id, stage, start)
	}

	jerr := failure.Classify(err)
	jerr.Stage = stage
	p.tracker.Fail(id, jerr)

	logger.Error().
		Err(err).
		Str("state", string(entity.StateFailed)).
		Str("stage", stage).
		Str("kind", string(jerr.Kind)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("job failed")
	return err
}

func (p *Processor) cancelled(logger zerolog.Logger, id uuid.UUID, stage string, start time.Time) error {
	p.tracker.Cancelled(id)
	logger.Info().
		Str("state", string(entity.StateCancelled)).
		Str("stage", stage).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("job cancelled")
	return nil
}
