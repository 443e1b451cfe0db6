package cascaderun

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

// Pipeline runs every generation stage of one campaign under its write lock,
// checkpointing each committed stage on the campaign's run record.
type Pipeline interface {
	RunPipeline(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	ResumePipeline(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Activities struct {
	Log      *logger.Logger
	Pipeline Pipeline
	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

func (a *Activities) log() *logger.Logger {
	if a.Log == nil {
		return logger.Nop()
	}
	return a.Log
}

// RunPipeline executes the campaign's pipeline. Retried attempts resume from
// the last stage the previous attempt committed.
func (a *Activities) RunPipeline(ctx context.Context, req pipeline.Request) (Result, error) {
	stop := a.startHeartbeat(ctx)
	defer stop()

	run := a.Pipeline.RunPipeline
	attempt := activity.GetInfo(ctx).Attempt
	if attempt > 1 {
		run = a.Pipeline.ResumePipeline
	}
	out, err := run(ctx, req)
	if err != nil {
		return Result{CampaignID: req.CampaignID}, a.classify(req.CampaignID, attempt, err)
	}
	return summarizeRun(out), nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	activity.RecordHeartbeat(ctx)
	done := make(chan struct{})
	go func() {
		hb := time.NewTicker(every)
		defer hb.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-hb.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

// classify lets Temporal retry connectivity and lock conflicts; every other
// engine error is final for the run.
func (a *Activities) classify(cid string, attempt int32, err error) error {
	code := cascade.CodeOf(err)
	a.log().Warn("cascade pipeline attempt failed", "campaign_id", cid, "attempt", attempt, "code", string(code), "error", err)
	if cascade.IsRetryable(err) || code == cascade.CodeConflict || errors.Is(err, context.DeadlineExceeded) {
		return temporal.NewApplicationErrorWithCause(err.Error(), string(code), err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(code), err)
}

func summarizeRun(out *pipeline.Result) Result {
	res := Result{CampaignID: out.CampaignID, RunID: out.RunID, Status: out.Status}
	for _, sr := range out.Stages {
		s := StageSummary{CampaignID: out.CampaignID, Stage: sr.Stage, Skipped: sr.Skipped}
		switch sr.Stage {
		case cascade.StageDecompose:
			if out.Decomposition != nil {
				s.count(out.Decomposition.Mutation)
			}
		case cascade.StageAssign:
			if out.Assignment != nil {
				s.count(out.Assignment.Mutation)
				s.Warnings = len(out.Assignment.Deficiencies)
			}
		case cascade.StageMap:
			if out.Mapping != nil {
				s.count(out.Mapping.Mutation)
				s.Warnings = len(out.Mapping.Overloaded)
			}
		case cascade.StageValidate:
			continue
		}
		res.Stages = append(res.Stages, s)
	}
	if rep := out.Report; rep != nil {
		res.Report = ReportSummary{
			CampaignID:   out.CampaignID,
			ReportID:     rep.ID,
			GraphVersion: rep.GraphVersion,
			Errors:       len(rep.Errors),
			Warnings:     len(rep.Warnings),
			Status:       out.Status,
		}
	}
	return res
}

func (s *StageSummary) count(m *cascade.Mutation) {
	if m == nil {
		return
	}
	s.Nodes = len(m.CampaignObjectives) + len(m.QuestObjectives) + len(m.Scenes) + len(m.Knowledge) + len(m.Items)
	s.Edges = len(m.Edges)
}
