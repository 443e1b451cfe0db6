package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/steps"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/lock"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/platform/retry"
	"github.com/yungbote/objective-cascade/internal/realtime"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
)

type Config struct {
	MaxQuestObjectives   int           `yaml:"max_quest_objectives"`
	MaxResourcesPerScene int           `yaml:"max_resources_per_scene"`
	RedundancyFloor      int           `yaml:"redundancy_floor"`
	StoreRetryAttempts   int           `yaml:"store_retry_attempts"`
	StoreRetryBase       time.Duration `yaml:"store_retry_base"`
	Parallelism          int           `yaml:"parallelism"`
}

func (c Config) withDefaults() Config {
	if c.MaxQuestObjectives <= 0 {
		c.MaxQuestObjectives = 3
	}
	if c.MaxResourcesPerScene <= 0 {
		c.MaxResourcesPerScene = 4
	}
	if c.RedundancyFloor < 2 {
		c.RedundancyFloor = 2
	}
	if c.StoreRetryAttempts <= 0 {
		c.StoreRetryAttempts = 3
	}
	if c.StoreRetryBase <= 0 {
		c.StoreRetryBase = 100 * time.Millisecond
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}

// Request carries the generator output for every stage of one campaign.
type Request struct {
	CampaignID string                    `json:"campaign_id"`
	Decompose  steps.DecomposeRequest    `json:"decompose"`
	Scenes     steps.AssignRequest       `json:"scenes"`
	Resources  steps.MapResourcesRequest `json:"resources"`
}

type StageResult struct {
	Stage     cascade.Stage `json:"stage"`
	Skipped   bool          `json:"skipped,omitempty"`
	Committed bool          `json:"committed"`
	Duration  time.Duration `json:"duration"`
}

type Result struct {
	CampaignID    string                    `json:"campaign_id"`
	RunID         string                    `json:"run_id"`
	Status        cascade.RunStatus         `json:"status"`
	Stages        []StageResult             `json:"stages"`
	Decomposition *steps.DecomposeOutput    `json:"decomposition,omitempty"`
	Assignment    *steps.AssignOutput       `json:"assignment,omitempty"`
	Mapping       *steps.MapOutput          `json:"mapping,omitempty"`
	Report        *cascade.ValidationReport `json:"report,omitempty"`
}

// Outcome is one campaign's result from RunMany.
type Outcome struct {
	CampaignID string  `json:"campaign_id"`
	Result     *Result `json:"result,omitempty"`
	Err        error   `json:"-"`
}

// Runner drives the generation stages for a campaign under its exclusive
// write lock. Each stage loads the committed graph, computes one mutation and
// commits it atomically; a failed stage commits nothing and the run can be
// resumed from the last committed stage.
type Runner struct {
	log     *logger.Logger
	graphs  graph.Store
	locks   lock.Locker
	runs    repos.RunStore
	reports repos.ReportStore
	bus     bus.Bus
	metrics *observability.Metrics
	cfg     Config
	tracer  trace.Tracer
	now     func() time.Time
}

type RunnerDeps struct {
	Log     *logger.Logger
	Graphs  graph.Store
	Locks   lock.Locker
	Runs    repos.RunStore
	Reports repos.ReportStore
	Bus     bus.Bus
	Metrics *observability.Metrics
}

func NewRunner(deps RunnerDeps, cfg Config) *Runner {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = lock.NewLocal(0)
	}
	runs := deps.Runs
	if runs == nil {
		runs = repos.NewMemoryRunStore()
	}
	reports := deps.Reports
	if reports == nil {
		reports = repos.NewMemoryReportStore()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.Current()
	}
	return &Runner{
		log:     log.With("service", "PipelineRunner"),
		graphs:  deps.Graphs,
		locks:   locks,
		runs:    runs,
		reports: reports,
		bus:     deps.Bus,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("objective-cascade/pipeline"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func lockKey(campaignID string) string { return "cascade:campaign:" + campaignID }

// locked runs fn while holding the campaign's write lock.
func (r *Runner) locked(ctx context.Context, campaignID string, fn func(ctx context.Context) error) error {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return cascade.InvalidArgumentError("pipeline", "campaign id required")
	}
	lease, err := r.locks.Acquire(ctx, lockKey(campaignID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			r.metrics.IncLockConflict()
			return cascade.GraphConflictError("pipeline", "campaign %s is being written by another run", campaignID)
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			r.log.Warn("release campaign lock failed", "campaign_id", campaignID, "error", err)
		}
	}()
	return fn(ctx)
}

func (r *Runner) withStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := retry.Policy{Attempts: r.cfg.StoreRetryAttempts, BaseDelay: r.cfg.StoreRetryBase}
	return retry.Do(ctx, policy, cascade.IsRetryable, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && cascade.IsRetryable(err) {
			r.metrics.IncStoreRetry(op)
			r.log.Warn("graph store unavailable", "op", op, "error", err)
		}
		return err
	})
}

type computeFunc func(ctx context.Context, g *cascade.Graph) (*cascade.Mutation, error)

// stage loads the committed snapshot, computes the stage's mutation and
// commits it when it changes anything.
func (r *Runner) stage(ctx context.Context, campaignID string, st cascade.Stage, compute computeFunc) (StageResult, error) {
	start := time.Now()
	res := StageResult{Stage: st}
	ctx, span := r.tracer.Start(ctx, "cascade.stage."+string(st),
		trace.WithAttributes(attribute.String("campaign_id", campaignID)))
	defer span.End()

	fail := func(err error) (StageResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Duration = time.Since(start)
		r.metrics.ObserveStage(string(st), "failed", res.Duration)
		r.publishStage(ctx, campaignID, st, "failed", err)
		r.log.Warn("pipeline stage failed", "campaign_id", campaignID, "stage", string(st), "error", err)
		return res, err
	}

	var g *cascade.Graph
	if err := r.withStore(ctx, "load", func(ctx context.Context) error {
		var err error
		g, err = r.graphs.Load(ctx, campaignID)
		return err
	}); err != nil {
		return fail(err)
	}
	m, err := compute(ctx, g)
	if err != nil {
		return fail(err)
	}
	if !m.Empty() {
		if err := r.withStore(ctx, "commit", func(ctx context.Context) error {
			return r.graphs.Commit(ctx, campaignID, m)
		}); err != nil {
			return fail(err)
		}
		res.Committed = true
	}
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("committed", res.Committed), attribute.Int64("base_version", g.Version))
	r.metrics.ObserveStage(string(st), "completed", res.Duration)
	r.publishStage(ctx, campaignID, st, "completed", nil)
	r.log.Info("pipeline stage done",
		"campaign_id", campaignID,
		"stage", string(st),
		"committed", res.Committed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (r *Runner) decompose(ctx context.Context, req steps.DecomposeRequest) (*steps.DecomposeOutput, StageResult, error) {
	var out steps.DecomposeOutput
	deps := steps.DecomposeDeps{Log: r.log, MaxQuestObjectives: r.cfg.MaxQuestObjectives, Now: r.now}
	res, err := r.stage(ctx, req.CampaignID, cascade.StageDecompose, func(ctx context.Context, g *cascade.Graph) (*cascade.Mutation, error) {
		var err error
		out, err = steps.Decompose(ctx, deps, steps.DecomposeInput{Request: req, Current: g})
		return out.Mutation, err
	})
	return &out, res, err
}

func (r *Runner) assign(ctx context.Context, req steps.AssignRequest) (*steps.AssignOutput, StageResult, error) {
	var out steps.AssignOutput
	deps := steps.AssignDeps{Log: r.log, RedundancyFloor: r.cfg.RedundancyFloor, Now: r.now}
	res, err := r.stage(ctx, req.CampaignID, cascade.StageAssign, func(ctx context.Context, g *cascade.Graph) (*cascade.Mutation, error) {
		var err error
		out, err = steps.AssignScenes(ctx, deps, steps.AssignInput{Request: req, Current: g})
		return out.Mutation, err
	})
	return &out, res, err
}

func (r *Runner) mapResources(ctx context.Context, req steps.MapResourcesRequest) (*steps.MapOutput, StageResult, error) {
	var out steps.MapOutput
	deps := steps.MapDeps{Log: r.log, MaxResourcesPerScene: r.cfg.MaxResourcesPerScene, Now: r.now}
	res, err := r.stage(ctx, req.CampaignID, cascade.StageMap, func(ctx context.Context, g *cascade.Graph) (*cascade.Mutation, error) {
		var err error
		out, err = steps.MapResources(ctx, deps, steps.MapInput{Request: req, Current: g})
		return out.Mutation, err
	})
	return &out, res, err
}

func (r *Runner) validate(ctx context.Context, campaignID string) (*cascade.ValidationReport, StageResult, error) {
	var report *cascade.ValidationReport
	deps := steps.ValidateDeps{
		Log:             r.log,
		RedundancyFloor: r.cfg.RedundancyFloor,
		Now:             r.now,
		NewID:           func() string { return uuid.New().String() },
	}
	res, err := r.stage(ctx, campaignID, cascade.StageValidate, func(ctx context.Context, g *cascade.Graph) (*cascade.Mutation, error) {
		out, err := steps.Validate(ctx, deps, steps.ValidateInput{Current: g})
		if err != nil {
			return nil, err
		}
		report = out.Report
		for _, f := range report.Errors {
			r.metrics.IncFinding(string(f.Check), string(f.Severity))
		}
		for _, f := range report.Warnings {
			r.metrics.IncFinding(string(f.Check), string(f.Severity))
		}
		return nil, r.reports.Save(ctx, report)
	})
	if err != nil {
		return nil, res, err
	}
	r.publish(ctx, realtime.PipelineTopic(campaignID), realtime.EventValidationReport, map[string]any{
		"report_id":     report.ID,
		"graph_version": report.GraphVersion,
		"errors":        len(report.Errors),
		"warnings":      len(report.Warnings),
	})
	return report, res, nil
}

// Decompose runs the decomposition stage alone.
func (r *Runner) Decompose(ctx context.Context, req steps.DecomposeRequest) (*steps.DecomposeOutput, error) {
	var out *steps.DecomposeOutput
	err := r.locked(ctx, req.CampaignID, func(ctx context.Context) error {
		var err error
		out, _, err = r.decompose(ctx, req)
		return err
	})
	return out, err
}

// AssignScenes runs the scene assignment stage alone.
func (r *Runner) AssignScenes(ctx context.Context, req steps.AssignRequest) (*steps.AssignOutput, error) {
	var out *steps.AssignOutput
	err := r.locked(ctx, req.CampaignID, func(ctx context.Context) error {
		var err error
		out, _, err = r.assign(ctx, req)
		return err
	})
	return out, err
}

// MapResources runs the resource mapping stage alone.
func (r *Runner) MapResources(ctx context.Context, req steps.MapResourcesRequest) (*steps.MapOutput, error) {
	var out *steps.MapOutput
	err := r.locked(ctx, req.CampaignID, func(ctx context.Context) error {
		var err error
		out, _, err = r.mapResources(ctx, req)
		return err
	})
	return out, err
}

// Validate validates the committed graph and persists the report.
func (r *Runner) Validate(ctx context.Context, campaignID string) (*cascade.ValidationReport, error) {
	var report *cascade.ValidationReport
	err := r.locked(ctx, campaignID, func(ctx context.Context) error {
		var err error
		report, _, err = r.validate(ctx, campaignID)
		return err
	})
	return report, err
}

// LatestReport returns the most recent validation report of a campaign.
func (r *Runner) LatestReport(ctx context.Context, campaignID string) (*cascade.ValidationReport, error) {
	rep, err := r.reports.Latest(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, cascade.NotFoundError("pipeline", "no validation report for campaign %s", campaignID)
	}
	return rep, nil
}

// RunStatus returns the pipeline checkpoint of a campaign.
func (r *Runner) RunStatus(ctx context.Context, campaignID string) (*cascade.CampaignRun, error) {
	run, err := r.runs.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, cascade.NotFoundError("pipeline", "no run for campaign %s", campaignID)
	}
	return run, nil
}

// Run executes every stage in order.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	return r.run(ctx, req, false)
}

// Resume skips the stages a previous run with identical input already
// committed. Validation always runs.
func (r *Runner) Resume(ctx context.Context, req Request) (*Result, error) {
	return r.run(ctx, req, true)
}

// RunMany runs independent campaigns in parallel. A failing campaign does
// not affect the others.
func (r *Runner) RunMany(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i := range reqs {
		g.Go(func() error {
			res, err := r.run(ctx, reqs[i], false)
			out[i] = Outcome{CampaignID: reqs[i].CampaignID, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func normalize(req *Request) error {
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.CampaignID == "" {
		return cascade.InvalidArgumentError("pipeline", "campaign id required")
	}
	for _, cid := range []*string{&req.Decompose.CampaignID, &req.Scenes.CampaignID, &req.Resources.CampaignID} {
		switch strings.TrimSpace(*cid) {
		case "":
			*cid = req.CampaignID
		case req.CampaignID:
		default:
			return cascade.InvalidArgumentError("pipeline", "stage input for campaign %q in run for %q", *cid, req.CampaignID)
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, req Request, resume bool) (*Result, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, cascade.Wrap(cascade.CodeInvalidArgument, "pipeline", err)
	}
	cid := req.CampaignID

	var result *Result
	err = r.locked(ctx, cid, func(ctx context.Context) error {
		prior, err := r.runs.Get(ctx, cid)
		if err != nil {
			return err
		}
		skipThrough := -1
		run := &cascade.CampaignRun{
			ID:         uuid.New(),
			CampaignID: cid,
			Status:     cascade.RunRunning,
			Attempts:   1,
			Input:      datatypes.JSON(input),
			StartedAt:  r.now(),
		}
		if prior != nil {
			run.ID = prior.ID
			run.Attempts = prior.Attempts + 1
			run.CreatedAt = prior.CreatedAt
			if resume && cascade.Fingerprint(string(prior.Input)) == cascade.Fingerprint(string(input)) {
				skipThrough = min(prior.LastStage.Index(), cascade.StageMap.Index())
				run.LastStage = prior.LastStage
			}
		}
		if err := r.runs.Save(ctx, run); err != nil {
			return err
		}
		result = &Result{CampaignID: cid, RunID: run.ID.String(), Status: cascade.RunRunning}

		checkpoint := func(st cascade.Stage) error {
			run.LastStage = st
			return r.runs.Save(ctx, run)
		}
		abort := func(cause error) error {
			run.Status = cascade.RunFailed
			run.Error = cause.Error()
			finished := r.now()
			run.FinishedAt = &finished
			if err := r.runs.Save(context.WithoutCancel(ctx), run); err != nil {
				r.log.Warn("checkpoint failed run", "campaign_id", cid, "error", err)
			}
			result.Status = cascade.RunFailed
			return cause
		}

		for _, st := range cascade.Stages {
			if st.Index() <= skipThrough {
				result.Stages = append(result.Stages, StageResult{Stage: st, Skipped: true})
				r.publishStage(ctx, cid, st, "skipped", nil)
				continue
			}
			var (
				sr  StageResult
				err error
			)
			switch st {
			case cascade.StageDecompose:
				result.Decomposition, sr, err = r.decompose(ctx, req.Decompose)
			case cascade.StageAssign:
				result.Assignment, sr, err = r.assign(ctx, req.Scenes)
			case cascade.StageMap:
				result.Mapping, sr, err = r.mapResources(ctx, req.Resources)
			case cascade.StageValidate:
				result.Report, sr, err = r.validate(ctx, cid)
			}
			result.Stages = append(result.Stages, sr)
			if err != nil {
				return abort(err)
			}
			if err := checkpoint(st); err != nil {
				return abort(err)
			}
		}

		run.Status = cascade.RunSucceeded
		if result.Report.Blocking() {
			run.Status = cascade.RunBlocked
		}
		run.Error = ""
		run.ReportID = result.Report.ID
		finished := r.now()
		run.FinishedAt = &finished
		result.Status = run.Status
		return r.runs.Save(ctx, run)
	})
	if result != nil {
		r.metrics.IncPipelineRun(string(result.Status))
	}
	if err != nil {
		return result, err
	}
	r.log.Info("pipeline run finished", "campaign_id", cid, "status", string(result.Status), "resume", resume)
	return result, nil
}

func (r *Runner) publishStage(ctx context.Context, campaignID string, st cascade.Stage, status string, cause error) {
	data := map[string]any{"stage": string(st), "status": status}
	if cause != nil {
		data["error"] = cause.Error()
		data["code"] = string(cascade.CodeOf(cause))
	}
	r.publish(ctx, realtime.PipelineTopic(campaignID), realtime.EventPipelineStage, data)
}

func (r *Runner) publish(ctx context.Context, topic string, ev realtime.Event, data map[string]any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, realtime.Message{Topic: topic, Event: ev, Data: data, At: r.now()}); err != nil {
		r.log.Warn("pipeline publish failed", "topic", topic, "event", string(ev), "error", err)
	}
}
