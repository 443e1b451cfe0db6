package cascade

import (
	"context"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/progress"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/query"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/steps"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/lock"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
)

type UsecasesDeps struct {
	Log *logger.Logger

	Graphs  graph.Store
	Events  repos.EventLog
	Runs    repos.RunStore
	Reports repos.ReportStore

	Locks   lock.Locker
	Bus     bus.Bus
	Metrics *observability.Metrics

	Pipeline pipeline.Config
	Progress progress.Config
	Query    query.Config
}

// Usecases is the engine's entry point: generation stages, progress
// tracking and downstream queries over one graph store.
type Usecases struct {
	deps    UsecasesDeps
	runner  *pipeline.Runner
	tracker *progress.Tracker
	query   *query.Service
}

func New(deps UsecasesDeps) Usecases {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Graphs == nil {
		deps.Graphs = graph.NewMemStore()
	}
	if deps.Events == nil {
		deps.Events = repos.NewMemoryEventLog()
	}
	if deps.Runs == nil {
		deps.Runs = repos.NewMemoryRunStore()
	}
	if deps.Reports == nil {
		deps.Reports = repos.NewMemoryReportStore()
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewLocal(0)
	}
	runner := pipeline.NewRunner(pipeline.RunnerDeps{
		Log:     deps.Log,
		Graphs:  deps.Graphs,
		Locks:   deps.Locks,
		Runs:    deps.Runs,
		Reports: deps.Reports,
		Bus:     deps.Bus,
		Metrics: deps.Metrics,
	}, deps.Pipeline)
	tracker := progress.NewTracker(deps.Log, deps.Events, deps.Graphs, deps.Bus, deps.Progress)
	return Usecases{
		deps:    deps,
		runner:  runner,
		tracker: tracker,
		query:   query.NewService(deps.Log, deps.Graphs, tracker, deps.Query),
	}
}

// WithLog returns a copy logging through log. Stores, locks and the bus are
// shared with u.
func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return New(u.deps)
}

type (
	DecomposeRequest = steps.DecomposeRequest
	DecomposeOutput  = steps.DecomposeOutput
	AssignRequest    = steps.AssignRequest
	AssignOutput     = steps.AssignOutput
	ResourcesRequest = steps.MapResourcesRequest
	ResourcesOutput  = steps.MapOutput
	PipelineRequest  = pipeline.Request
	PipelineResult   = pipeline.Result
	PipelineOutcome  = pipeline.Outcome
	ProgressEvent    = progress.EventInput
	ProgressResult   = progress.RecordResult
	Hierarchy        = query.Hierarchy
	AccessibleScene  = query.AccessibleScene
	AcquisitionPath  = query.AcquisitionPath
	Recommendation   = query.Recommendation
	QuestStatus      = query.QuestStatus
)

func (u Usecases) Decompose(ctx context.Context, req DecomposeRequest) (*DecomposeOutput, error) {
	return u.runner.Decompose(ctx, req)
}

func (u Usecases) AssignScenes(ctx context.Context, req AssignRequest) (*AssignOutput, error) {
	return u.runner.AssignScenes(ctx, req)
}

func (u Usecases) MapResources(ctx context.Context, req ResourcesRequest) (*ResourcesOutput, error) {
	return u.runner.MapResources(ctx, req)
}

func (u Usecases) Validate(ctx context.Context, campaignID string) (*domain.ValidationReport, error) {
	return u.runner.Validate(ctx, campaignID)
}

func (u Usecases) LatestReport(ctx context.Context, campaignID string) (*domain.ValidationReport, error) {
	return u.runner.LatestReport(ctx, campaignID)
}

func (u Usecases) RunPipeline(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	return u.runner.Run(ctx, req)
}

func (u Usecases) ResumePipeline(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	return u.runner.Resume(ctx, req)
}

func (u Usecases) RunPipelines(ctx context.Context, reqs []PipelineRequest) []PipelineOutcome {
	return u.runner.RunMany(ctx, reqs)
}

func (u Usecases) RunStatus(ctx context.Context, campaignID string) (*domain.CampaignRun, error) {
	return u.runner.RunStatus(ctx, campaignID)
}

func (u Usecases) JoinCampaign(ctx context.Context, playerID, campaignID string) (*domain.PlayerProgress, error) {
	return u.tracker.Join(ctx, playerID, campaignID)
}

func (u Usecases) RecordProgress(ctx context.Context, playerID, campaignID string, ev ProgressEvent) (*ProgressResult, error) {
	return u.tracker.Record(ctx, playerID, campaignID, ev)
}

func (u Usecases) PlayerProgress(ctx context.Context, playerID, campaignID string) (*domain.PlayerProgress, error) {
	return u.tracker.Snapshot(ctx, playerID, campaignID)
}

func (u Usecases) ObjectiveHierarchy(ctx context.Context, campaignID string) (*Hierarchy, error) {
	return u.query.ObjectiveHierarchy(ctx, campaignID)
}

func (u Usecases) PlayerObjectiveHierarchy(ctx context.Context, campaignID, playerID string) (*Hierarchy, error) {
	return u.query.PlayerObjectiveHierarchy(ctx, campaignID, playerID)
}

func (u Usecases) AccessibleScenes(ctx context.Context, playerID, campaignID string) ([]AccessibleScene, error) {
	return u.query.AccessibleScenes(ctx, playerID, campaignID)
}

func (u Usecases) AcquisitionPaths(ctx context.Context, resourceID string) ([]AcquisitionPath, error) {
	return u.query.AcquisitionPaths(ctx, resourceID)
}

func (u Usecases) RecommendNextScene(ctx context.Context, playerID, campaignID, dimension string) (*Recommendation, error) {
	return u.query.RecommendNextScene(ctx, playerID, campaignID, dimension)
}

func (u Usecases) QuestCompletionStatus(ctx context.Context, campaignID, playerID string) ([]QuestStatus, error) {
	return u.query.QuestCompletionStatus(ctx, campaignID, playerID)
}
