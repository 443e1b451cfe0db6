package cascaderun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	engine "github.com/yungbote/objective-cascade/internal/modules/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/pipeline"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/steps"
	"github.com/yungbote/objective-cascade/internal/platform/lock"
)

func newEnv(t *testing.T, pipe Pipeline) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := &Activities{Pipeline: pipe, HeartbeatEvery: time.Second}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.RunPipeline, activity.RegisterOptions{Name: ActivityRunPipeline})
	return env
}

func twoQuestRequest(cid string, quests int) pipeline.Request {
	drafts := []steps.QuestObjectiveDraft{
		{Description: "Scout the ridge", BloomLevel: 1, QuestHint: 1},
		{Description: "Hold the pass", BloomLevel: 3, QuestHint: 2},
	}
	var scenes []steps.SceneDraft
	for q := 1; q <= 2; q++ {
		qo := cascade.QuestObjectiveID(cid, q, drafts[q-1].Description)
		for s := 1; s <= 2; s++ {
			scenes = append(scenes, steps.SceneDraft{
				Title:         "scene",
				QuestNumber:   q,
				Sequence:      s,
				EncounterType: "combat",
				ObjectiveIDs:  []string{qo},
			})
		}
	}
	return pipeline.Request{
		CampaignID: cid,
		Decompose: steps.DecomposeRequest{
			QuestCount: quests,
			CampaignObjectives: []steps.CampaignObjectiveDraft{{
				Description:     "Defend the valley",
				BloomLevel:      3,
				QuestObjectives: drafts,
			}},
		},
		Scenes: steps.AssignRequest{Scenes: scenes},
	}
}

func TestWorkflowRunsAllStages(t *testing.T) {
	store := graph.NewMemStore()
	u := engine.New(engine.UsecasesDeps{Graphs: store})
	env := newEnv(t, u)
	env.ExecuteWorkflow(Workflow, twoQuestRequest("c-1", 2))

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var res Result
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(res.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(res.Stages))
	}
	if res.Stages[0].Stage != cascade.StageDecompose || res.Stages[0].Nodes != 3 {
		t.Fatalf("decompose summary = %+v", res.Stages[0])
	}
	if res.Report.ReportID == "" || res.Report.CampaignID != "c-1" {
		t.Fatalf("report summary = %+v", res.Report)
	}
	g, err := store.Load(t.Context(), "c-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(g.Scenes) != 4 {
		t.Fatalf("scenes = %d, want 4", len(g.Scenes))
	}

	run, err := u.RunStatus(t.Context(), "c-1")
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	if run.LastStage != cascade.StageValidate || run.ReportID != res.Report.ReportID || run.Status != res.Status {
		t.Fatalf("checkpoint = %+v, result = %+v", run, res)
	}
}

func TestWorkflowDomainFailureIsFinal(t *testing.T) {
	u := engine.New(engine.UsecasesDeps{})
	env := newEnv(t, u)
	env.ExecuteWorkflow(Workflow, twoQuestRequest("c-2", 1))

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	err := env.GetWorkflowError()
	if err == nil {
		t.Fatalf("expected decomposition failure")
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected application error, got %v", err)
	}
	if appErr.Type() != string(cascade.CodeDecomposition) || !appErr.NonRetryable() {
		t.Fatalf("type = %q nonretryable = %v", appErr.Type(), appErr.NonRetryable())
	}
	run, err := u.RunStatus(t.Context(), "c-2")
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	if run.Status != cascade.RunFailed || run.Attempts != 1 {
		t.Fatalf("failed run checkpoint = %+v", run)
	}
}

func TestWorkflowHonorsCampaignLock(t *testing.T) {
	store := graph.NewMemStore()
	locks := lock.NewLocal(10 * time.Millisecond)
	lease, err := locks.Acquire(context.Background(), "cascade:campaign:c-3")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(context.Background())

	env := newEnv(t, engine.New(engine.UsecasesDeps{Graphs: store, Locks: locks}))
	env.ExecuteWorkflow(Workflow, twoQuestRequest("c-3", 2))

	var appErr *temporal.ApplicationError
	if err := env.GetWorkflowError(); !errors.As(err, &appErr) || appErr.Type() != string(cascade.CodeConflict) {
		t.Fatalf("expected conflict while the campaign is locked, got %v", err)
	}
	g, err := store.Load(t.Context(), "c-3")
	if err == nil && !g.Empty() {
		t.Fatalf("locked campaign was written: %d scenes", len(g.Scenes))
	}
}

type flakyPipeline struct {
	mu    sync.Mutex
	calls []string
}

func (f *flakyPipeline) RunPipeline(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "run")
	return nil, cascade.GraphConnectivityError("graph.commit", errors.New("connection reset"))
}

func (f *flakyPipeline) ResumePipeline(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "resume")
	return &pipeline.Result{
		CampaignID: req.CampaignID,
		Status:     cascade.RunSucceeded,
		Stages: []pipeline.StageResult{
			{Stage: cascade.StageDecompose, Skipped: true},
			{Stage: cascade.StageAssign, Committed: true},
			{Stage: cascade.StageMap, Committed: true},
			{Stage: cascade.StageValidate, Committed: true},
		},
		Report: &cascade.ValidationReport{ID: "rep-1"},
	}, nil
}

func TestWorkflowRetryResumes(t *testing.T) {
	f := &flakyPipeline{}
	env := newEnv(t, f)
	env.ExecuteWorkflow(Workflow, twoQuestRequest("c-4", 2))

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if len(f.calls) != 2 || f.calls[0] != "run" || f.calls[1] != "resume" {
		t.Fatalf("calls = %v", f.calls)
	}
	var res Result
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(res.Stages) != 3 || !res.Stages[0].Skipped || res.Report.ReportID != "rep-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestWorkflowRejectsBlankCampaign(t *testing.T) {
	env := newEnv(t, &flakyPipeline{})
	env.ExecuteWorkflow(Workflow, pipeline.Request{})
	var appErr *temporal.ApplicationError
	if err := env.GetWorkflowError(); !errors.As(err, &appErr) || appErr.Type() != "invalid_argument" {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}
