package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/steps"
	"github.com/yungbote/objective-cascade/internal/platform/lock"
	"github.com/yungbote/objective-cascade/internal/realtime"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
)

var questDrafts = []steps.QuestObjectiveDraft{
	{Description: "Learn the mine safety drills", BloomLevel: 2, QuestHint: 1, RequiredKnowledge: []string{"mining safety"}},
	{Description: "Assay the tainted ore", BloomLevel: 3, QuestHint: 2, RequiredKnowledge: []string{"chemical analysis"}},
	{Description: "Confront the foreman", BloomLevel: 4, QuestHint: 3},
}

// corruption describes three quests with two scenes each; every resource has
// two providers so the graph validates cleanly.
func corruption(cid string) Request {
	provides := map[int][]string{1: {"mining safety"}, 2: {"chemical analysis"}}
	var scenes []steps.SceneDraft
	for q := 1; q <= 3; q++ {
		qo := cascade.QuestObjectiveID(cid, q, questDrafts[q-1].Description)
		for s := 1; s <= 2; s++ {
			scenes = append(scenes, steps.SceneDraft{
				Title:             "scene",
				QuestNumber:       q,
				Sequence:          s,
				EncounterType:     "discovery",
				ObjectiveIDs:      []string{qo},
				ProvidedKnowledge: provides[q],
			})
		}
	}
	return Request{
		CampaignID: cid,
		Decompose: steps.DecomposeRequest{
			QuestCount: 3,
			CampaignObjectives: []steps.CampaignObjectiveDraft{{
				Description:     "Discover corruption source",
				BloomLevel:      4,
				QuestObjectives: questDrafts,
			}},
		},
		Scenes: steps.AssignRequest{Scenes: scenes},
		Resources: steps.MapResourcesRequest{
			Knowledge: []steps.KnowledgeDraft{
				{Name: "Mine Safety Protocols", Domain: "mining safety", MaxLevel: 3},
				{Name: "Ore Assay", Domain: "chemical analysis", MaxLevel: 3},
			},
		},
	}
}

// flakyStore fails commits of one stage with connectivity errors.
type flakyStore struct {
	*graph.MemStore
	mu      sync.Mutex
	stage   cascade.Stage
	fails   int
	commits map[cascade.Stage]int
}

func (s *flakyStore) Commit(ctx context.Context, campaignID string, m *cascade.Mutation) error {
	s.mu.Lock()
	if s.commits == nil {
		s.commits = map[cascade.Stage]int{}
	}
	s.commits[m.Stage]++
	fail := m.Stage == s.stage && s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return cascade.GraphConnectivityError("test.commit", context.DeadlineExceeded)
	}
	return s.MemStore.Commit(ctx, campaignID, m)
}

type fixture struct {
	runner  *Runner
	store   *flakyStore
	runs    *repos.MemoryRunStore
	reports *repos.MemoryReportStore
	locks   lock.Locker
}

func newFixture(t *testing.T, b bus.Bus) *fixture {
	t.Helper()
	f := &fixture{
		store:   &flakyStore{MemStore: graph.NewMemStore()},
		runs:    repos.NewMemoryRunStore(),
		reports: repos.NewMemoryReportStore(),
		locks:   lock.NewLocal(20 * time.Millisecond),
	}
	f.runner = NewRunner(RunnerDeps{
		Graphs:  f.store,
		Locks:   f.locks,
		Runs:    f.runs,
		Reports: f.reports,
		Bus:     b,
	}, Config{StoreRetryBase: time.Millisecond})
	return f
}

func TestRunCommitsEveryStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.runner.Run(ctx, corruption("camp-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != cascade.RunSucceeded {
		t.Fatalf("status = %s, report errors %+v", res.Status, res.Report.Errors)
	}
	if len(res.Stages) != 4 {
		t.Fatalf("stages = %+v", res.Stages)
	}
	for _, sr := range res.Stages[:3] {
		if !sr.Committed {
			t.Fatalf("stage %s did not commit", sr.Stage)
		}
	}

	run, err := f.runner.RunStatus(ctx, "camp-1")
	if err != nil {
		t.Fatalf("RunStatus: %v", err)
	}
	if run.LastStage != cascade.StageValidate || run.ReportID != res.Report.ID || run.FinishedAt == nil {
		t.Fatalf("unexpected run record %+v", run)
	}
	latest, err := f.runner.LatestReport(ctx, "camp-1")
	if err != nil || latest.ID != res.Report.ID {
		t.Fatalf("LatestReport = %+v, %v", latest, err)
	}

	g, _ := f.store.Load(ctx, "camp-1")
	if g.Version != 3 || len(g.QuestObjectives) != 3 || len(g.Scenes) != 6 || len(g.Knowledge) != 2 {
		t.Fatalf("graph v%d qo=%d scenes=%d knowledge=%d", g.Version, len(g.QuestObjectives), len(g.Scenes), len(g.Knowledge))
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := corruption("camp-1")

	if _, err := f.runner.Run(ctx, req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before, _ := f.store.Load(ctx, "camp-1")
	res, err := f.runner.Run(ctx, req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for _, sr := range res.Stages {
		if sr.Committed {
			t.Fatalf("stage %s committed on unchanged input", sr.Stage)
		}
	}
	after, _ := f.store.Load(ctx, "camp-1")
	if after.Version != before.Version || len(after.Edges()) != len(before.Edges()) {
		t.Fatalf("graph changed: v%d -> v%d", before.Version, after.Version)
	}
}

func TestTransientCommitErrorsAreRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.store.stage = cascade.StageDecompose
	f.store.fails = 2

	if _, err := f.runner.Run(context.Background(), corruption("camp-1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.store.commits[cascade.StageDecompose]; got != 3 {
		t.Fatalf("decompose commits = %d want 3", got)
	}
}

func TestFailedStageIsResumable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.stage = cascade.StageMap
	f.store.fails = 3
	req := corruption("camp-1")

	res, err := f.runner.Run(ctx, req)
	if !cascade.IsCode(err, cascade.CodeConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if res.Status != cascade.RunFailed {
		t.Fatalf("status = %s", res.Status)
	}
	run, _ := f.runner.RunStatus(ctx, "camp-1")
	if run.LastStage != cascade.StageAssign || run.Status != cascade.RunFailed {
		t.Fatalf("checkpoint = %+v", run)
	}
	g, _ := f.store.Load(ctx, "camp-1")
	if len(g.Knowledge) != 0 {
		t.Fatalf("failed stage leaked %d knowledge nodes", len(g.Knowledge))
	}

	res, err = f.runner.Resume(ctx, req)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !res.Stages[0].Skipped || !res.Stages[1].Skipped || res.Stages[2].Skipped {
		t.Fatalf("unexpected skips %+v", res.Stages)
	}
	if res.Status != cascade.RunSucceeded {
		t.Fatalf("status = %s", res.Status)
	}
	if f.store.commits[cascade.StageDecompose] != 1 {
		t.Fatalf("decompose re-committed on resume")
	}
}

func TestResumeWithChangedInputRerunsAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.runner.Run(ctx, corruption("camp-1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := corruption("camp-1")
	req.Resources.Knowledge[1].MaxLevel = 5
	res, err := f.runner.Resume(ctx, req)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for _, sr := range res.Stages {
		if sr.Skipped {
			t.Fatalf("stage %s skipped despite changed input", sr.Stage)
		}
	}
	if !res.Stages[2].Committed {
		t.Fatalf("changed catalog should commit the map stage")
	}
}

func TestDomainFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := corruption("camp-1")
	req.Decompose.QuestCount = 1

	res, err := f.runner.Run(ctx, req)
	if !cascade.IsCode(err, cascade.CodeDecomposition) {
		t.Fatalf("expected decomposition error, got %v", err)
	}
	if len(res.Stages) != 1 {
		t.Fatalf("later stages ran: %+v", res.Stages)
	}
	g, _ := f.store.Load(ctx, "camp-1")
	if !g.Empty() {
		t.Fatalf("expected nothing committed")
	}
}

func TestLockedCampaignIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	lease, err := f.locks.Acquire(ctx, lockKey("camp-1"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(ctx)

	if _, err := f.runner.Run(ctx, corruption("camp-1")); !cascade.IsCode(err, cascade.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunManyIsolatesCampaigns(t *testing.T) {
	f := newFixture(t, nil)
	bad := corruption("camp-2")
	bad.Decompose.CampaignObjectives = nil

	out := f.runner.RunMany(context.Background(), []Request{corruption("camp-1"), bad, corruption("camp-3")})
	if len(out) != 3 {
		t.Fatalf("outcomes = %d", len(out))
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("healthy campaigns failed: %v / %v", out[0].Err, out[2].Err)
	}
	if !cascade.IsCode(out[1].Err, cascade.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for camp-2, got %v", out[1].Err)
	}
}

func TestMismatchedStageCampaign(t *testing.T) {
	f := newFixture(t, nil)
	req := corruption("camp-1")
	req.Scenes.CampaignID = "camp-9"
	if _, err := f.runner.Run(context.Background(), req); !cascade.IsCode(err, cascade.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRunPublishesValidationReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewLocalBus(64)
	got := make(chan realtime.Message, 64)
	if err := b.StartForwarder(ctx, realtime.PipelineTopic("camp-1"), func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	f := newFixture(t, b)
	if _, err := f.runner.Run(ctx, corruption("camp-1")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case m := <-got:
			if m.Event == realtime.EventValidationReport {
				if m.Data["errors"] != 0 {
					t.Fatalf("report errors = %v", m.Data["errors"])
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for validation_report")
		}
	}
}
