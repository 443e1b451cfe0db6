package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/realtime"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
)

const campaign = "camp-1"

// seedGraph commits a campaign where co needs qo-1 (knowledge k-1 at level 2)
// and qo-2 (any advancing scene, s-2).
func seedGraph(t *testing.T) *graph.MemStore {
	t.Helper()
	store := graph.NewMemStore()
	m := &cascade.Mutation{
		CampaignObjectives: []*cascade.CampaignObjective{{
			ID: "co", CampaignID: campaign, Description: "Discover corruption source",
			SuccessCriteria: []cascade.SuccessCriterion{{
				Kind: cascade.CriterionObjectiveCompletion, ObjectiveIDs: []string{"qo-1", "qo-2"},
			}},
		}},
		QuestObjectives: []*cascade.QuestObjective{
			{
				ID: "qo-1", CampaignID: campaign, ParentID: "co", QuestNumber: 1,
				SuccessCriteria: []cascade.SuccessCriterion{{
					Kind: cascade.CriterionKnowledgeLevel, Category: "mining safety",
					ResourceIDs: []string{"k-1"}, MinLevel: 2,
				}},
			},
			{
				ID: "qo-2", CampaignID: campaign, ParentID: "co", QuestNumber: 2,
				SuccessCriteria: []cascade.SuccessCriterion{{
					Kind: cascade.CriterionSceneCompletion, MinScenes: 1,
				}},
			},
		},
		Scenes: []*cascade.Scene{
			{ID: "s-1", CampaignID: campaign, QuestNumber: 1, Sequence: 1},
			{ID: "s-2", CampaignID: campaign, QuestNumber: 2, Sequence: 1},
		},
		Knowledge: []*cascade.Knowledge{{ID: "k-1", CampaignID: campaign, Name: "Mine Safety", MaxLevel: 3}},
		Items:     []*cascade.Item{{ID: "i-1", CampaignID: campaign, Name: "Lantern"}},
		Edges: []cascade.Edge{
			{Type: cascade.RelDecomposesTo, From: "co", To: "qo-1"},
			{Type: cascade.RelDecomposesTo, From: "co", To: "qo-2"},
			{Type: cascade.RelAdvances, From: "s-1", To: "qo-1"},
			{Type: cascade.RelAdvances, From: "s-2", To: "qo-2"},
			{Type: cascade.RelProvidesKnowledge, From: "s-1", To: "k-1"},
		},
	}
	if err := store.Commit(context.Background(), campaign, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return store
}

func newTracker(t *testing.T, events repos.EventLog, store graph.Store, b bus.Bus) *Tracker {
	t.Helper()
	tr := NewTracker(nil, events, store, b, Config{MaxRetries: 20, RetryBase: time.Millisecond})
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tr
}

func TestRecordCascadesToCampaignObjective(t *testing.T) {
	ctx := context.Background()
	store := seedGraph(t)
	tr := newTracker(t, repos.NewMemoryEventLog(), store, nil)

	res, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventKnowledgeAcquired, KnowledgeID: "k-1", Level: 1})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Kind != cascade.EventPlayerJoined {
		t.Fatalf("expected implicit join plus event, got %+v", res.Events)
	}
	if len(res.Completed) != 0 {
		t.Fatalf("level 1 should not complete anything, got %v", res.Completed)
	}
	if st := res.Progress.Objectives["qo-1"]; st == nil || st.Status != cascade.StatusNotStarted {
		t.Fatalf("qo-1 state = %+v", st)
	}

	res, err = tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventKnowledgeAcquired, KnowledgeID: "k-1", Level: 2})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(res.Completed) != 1 || res.Completed[0] != "qo-1" {
		t.Fatalf("expected qo-1 completed, got %v", res.Completed)
	}
	if st := res.Progress.Objectives["co"]; st == nil || st.Status != cascade.StatusNotStarted {
		t.Fatalf("co needs both quest objectives, got %+v", st)
	}

	res, err = tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-2"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(res.Completed) != 2 || res.Completed[0] != "qo-2" || res.Completed[1] != "co" {
		t.Fatalf("expected qo-2 then co, got %v", res.Completed)
	}
	if len(res.Events) != 3 {
		t.Fatalf("expected scene event plus two completions in one append, got %d", len(res.Events))
	}
	if res.Progress.Version != 7 {
		t.Fatalf("version = %d want 7", res.Progress.Version)
	}
	if p := store.Player("p1", campaign); p == nil || !p.ObjectiveCompleted("co") {
		t.Fatalf("expected projection with co completed, got %+v", p)
	}
}

func TestKnowledgeKeepsMaxLevel(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, repos.NewMemoryEventLog(), seedGraph(t), nil)

	for _, lvl := range []int{3, 1} {
		if _, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventKnowledgeAcquired, KnowledgeID: "k-1", Level: lvl}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	p, err := tr.Snapshot(ctx, "p1", campaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if p.Knowledge["k-1"] != 3 {
		t.Fatalf("knowledge level = %d want 3", p.Knowledge["k-1"])
	}
	if !p.ObjectiveCompleted("qo-1") {
		t.Fatalf("qo-1 should stay completed")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	events := repos.NewMemoryEventLog()
	tr := newTracker(t, events, seedGraph(t), nil)

	for i := 0; i < 2; i++ {
		p, err := tr.Join(ctx, "p1", campaign)
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if p.Version != 1 {
			t.Fatalf("version = %d want 1", p.Version)
		}
	}
	evs, _ := events.Load(ctx, "p1", campaign)
	if len(evs) != 1 {
		t.Fatalf("expected one join event, got %d", len(evs))
	}
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, repos.NewMemoryEventLog(), seedGraph(t), nil)

	cases := []struct {
		name     string
		player   string
		campaign string
		in       EventInput
		code     cascade.ErrorCode
	}{
		{"blank player", "", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-1"}, cascade.CodeInvalidArgument},
		{"unknown campaign", "p1", "nope", EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-1"}, cascade.CodeNotFound},
		{"unknown scene", "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-9"}, cascade.CodeNotFound},
		{"unknown item", "p1", campaign, EventInput{Kind: cascade.EventItemAcquired, ItemID: "i-9"}, cascade.CodeNotFound},
		{"level above max", "p1", campaign, EventInput{Kind: cascade.EventKnowledgeAcquired, KnowledgeID: "k-1", Level: 4}, cascade.CodeInvalidArgument},
		{"completion is derived", "p1", campaign, EventInput{Kind: cascade.EventObjectiveCompleted}, cascade.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Record(ctx, tc.player, tc.campaign, tc.in)
			if got := cascade.CodeOf(err); got != tc.code {
				t.Fatalf("code = %q want %q (err=%v)", got, tc.code, err)
			}
		})
	}
}

func TestSnapshotUnknownPlayer(t *testing.T) {
	tr := newTracker(t, repos.NewMemoryEventLog(), seedGraph(t), nil)
	if _, err := tr.Snapshot(context.Background(), "ghost", campaign); !cascade.IsCode(err, cascade.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

type conflictOnce struct {
	repos.EventLog
	mu      sync.Mutex
	fired   bool
	appends int
}

func (c *conflictOnce) Append(ctx context.Context, playerID, campaignID string, expected int64, events []cascade.ProgressEvent) error {
	c.mu.Lock()
	c.appends++
	fire := !c.fired
	c.fired = true
	c.mu.Unlock()
	if fire {
		return cascade.GraphConflictError("test", "simulated concurrent append")
	}
	return c.EventLog.Append(ctx, playerID, campaignID, expected, events)
}

func TestRecordRetriesOnConflict(t *testing.T) {
	log := &conflictOnce{EventLog: repos.NewMemoryEventLog()}
	tr := newTracker(t, log, seedGraph(t), nil)

	res, err := tr.Record(context.Background(), "p1", campaign, EventInput{Kind: cascade.EventItemAcquired, ItemID: "i-1", Quantity: 2})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if log.appends != 2 {
		t.Fatalf("appends = %d want 2", log.appends)
	}
	if res.Progress.Items["i-1"] != 2 {
		t.Fatalf("items = %d want 2", res.Progress.Items["i-1"])
	}
}

func TestConcurrentRecordsSerialize(t *testing.T) {
	ctx := context.Background()
	events := repos.NewMemoryEventLog()
	tr := newTracker(t, events, seedGraph(t), nil)
	if _, err := tr.Join(ctx, "p1", campaign); err != nil {
		t.Fatalf("Join: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventItemAcquired, ItemID: "i-1", Quantity: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	evs, _ := events.Load(ctx, "p1", campaign)
	for i, e := range evs {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
	p, err := tr.Snapshot(ctx, "p1", campaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if p.Items["i-1"] != n {
		t.Fatalf("items = %d want %d", p.Items["i-1"], n)
	}
}

func TestRecordPublishesCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewLocalBus(16)
	got := make(chan realtime.Message, 16)
	if err := b.StartForwarder(ctx, realtime.ProgressTopic(campaign), func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	tr := newTracker(t, repos.NewMemoryEventLog(), seedGraph(t), b)
	if _, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-2"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case m := <-got:
			if m.Event == realtime.EventObjectiveCompleted && m.Data["objective_id"] == "qo-2" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for objective_completed")
		}
	}
}

func TestKnowledgeObjectiveWaitsForRequiredScenes(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemStore()
	m := &cascade.Mutation{
		QuestObjectives: []*cascade.QuestObjective{{
			ID: "qo", CampaignID: campaign, QuestNumber: 1,
			SuccessCriteria: []cascade.SuccessCriterion{{
				Kind: cascade.CriterionKnowledgeLevel, ResourceIDs: []string{"k-1"}, MinLevel: 1,
			}},
		}},
		Scenes: []*cascade.Scene{
			{ID: "r-1", CampaignID: campaign, QuestNumber: 1, Sequence: 1, IsRequired: true},
			{ID: "r-2", CampaignID: campaign, QuestNumber: 1, Sequence: 2, IsRequired: true},
			{ID: "side", CampaignID: campaign, QuestNumber: 1, Sequence: 3},
		},
		Knowledge: []*cascade.Knowledge{{ID: "k-1", CampaignID: campaign, Name: "Mine Safety", MaxLevel: 3}},
		Edges: []cascade.Edge{
			{Type: cascade.RelAdvances, From: "r-1", To: "qo"},
			{Type: cascade.RelAdvances, From: "r-2", To: "qo"},
			{Type: cascade.RelAdvances, From: "side", To: "qo"},
		},
	}
	if err := store.Commit(ctx, campaign, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tr := newTracker(t, repos.NewMemoryEventLog(), store, nil)

	res, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventKnowledgeAcquired, KnowledgeID: "k-1", Level: 1})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(res.Completed) != 0 {
		t.Fatalf("knowledge alone must not complete qo, got %v", res.Completed)
	}
	if st := res.Progress.Objectives["qo"]; st == nil || st.Status != cascade.StatusInProgress || st.CompletionPercent != 50 {
		t.Fatalf("qo state = %+v", st)
	}

	for _, sid := range []string{"r-1", "side"} {
		res, err = tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: sid})
		if err != nil {
			t.Fatalf("Record %s: %v", sid, err)
		}
		if len(res.Completed) != 0 {
			t.Fatalf("%s completed %v with r-2 outstanding", sid, res.Completed)
		}
	}

	res, err = tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "r-2"})
	if err != nil {
		t.Fatalf("Record r-2: %v", err)
	}
	if len(res.Completed) != 1 || res.Completed[0] != "qo" {
		t.Fatalf("expected qo completed by its last required scene, got %v", res.Completed)
	}
}

func TestCompletionSurvivesDroppedEdges(t *testing.T) {
	ctx := context.Background()
	store := seedGraph(t)
	tr := newTracker(t, repos.NewMemoryEventLog(), store, nil)

	res, err := tr.Record(ctx, "p1", campaign, EventInput{Kind: cascade.EventSceneCompleted, SceneID: "s-2"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(res.Completed) == 0 || res.Completed[0] != "qo-2" {
		t.Fatalf("expected qo-2 completed, got %v", res.Completed)
	}

	edit := &cascade.Mutation{
		Stage:   cascade.StageAssign,
		Replace: []cascade.EdgeScope{{From: "s-2", Label: cascade.LabelScene, Types: []cascade.RelType{cascade.RelAdvances}}},
	}
	if err := store.Commit(ctx, campaign, edit); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	p, err := tr.Snapshot(ctx, "p1", campaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !p.ObjectiveCompleted("qo-2") {
		t.Fatalf("qo-2 lost completion after its edge was dropped: %+v", p.Objectives["qo-2"])
	}
}
