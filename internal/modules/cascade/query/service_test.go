package query

import (
	"context"
	"testing"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

const campaign = "camp-1"

type players map[string]*cascade.PlayerProgress

func (ps players) Snapshot(_ context.Context, playerID, campaignID string) (*cascade.PlayerProgress, error) {
	if p := ps[playerID]; p != nil && p.CampaignID == campaignID {
		return p, nil
	}
	return nil, cascade.NotFoundError("test", "player %s not found", playerID)
}

// seed builds two quests. Scene b needs knowledge k at level 2 after a;
// scene d follows c or is reached from a through an alternative path.
func seed(t *testing.T) *graph.MemStore {
	t.Helper()
	store := graph.NewMemStore()
	m := &cascade.Mutation{
		CampaignObjectives: []*cascade.CampaignObjective{{ID: "co", CampaignID: campaign, Description: "Discover corruption source"}},
		QuestObjectives: []*cascade.QuestObjective{
			{ID: "qo-1", CampaignID: campaign, ParentID: "co", QuestNumber: 1},
			{ID: "qo-2", CampaignID: campaign, ParentID: "co", QuestNumber: 2},
			{ID: "qo-free", CampaignID: campaign, QuestNumber: 3, Optional: true, FreeStanding: true},
		},
		Scenes: []*cascade.Scene{
			{ID: "a", CampaignID: campaign, QuestNumber: 1, Sequence: 1, Dimensions: []string{"combat"}},
			{ID: "b", CampaignID: campaign, QuestNumber: 1, Sequence: 2},
			{ID: "c", CampaignID: campaign, QuestNumber: 2, Sequence: 1, Dimensions: []string{"exploration"}},
			{ID: "d", CampaignID: campaign, QuestNumber: 2, Sequence: 2},
		},
		Knowledge: []*cascade.Knowledge{{ID: "k", CampaignID: campaign, Name: "Ore Assay", MaxLevel: 3}},
		Items:     []*cascade.Item{{ID: "i", CampaignID: campaign, Name: "Lantern"}},
		Edges: []cascade.Edge{
			{Type: cascade.RelDecomposesTo, From: "co", To: "qo-1"},
			{Type: cascade.RelDecomposesTo, From: "co", To: "qo-2"},
			{Type: cascade.RelSupports, From: "qo-1", To: "co"},
			{Type: cascade.RelSupports, From: "qo-2", To: "co"},
			{Type: cascade.RelAdvances, From: "a", To: "qo-1"},
			{Type: cascade.RelAdvances, From: "b", To: "qo-1"},
			{Type: cascade.RelAdvances, From: "c", To: "qo-2"},
			{Type: cascade.RelAdvances, From: "d", To: "qo-2"},
			{Type: cascade.RelNext, From: "a", To: "b"},
			{Type: cascade.RelNext, From: "c", To: "d"},
			{Type: cascade.RelAlternativePath, From: "a", To: "d"},
			{Type: cascade.RelProvidesKnowledge, From: "a", To: "k"},
			{Type: cascade.RelProvidesKnowledge, From: "c", To: "k"},
			{Type: cascade.RelRequiresKnowledge, From: "b", To: "k", MinLevel: 2},
		},
	}
	if err := store.Commit(context.Background(), campaign, m); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return store
}

func sceneIDs(in []AccessibleScene) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.SceneID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestObjectiveHierarchy(t *testing.T) {
	svc := NewService(nil, seed(t), nil, Config{})
	h, err := svc.ObjectiveHierarchy(context.Background(), campaign)
	if err != nil {
		t.Fatalf("ObjectiveHierarchy: %v", err)
	}
	if h.GraphVersion != 1 || len(h.Objectives) != 1 {
		t.Fatalf("unexpected hierarchy %+v", h)
	}
	kids := h.Objectives[0].Children
	if len(kids) != 2 || kids[0].ID != "qo-1" || kids[1].ID != "qo-2" {
		t.Fatalf("children = %+v", kids)
	}
	if kids[0].SupportingScenes != 2 {
		t.Fatalf("qo-1 supporting scenes = %d want 2", kids[0].SupportingScenes)
	}
	if len(h.FreeStanding) != 1 || h.FreeStanding[0].ID != "qo-free" {
		t.Fatalf("free standing = %+v", h.FreeStanding)
	}
}

func TestPlayerObjectiveHierarchyOverlaysState(t *testing.T) {
	p := cascade.NewPlayerProgress("p1", campaign)
	p.Apply(cascade.ProgressEvent{Kind: cascade.EventObjectiveCompleted, ObjectiveID: "qo-1", Seq: 1})
	svc := NewService(nil, seed(t), players{"p1": p}, Config{})

	h, err := svc.PlayerObjectiveHierarchy(context.Background(), campaign, "p1")
	if err != nil {
		t.Fatalf("PlayerObjectiveHierarchy: %v", err)
	}
	kids := h.Objectives[0].Children
	if kids[0].Status != cascade.StatusCompleted || kids[1].Status != cascade.StatusNotStarted {
		t.Fatalf("states = %s, %s", kids[0].Status, kids[1].Status)
	}
	if h.PlayerID != "p1" {
		t.Fatalf("player id = %q", h.PlayerID)
	}
}

func TestAccessibleScenes(t *testing.T) {
	ctx := context.Background()
	fresh := cascade.NewPlayerProgress("fresh", campaign)
	mid := cascade.NewPlayerProgress("mid", campaign)
	mid.CompletedScenes["a"] = true
	mid.Knowledge["k"] = 1
	svc := NewService(nil, seed(t), players{"fresh": fresh, "mid": mid}, Config{})

	got, err := svc.AccessibleScenes(ctx, "fresh", campaign)
	if err != nil {
		t.Fatalf("AccessibleScenes: %v", err)
	}
	if ids := sceneIDs(got); !equal(ids, []string{"a", "c"}) {
		t.Fatalf("fresh accessible = %v", ids)
	}

	got, err = svc.AccessibleScenes(ctx, "mid", campaign)
	if err != nil {
		t.Fatalf("AccessibleScenes: %v", err)
	}
	if ids := sceneIDs(got); !equal(ids, []string{"a", "c", "d"}) {
		t.Fatalf("mid accessible = %v", ids)
	}
	if !got[0].Completed || !got[2].ViaAlternate {
		t.Fatalf("expected a completed and d via alternative path: %+v", got)
	}

	// Level 2 is the boundary for b.
	mid.Knowledge["k"] = 2
	got, _ = svc.AccessibleScenes(ctx, "mid", campaign)
	if ids := sceneIDs(got); !equal(ids, []string{"a", "c", "b", "d"}) {
		t.Fatalf("accessible at level 2 = %v", ids)
	}
}

func TestAccessibleWithoutResourceRequirements(t *testing.T) {
	g := cascade.BuildGraph(campaign, 1, &cascade.Mutation{
		Scenes: []*cascade.Scene{{ID: "x", Sequence: 1}, {ID: "y", Sequence: 1}},
	})
	got := accessible(g, cascade.NewPlayerProgress("p", campaign))
	if ids := sceneIDs(got); !equal(ids, []string{"x", "y"}) {
		t.Fatalf("accessible = %v", ids)
	}
}

func TestRecommendNextScene(t *testing.T) {
	ctx := context.Background()
	fresh := cascade.NewPlayerProgress("fresh", campaign)
	svc := NewService(nil, seed(t), players{"fresh": fresh}, Config{ObjectiveWeight: 10, DimensionBonus: 1})

	for i := 0; i < 3; i++ {
		rec, err := svc.RecommendNextScene(ctx, "fresh", campaign, "")
		if err != nil {
			t.Fatalf("RecommendNextScene: %v", err)
		}
		if rec == nil || rec.SceneID != "a" || rec.Score != 10 {
			t.Fatalf("tie should go to a, got %+v", rec)
		}
	}

	rec, err := svc.RecommendNextScene(ctx, "fresh", campaign, "exploration")
	if err != nil {
		t.Fatalf("RecommendNextScene: %v", err)
	}
	if rec.SceneID != "c" || rec.Score != 11 || !rec.DimensionMatch {
		t.Fatalf("dimension bonus should pick c, got %+v", rec)
	}
}

func TestRecommendSkipsResolvedObjectives(t *testing.T) {
	g := cascade.BuildGraph(campaign, 1, &cascade.Mutation{
		QuestObjectives: []*cascade.QuestObjective{{ID: "qo-1", QuestNumber: 1}, {ID: "qo-2", QuestNumber: 1}},
		Scenes: []*cascade.Scene{
			{ID: "a", Sequence: 1, Dimensions: []string{"combat"}},
			{ID: "b", Sequence: 2},
		},
		Edges: []cascade.Edge{
			{Type: cascade.RelAdvances, From: "a", To: "qo-1"},
			{Type: cascade.RelAdvances, From: "b", To: "qo-2"},
		},
	})
	p := cascade.NewPlayerProgress("p", campaign)
	p.Apply(cascade.ProgressEvent{Kind: cascade.EventObjectiveCompleted, ObjectiveID: "qo-1", Seq: 1})

	rec := Recommend(g, p, "combat", Config{})
	if rec == nil || rec.SceneID != "b" {
		t.Fatalf("objective weight should outrank the dimension bonus, got %+v", rec)
	}

	p.CompletedScenes["a"] = true
	p.CompletedScenes["b"] = true
	if rec := Recommend(g, p, "", Config{}); rec != nil {
		t.Fatalf("expected no recommendation, got %+v", rec)
	}
}

func TestQuestCompletionStatus(t *testing.T) {
	p := cascade.NewPlayerProgress("p1", campaign)
	p.Apply(cascade.ProgressEvent{Kind: cascade.EventObjectiveCompleted, ObjectiveID: "qo-1", Seq: 1})
	p.SetObjectiveState("qo-2", cascade.StatusInProgress, 50)
	svc := NewService(nil, seed(t), players{"p1": p}, Config{})

	got, err := svc.QuestCompletionStatus(context.Background(), campaign, "p1")
	if err != nil {
		t.Fatalf("QuestCompletionStatus: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("quests = %+v", got)
	}
	want := []cascade.Status{cascade.StatusCompleted, cascade.StatusInProgress, cascade.StatusNotStarted}
	for i, st := range got {
		if st.QuestNumber != i+1 || st.Status != want[i] {
			t.Fatalf("quest %d = %+v", i+1, st)
		}
	}
	if got[0].Percent != 100 || got[2].Objectives != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
}

func TestAcquisitionPaths(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, seed(t), nil, Config{})

	paths, err := svc.AcquisitionPaths(ctx, "k")
	if err != nil {
		t.Fatalf("AcquisitionPaths: %v", err)
	}
	if len(paths) != 2 || paths[0].SceneID != "a" || paths[1].SceneID != "c" || paths[0].ResourceKind != cascade.KindKnowledge {
		t.Fatalf("paths = %+v", paths)
	}

	paths, err = svc.AcquisitionPaths(ctx, "i")
	if err != nil {
		t.Fatalf("AcquisitionPaths: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no providers, got %+v", paths)
	}

	if _, err := svc.AcquisitionPaths(ctx, "nope"); !cascade.IsCode(err, cascade.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, seed(t), players{}, Config{})

	if _, err := svc.ObjectiveHierarchy(ctx, "missing"); !cascade.IsCode(err, cascade.CodeNotFound) {
		t.Fatalf("unknown campaign: %v", err)
	}
	if _, err := svc.AccessibleScenes(ctx, "ghost", campaign); !cascade.IsCode(err, cascade.CodeNotFound) {
		t.Fatalf("unknown player: %v", err)
	}
	if _, err := svc.RecommendNextScene(ctx, " ", campaign, ""); !cascade.IsCode(err, cascade.CodeInvalidArgument) {
		t.Fatalf("blank player: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ObjectiveWeight: 5, DimensionBonus: 7}.withDefaults()
	if cfg.ObjectiveWeight != 5 || cfg.DimensionBonus != 1 {
		t.Fatalf("bonus must stay below weight: %+v", cfg)
	}
}
