package steps

import (
	"context"
	"testing"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

func decomposed(t *testing.T) *cascade.Graph {
	t.Helper()
	g := cascade.NewGraph(testCampaign)
	out, err := Decompose(context.Background(), DecomposeDeps{Now: clock}, DecomposeInput{Request: corruptionRequest(), Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	return g.Apply(out.Mutation)
}

func TestAssignScenes_LinksAndSupportingScenes(t *testing.T) {
	g := decomposed(t)
	out, err := AssignScenes(context.Background(), AssignDeps{Now: clock}, AssignInput{Request: corruptionScenes(t, g), Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	if len(out.Assignments) != 6 || out.Changed != 6 {
		t.Fatalf("assignments=%d changed=%d want 6/6", len(out.Assignments), out.Changed)
	}
	for _, d := range out.Deficiencies {
		t.Fatalf("unexpected deficiency %+v", d)
	}
	next := g.Apply(out.Mutation)
	for q := 1; q <= 3; q++ {
		qo := questObjectiveIn(t, next, q)
		if n := len(next.In(qo.ID, cascade.RelAdvances)); n != 2 {
			t.Fatalf("quest %d ADVANCES=%d want 2", q, n)
		}
		if p := next.Progress[qo.ID]; p == nil || len(p.SupportingScenes) != 2 {
			t.Fatalf("quest %d supporting scenes: %+v", q, p)
		}
	}
}

func TestAssignScenes_UnchangedIsNoop(t *testing.T) {
	ctx := context.Background()
	g := decomposed(t)
	req := corruptionScenes(t, g)
	first, err := AssignScenes(ctx, AssignDeps{Now: clock}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	g = g.Apply(first.Mutation)
	second, err := AssignScenes(ctx, AssignDeps{Now: clock}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes again: %v", err)
	}
	if !second.Mutation.Empty() {
		t.Fatalf("re-run produced a mutation: %+v", second.Mutation)
	}
	if second.Unchanged != 6 || second.Changed != 0 {
		t.Fatalf("unchanged=%d changed=%d", second.Unchanged, second.Changed)
	}
}

func TestAssignScenes_EditReplacesOnlyAffectedScene(t *testing.T) {
	ctx := context.Background()
	g := decomposed(t)
	req := corruptionScenes(t, g)
	first, err := AssignScenes(ctx, AssignDeps{}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	g = g.Apply(first.Mutation)

	// retag the first scene of quest 1 onto the quest 2 objective
	q2 := questObjectiveIn(t, g, 2)
	req.Scenes[0].ObjectiveIDs = []string{q2.ID}
	second, err := AssignScenes(ctx, AssignDeps{}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	if second.Changed != 1 || second.Unchanged != 5 {
		t.Fatalf("changed=%d unchanged=%d want 1/5", second.Changed, second.Unchanged)
	}
	g = g.Apply(second.Mutation)
	sid := cascade.SceneID(testCampaign, 1, 1)
	adv := g.Out(sid, cascade.RelAdvances)
	if len(adv) != 1 || adv[0].To != q2.ID {
		t.Fatalf("scene ADVANCES=%+v want only %s", adv, q2.ID)
	}
	var low bool
	for _, d := range second.Deficiencies {
		if d.Kind == DeficiencyLowRedundancy && d.ObjectiveID == questObjectiveIn(t, g, 1).ID && d.Count == 1 {
			low = true
		}
	}
	if !low {
		t.Fatalf("expected low redundancy deficiency for quest 1, got %+v", second.Deficiencies)
	}
}

func TestAssignScenes_UnknownTagAndInference(t *testing.T) {
	g := decomposed(t)
	mining := questObjectiveIn(t, g, 1)
	req := AssignRequest{CampaignID: testCampaign, Scenes: []SceneDraft{
		{QuestNumber: 1, Sequence: 1, ObjectiveIDs: []string{"nope"}, ProvidedKnowledge: []string{"Mining Safety"}},
		{QuestNumber: 3, Sequence: 1},
	}}
	out, err := AssignScenes(context.Background(), AssignDeps{}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	kinds := map[DeficiencyKind]int{}
	for _, d := range out.Deficiencies {
		kinds[d.Kind]++
	}
	if kinds[DeficiencyUnknownObjective] != 1 || kinds[DeficiencyUnassignedScene] != 1 {
		t.Fatalf("deficiencies=%+v", out.Deficiencies)
	}
	var a cascade.SceneObjectiveAssignment
	for _, x := range out.Assignments {
		if x.SceneID == cascade.SceneID(testCampaign, 1, 1) {
			a = x
		}
	}
	if !a.Inferred || len(a.ObjectiveIDs) != 1 || a.ObjectiveIDs[0] != mining.ID {
		t.Fatalf("inferred assignment=%+v want %s", a, mining.ID)
	}
}

func TestAssignScenes_NextAndPrune(t *testing.T) {
	ctx := context.Background()
	g := decomposed(t)
	qo := questObjectiveIn(t, g, 1)
	b := cascade.SceneID(testCampaign, 1, 2)
	req := AssignRequest{CampaignID: testCampaign, Scenes: []SceneDraft{
		{QuestNumber: 1, Sequence: 1, ObjectiveIDs: []string{qo.ID}, Next: []string{b, "missing"}},
		{QuestNumber: 1, Sequence: 2, ObjectiveIDs: []string{qo.ID}},
	}}
	first, err := AssignScenes(ctx, AssignDeps{}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	g = g.Apply(first.Mutation)
	if n := len(g.In(b, cascade.RelNext)); n != 1 {
		t.Fatalf("NEXT into second scene=%d want 1", n)
	}

	req.Scenes = req.Scenes[:1]
	req.Scenes[0].Next = nil
	req.Prune = true
	second, err := AssignScenes(ctx, AssignDeps{}, AssignInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	g = g.Apply(second.Mutation)
	if second.Removed != 1 || g.Scenes[b] != nil {
		t.Fatalf("removed=%d scene still present=%v", second.Removed, g.Scenes[b] != nil)
	}
}

func TestAssignScenes_RequiresDecomposition(t *testing.T) {
	_, err := AssignScenes(context.Background(), AssignDeps{}, AssignInput{
		Request: AssignRequest{CampaignID: testCampaign},
		Current: cascade.NewGraph(testCampaign),
	})
	if !cascade.IsCode(err, cascade.CodeNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
}
