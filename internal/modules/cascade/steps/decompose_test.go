package steps

import (
	"context"
	"testing"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

func TestDecompose_OneQuestObjectivePerQuest(t *testing.T) {
	g := cascade.NewGraph(testCampaign)
	out, err := Decompose(context.Background(), DecomposeDeps{Now: clock}, DecomposeInput{Request: corruptionRequest(), Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(out.Decompositions) != 1 {
		t.Fatalf("decompositions=%d want 1", len(out.Decompositions))
	}
	co := out.Decompositions[0].CampaignObjective
	kids := out.Decompositions[0].QuestObjectives
	if len(kids) != 3 {
		t.Fatalf("quest objectives=%d want 3", len(kids))
	}
	quests := map[int]bool{}
	for _, qo := range kids {
		quests[qo.QuestNumber] = true
		if qo.ParentID != co.ID {
			t.Fatalf("parent=%s want %s", qo.ParentID, co.ID)
		}
		if len(qo.SuccessCriteria) == 0 {
			t.Fatalf("quest objective %s has no criteria", qo.ID)
		}
	}
	if len(quests) != 3 {
		t.Fatalf("quests=%v want one per quest", quests)
	}
	if co.MinQuestsRequired != 3 {
		t.Fatalf("min quests=%d want 3", co.MinQuestsRequired)
	}

	next := g.Apply(out.Mutation)
	if n := len(next.In(co.ID, cascade.RelSupports)); n != 3 {
		t.Fatalf("SUPPORTS into campaign objective=%d want 3", n)
	}
	if n := len(next.Out(co.ID, cascade.RelDecomposesTo)); n != 3 {
		t.Fatalf("DECOMPOSES_TO=%d want 3", n)
	}
	for _, qo := range kids {
		if p := next.Progress[qo.ID]; p == nil || p.Status != cascade.StatusNotStarted {
			t.Fatalf("progress for %s: %+v", qo.ID, p)
		}
	}
}

func TestDecompose_Idempotent(t *testing.T) {
	ctx := context.Background()
	g := cascade.NewGraph(testCampaign)
	first, err := Decompose(ctx, DecomposeDeps{Now: clock}, DecomposeInput{Request: corruptionRequest(), Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	g1 := g.Apply(first.Mutation)
	second, err := Decompose(ctx, DecomposeDeps{Now: clock}, DecomposeInput{Request: corruptionRequest(), Current: g1})
	if err != nil {
		t.Fatalf("Decompose again: %v", err)
	}
	g2 := g1.Apply(second.Mutation)

	if len(g2.QuestObjectives) != len(g1.QuestObjectives) || len(g2.CampaignObjectives) != len(g1.CampaignObjectives) {
		t.Fatalf("node counts changed: %d/%d -> %d/%d",
			len(g1.CampaignObjectives), len(g1.QuestObjectives), len(g2.CampaignObjectives), len(g2.QuestObjectives))
	}
	k1, k2 := edgeKeys(g1), edgeKeys(g2)
	if len(k1) != len(k2) {
		t.Fatalf("edge count %d -> %d", len(k1), len(k2))
	}
	for k := range k1 {
		if !k2[k] {
			t.Fatalf("edge %s missing after re-run", k)
		}
	}
	if len(second.Mutation.Remove) != 0 || len(second.Mutation.Progress) != 0 {
		t.Fatalf("re-run removed %d nodes and reset %d progress records", len(second.Mutation.Remove), len(second.Mutation.Progress))
	}
	if !second.Mutation.Empty() {
		t.Fatalf("re-run with identical request should commit nothing: %+v", second.Mutation)
	}
}

func TestDecompose_QuestCountBelowTwo(t *testing.T) {
	req := corruptionRequest()
	req.QuestCount = 1
	_, err := Decompose(context.Background(), DecomposeDeps{}, DecomposeInput{Request: req})
	if !cascade.IsCode(err, cascade.CodeDecomposition) {
		t.Fatalf("err=%v want decomposition error", err)
	}
}

func TestDecompose_SingleDraftFails(t *testing.T) {
	req := corruptionRequest()
	req.CampaignObjectives[0].QuestObjectives = []QuestObjectiveDraft{{Description: "only one"}}
	_, err := Decompose(context.Background(), DecomposeDeps{}, DecomposeInput{Request: req})
	if !cascade.IsCode(err, cascade.CodeDecomposition) {
		t.Fatalf("err=%v want decomposition error", err)
	}
}

func TestDecompose_DropsStaleObjectives(t *testing.T) {
	ctx := context.Background()
	g := cascade.NewGraph(testCampaign)
	first, err := Decompose(ctx, DecomposeDeps{}, DecomposeInput{Request: corruptionRequest(), Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	g = g.Apply(first.Mutation)

	req := corruptionRequest()
	req.CampaignObjectives[0].Description = "Seal the mine"
	second, err := Decompose(ctx, DecomposeDeps{}, DecomposeInput{Request: req, Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	g = g.Apply(second.Mutation)
	if len(g.CampaignObjectives) != 1 || len(g.QuestObjectives) != 3 {
		t.Fatalf("got %d campaign / %d quest objectives after replacement", len(g.CampaignObjectives), len(g.QuestObjectives))
	}
	for _, co := range g.CampaignObjectives {
		if co.Description != "Seal the mine" {
			t.Fatalf("stale objective %q survived", co.Description)
		}
	}
}

func TestDistribute_CapRollsToLeastLoaded(t *testing.T) {
	pending := []pendingQO{
		{draft: QuestObjectiveDraft{QuestHint: 1}},
		{draft: QuestObjectiveDraft{QuestHint: 1}},
		{draft: QuestObjectiveDraft{QuestHint: 1}},
		{draft: QuestObjectiveDraft{QuestHint: 1}},
	}
	got := distribute(pending, 2)
	want := []int{1, 1, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("distribute=%v want %v", got, want)
		}
	}
}

func TestDistribute_RoundRobin(t *testing.T) {
	pending := make([]pendingQO, 5)
	got := distribute(pending, 3)
	want := []int{1, 2, 3, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("distribute=%v want %v", got, want)
		}
	}
}

func TestDecompose_TruncatesExtraDrafts(t *testing.T) {
	req := corruptionRequest()
	req.CampaignObjectives[0].QuestObjectives = []QuestObjectiveDraft{
		{Description: "a"}, {Description: "b"}, {Description: "c"}, {Description: "d"},
	}
	out, err := Decompose(context.Background(), DecomposeDeps{MaxQuestObjectives: 3}, DecomposeInput{Request: req})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if n := len(out.Decompositions[0].QuestObjectives); n != 3 {
		t.Fatalf("quest objectives=%d want 3", n)
	}
}
