package steps

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

const testCampaign = "camp-1"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func apply(t *testing.T, g *cascade.Graph, m *cascade.Mutation) *cascade.Graph {
	t.Helper()
	next := g.Apply(m)
	next.Version = g.Version + 1
	return next
}

func corruptionRequest() DecomposeRequest {
	return DecomposeRequest{
		CampaignID: testCampaign,
		QuestCount: 3,
		CampaignObjectives: []CampaignObjectiveDraft{{
			Description:       "Discover corruption source",
			RequiredKnowledge: []string{"mining safety", "chemical analysis"},
		}},
	}
}

func corruptionCatalog() MapResourcesRequest {
	return MapResourcesRequest{
		CampaignID: testCampaign,
		Knowledge: []KnowledgeDraft{
			{Name: "Mine Safety Protocols", Domain: "mining safety", MaxLevel: 3},
			{Name: "Ore Assay", Domain: "chemical analysis", MaxLevel: 3},
		},
	}
}

// questObjectiveIn returns the quest objective decomposed into quest q.
func questObjectiveIn(t *testing.T, g *cascade.Graph, q int) *cascade.QuestObjective {
	t.Helper()
	for _, qo := range g.SortedQuestObjectives() {
		if qo.QuestNumber == q {
			return qo
		}
	}
	t.Fatalf("no quest objective in quest %d", q)
	return nil
}

// corruptionScenes assigns two scenes per quest objective. Three scenes surface
// mining safety and one surfaces chemical analysis.
func corruptionScenes(t *testing.T, g *cascade.Graph) AssignRequest {
	t.Helper()
	provides := map[[2]int][]string{
		{1, 1}: {"mining safety"},
		{1, 2}: {"mining safety"},
		{2, 1}: {"mining safety"},
		{2, 2}: {"chemical analysis"},
	}
	var scenes []SceneDraft
	for q := 1; q <= 3; q++ {
		qo := questObjectiveIn(t, g, q)
		for s := 1; s <= 2; s++ {
			scenes = append(scenes, SceneDraft{
				Title:             "scene",
				QuestNumber:       q,
				Sequence:          s,
				EncounterType:     "discovery",
				Dimensions:        []string{"exploration"},
				ObjectiveIDs:      []string{qo.ID},
				ProvidedKnowledge: provides[[2]int{q, s}],
			})
		}
	}
	return AssignRequest{CampaignID: testCampaign, Scenes: scenes}
}

// buildCorruption runs decompose, assign and map over an empty graph.
func buildCorruption(t *testing.T) *cascade.Graph {
	t.Helper()
	ctx := context.Background()
	g := cascade.NewGraph(testCampaign)

	dec, err := Decompose(ctx, DecomposeDeps{Now: clock}, DecomposeInput{Request: corruptionRequest(), Current: g})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	g = apply(t, g, dec.Mutation)

	asg, err := AssignScenes(ctx, AssignDeps{Now: clock}, AssignInput{Request: corruptionScenes(t, g), Current: g})
	if err != nil {
		t.Fatalf("AssignScenes: %v", err)
	}
	g = apply(t, g, asg.Mutation)

	mp, err := MapResources(ctx, MapDeps{Now: clock}, MapInput{Request: corruptionCatalog(), Current: g})
	if err != nil {
		t.Fatalf("MapResources: %v", err)
	}
	return apply(t, g, mp.Mutation)
}

func edgeKeys(g *cascade.Graph) map[string]bool {
	out := map[string]bool{}
	for _, e := range g.Edges() {
		out[e.Key()] = true
	}
	return out
}
