package cascade

import (
	"context"
	"testing"

	domain "github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/steps"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

func valleyRequest(cid string) PipelineRequest {
	drafts := []steps.QuestObjectiveDraft{
		{Description: "Scout the ridge", BloomLevel: 1, QuestHint: 1},
		{Description: "Hold the pass", BloomLevel: 3, QuestHint: 2},
	}
	var scenes []steps.SceneDraft
	for q := 1; q <= 2; q++ {
		qo := domain.QuestObjectiveID(cid, q, drafts[q-1].Description)
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
	return PipelineRequest{
		CampaignID: cid,
		Decompose: steps.DecomposeRequest{
			QuestCount: 2,
			CampaignObjectives: []steps.CampaignObjectiveDraft{{
				Description:     "Defend the valley",
				BloomLevel:      3,
				QuestObjectives: drafts,
			}},
		},
		Scenes: steps.AssignRequest{Scenes: scenes},
	}
}

func TestWithLogSharesState(t *testing.T) {
	ctx := context.Background()
	u := New(UsecasesDeps{})
	if _, err := u.RunPipeline(ctx, valleyRequest("c-1")); err != nil {
		t.Fatalf("run pipeline: %v", err)
	}

	w := u.WithLog(logger.Nop())
	run, err := w.RunStatus(ctx, "c-1")
	if err != nil {
		t.Fatalf("run status through copy: %v", err)
	}
	if run.CampaignID != "c-1" || run.ReportID == "" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	hier, err := w.ObjectiveHierarchy(ctx, "c-1")
	if err != nil {
		t.Fatalf("hierarchy through copy: %v", err)
	}
	if len(hier.Objectives) != 1 || len(hier.Objectives[0].Children) != 2 {
		t.Fatalf("unexpected hierarchy: %+v", hier)
	}
}

func TestUnknownCampaignIsNotFound(t *testing.T) {
	u := New(UsecasesDeps{})
	_, err := u.ObjectiveHierarchy(context.Background(), "missing")
	if !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCompletionSurvivesReassignment(t *testing.T) {
	ctx := context.Background()
	u := New(UsecasesDeps{})
	req := valleyRequest("c-2")
	if _, err := u.RunPipeline(ctx, req); err != nil {
		t.Fatalf("run pipeline: %v", err)
	}
	scout := domain.QuestObjectiveID("c-2", 1, "Scout the ridge")

	res, err := u.RecordProgress(ctx, "p1", "c-2", ProgressEvent{Kind: domain.EventSceneCompleted, SceneID: domain.SceneID("c-2", 1, 1)})
	if err != nil {
		t.Fatalf("record first scene: %v", err)
	}
	if len(res.Completed) != 0 {
		t.Fatalf("second required scene still open, got %v", res.Completed)
	}
	res, err = u.RecordProgress(ctx, "p1", "c-2", ProgressEvent{Kind: domain.EventSceneCompleted, SceneID: domain.SceneID("c-2", 1, 2)})
	if err != nil {
		t.Fatalf("record second scene: %v", err)
	}
	if len(res.Completed) != 1 || res.Completed[0] != scout {
		t.Fatalf("expected %s completed, got %v", scout, res.Completed)
	}

	hold := domain.QuestObjectiveID("c-2", 2, "Hold the pass")
	retag := req.Scenes
	retag.CampaignID = "c-2"
	retag.Scenes = append([]steps.SceneDraft(nil), req.Scenes.Scenes...)
	for i := range retag.Scenes {
		retag.Scenes[i].ObjectiveIDs = []string{hold}
	}
	if _, err := u.AssignScenes(ctx, retag); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	p, err := u.PlayerProgress(ctx, "p1", "c-2")
	if err != nil {
		t.Fatalf("player progress: %v", err)
	}
	if !p.ObjectiveCompleted(scout) {
		t.Fatalf("%s lost completion after its scenes were moved: %+v", scout, p.Objectives[scout])
	}
}
