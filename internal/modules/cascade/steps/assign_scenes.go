package steps

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

// SceneDraft is a generated scene as tagged by the narrative generator.
// ID may be empty, in which case it is derived from quest and sequence.
type SceneDraft struct {
	ID                string                 `json:"id,omitempty"`
	Title             string                 `json:"title"`
	QuestNumber       int                    `json:"quest_number"`
	Sequence          int                    `json:"sequence"`
	EncounterType     string                 `json:"encounter_type"`
	Required          *bool                  `json:"is_required,omitempty"`
	Dimensions        []string               `json:"dimensions,omitempty"`
	ObjectiveIDs      []string               `json:"objective_ids,omitempty"`
	RequiredKnowledge []cascade.ResourceNeed `json:"required_knowledge,omitempty"`
	ProvidedKnowledge []string               `json:"provided_knowledge,omitempty"`
	RequiredItems     []cascade.ResourceNeed `json:"required_items,omitempty"`
	ProvidedItems     []string               `json:"provided_items,omitempty"`
	// Next lists scenes that this scene unlocks; AlternativePaths lists
	// scenes this scene opens as an alternative route.
	Next             []string `json:"next,omitempty"`
	AlternativePaths []string `json:"alternative_paths,omitempty"`
}

type AssignRequest struct {
	CampaignID string       `json:"campaign_id"`
	Scenes     []SceneDraft `json:"scenes"`
	// Prune removes scenes of the campaign that are absent from Scenes.
	Prune bool `json:"prune,omitempty"`
}

type DeficiencyKind string

const (
	DeficiencyLowRedundancy    DeficiencyKind = "low_redundancy"
	DeficiencyUnknownObjective DeficiencyKind = "unknown_objective"
	DeficiencyUnassignedScene  DeficiencyKind = "unassigned_scene"
)

// Deficiency is a coverage gap found during assignment; the validator
// decides its severity.
type Deficiency struct {
	Kind        DeficiencyKind `json:"kind"`
	ObjectiveID string         `json:"objective_id,omitempty"`
	SceneID     string         `json:"scene_id,omitempty"`
	Count       int            `json:"count"`
	Message     string         `json:"message"`
}

type AssignDeps struct {
	Log             *logger.Logger
	RedundancyFloor int
	Now             func() time.Time
}

type AssignInput struct {
	Request AssignRequest
	Current *cascade.Graph
}

type AssignOutput struct {
	Assignments  []cascade.SceneObjectiveAssignment `json:"assignments"`
	Deficiencies []Deficiency                       `json:"deficiencies,omitempty"`
	Changed      int                                `json:"changed"`
	Unchanged    int                                `json:"unchanged"`
	Removed      int                                `json:"removed"`
	Mutation     *cascade.Mutation                  `json:"-"`
}

var sceneEdgeTypes = []cascade.RelType{cascade.RelAdvances, cascade.RelNext, cascade.RelAlternativePath}

// AssignScenes binds scenes to the objectives they advance. Scenes whose
// fingerprint is unchanged are skipped; changed scenes have their ADVANCES,
// NEXT and ALTERNATIVE_PATH edges replaced.
func AssignScenes(ctx context.Context, deps AssignDeps, in AssignInput) (AssignOutput, error) {
	out := AssignOutput{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	floor := deps.RedundancyFloor
	if floor <= 0 {
		floor = 2
	}
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	cid := strings.TrimSpace(in.Request.CampaignID)
	if cid == "" {
		return out, cascade.InvalidArgumentError("assign", "campaign id required")
	}
	cur := in.Current
	if cur == nil || len(cur.QuestObjectives) == 0 {
		return out, cascade.NotFoundError("assign", "campaign %s has no decomposed objectives", cid)
	}

	scenes := make([]*cascade.Scene, 0, len(in.Request.Scenes))
	drafts := map[string]SceneDraft{}
	for i, d := range in.Request.Scenes {
		if d.QuestNumber < 1 {
			return out, cascade.InvalidArgumentError("assign", "scene %d has invalid quest number %d", i, d.QuestNumber)
		}
		sc := sceneFromDraft(cid, d)
		if _, dup := drafts[sc.ID]; dup {
			return out, cascade.InvalidArgumentError("assign", "duplicate scene %s", sc.ID)
		}
		drafts[sc.ID] = d
		scenes = append(scenes, sc)
	}
	sort.Slice(scenes, func(i, j int) bool { return cascade.SceneLess(scenes[i], scenes[j]) })

	m := &cascade.Mutation{Stage: cascade.StageAssign}
	if in.Request.Prune {
		for _, old := range cur.SortedScenes() {
			if _, ok := drafts[old.ID]; !ok {
				m.Remove = append(m.Remove, cascade.NodeRef{Label: cascade.LabelScene, ID: old.ID})
				out.Removed++
			}
		}
	}

	for _, sc := range scenes {
		d := drafts[sc.ID]
		var linked []string
		for _, tag := range cleanList(d.ObjectiveIDs) {
			if !cur.IsObjective(tag) {
				out.Deficiencies = append(out.Deficiencies, Deficiency{
					Kind:    DeficiencyUnknownObjective,
					SceneID: sc.ID,
					Message: fmt.Sprintf("scene %q tags unknown objective %s", sc.Title, tag),
				})
				continue
			}
			linked = append(linked, tag)
		}
		if len(linked) == 0 {
			linked = inferObjectives(cur, sc)
			if len(linked) == 0 {
				out.Deficiencies = append(out.Deficiencies, Deficiency{
					Kind:    DeficiencyUnassignedScene,
					SceneID: sc.ID,
					Message: fmt.Sprintf("scene %q advances no objective", sc.Title),
				})
			}
		}

		var edges []cascade.Edge
		for _, oid := range linked {
			edges = append(edges, cascade.Edge{Type: cascade.RelAdvances, From: sc.ID, To: oid})
		}
		for _, to := range cleanList(d.Next) {
			if sceneKnown(cur, drafts, to) {
				edges = append(edges, cascade.Edge{Type: cascade.RelNext, From: sc.ID, To: to})
			}
		}
		for _, to := range cleanList(d.AlternativePaths) {
			if sceneKnown(cur, drafts, to) {
				edges = append(edges, cascade.Edge{Type: cascade.RelAlternativePath, From: sc.ID, To: to})
			}
		}

		if existing := cur.Scenes[sc.ID]; existing != nil && existing.Fingerprint == sc.Fingerprint &&
			sameEdges(cur.Out(sc.ID, sceneEdgeTypes...), edges) {
			out.Unchanged++
			continue
		}
		out.Changed++
		m.Scenes = append(m.Scenes, sc)
		m.Replace = append(m.Replace, cascade.EdgeScope{From: sc.ID, Label: cascade.LabelScene, Types: sceneEdgeTypes})
		m.Edges = append(m.Edges, edges...)
	}

	next := cur.Apply(m)

	for _, sc := range scenes {
		a := cascade.SceneObjectiveAssignment{
			SceneID:          sc.ID,
			KnowledgeDomains: sc.ProvidedKnowledge,
			ItemCategories:   sc.ProvidedItems,
		}
		for _, e := range next.Out(sc.ID, cascade.RelAdvances) {
			a.ObjectiveIDs = append(a.ObjectiveIDs, e.To)
		}
		a.Inferred = len(cleanList(drafts[sc.ID].ObjectiveIDs)) == 0 && len(a.ObjectiveIDs) > 0
		out.Assignments = append(out.Assignments, a)
	}

	for _, oid := range objectiveIDs(next) {
		var supporting []string
		for _, e := range next.In(oid, cascade.RelAdvances) {
			supporting = append(supporting, e.From)
		}
		sort.Strings(supporting)
		prev := next.Progress[oid]
		if prev == nil || !equalStrings(prev.SupportingScenes, supporting) {
			p := &cascade.ObjectiveProgress{ObjectiveID: oid, Status: cascade.StatusNotStarted}
			if prev != nil {
				cp := *prev
				p = &cp
			}
			p.SupportingScenes = supporting
			p.UpdatedAt = now
			m.Progress = append(m.Progress, p)
		}
		if qo := next.QuestObjectives[oid]; qo != nil && !qo.Optional && len(supporting) < floor {
			out.Deficiencies = append(out.Deficiencies, Deficiency{
				Kind:        DeficiencyLowRedundancy,
				ObjectiveID: oid,
				Count:       len(supporting),
				Message:     fmt.Sprintf("objective %q has %d supporting scene(s); floor is %d", qo.Description, len(supporting), floor),
			})
		}
	}

	out.Mutation = m
	deps.Log.Info("assign: computed",
		"campaign_id", cid,
		"changed", out.Changed,
		"unchanged", out.Unchanged,
		"removed", out.Removed,
		"deficiencies", len(out.Deficiencies),
	)
	return out, nil
}

func sceneFromDraft(cid string, d SceneDraft) *cascade.Scene {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = cascade.SceneID(cid, d.QuestNumber, d.Sequence)
	}
	required := true
	if d.Required != nil {
		required = *d.Required
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = fmt.Sprintf("Quest %d scene %d", d.QuestNumber, d.Sequence)
	}
	sc := &cascade.Scene{
		ID:                id,
		CampaignID:        cid,
		Title:             title,
		QuestNumber:       d.QuestNumber,
		Sequence:          d.Sequence,
		EncounterType:     cascade.NormalizeEncounter(d.EncounterType),
		IsRequired:        required,
		Dimensions:        cleanList(d.Dimensions),
		RequiredKnowledge: cleanNeeds(d.RequiredKnowledge),
		ProvidedKnowledge: cleanList(d.ProvidedKnowledge),
		RequiredItems:     cleanNeeds(d.RequiredItems),
		ProvidedItems:     cleanList(d.ProvidedItems),
	}
	sc.Fingerprint = cascade.Fingerprint(
		sc.Title,
		strconv.Itoa(sc.QuestNumber),
		strconv.Itoa(sc.Sequence),
		string(sc.EncounterType),
		strconv.FormatBool(sc.IsRequired),
		strings.Join(sc.Dimensions, ","),
		needsKey(sc.RequiredKnowledge),
		strings.Join(sc.ProvidedKnowledge, ","),
		needsKey(sc.RequiredItems),
		strings.Join(sc.ProvidedItems, ","),
		strings.Join(cleanList(d.ObjectiveIDs), ","),
		strings.Join(cleanList(d.Next), ","),
		strings.Join(cleanList(d.AlternativePaths), ","),
	)
	return sc
}

// inferObjectives links an untagged scene to quest objectives of its quest
// whose required domains or categories the scene provides.
func inferObjectives(g *cascade.Graph, sc *cascade.Scene) []string {
	var out []string
	for _, qo := range g.SortedQuestObjectives() {
		if qo.QuestNumber != sc.QuestNumber {
			continue
		}
		if intersects(qo.RequiredKnowledge, sc.ProvidedKnowledge) || intersects(qo.RequiredItems, sc.ProvidedItems) {
			out = append(out, qo.ID)
		}
	}
	return out
}

func sceneKnown(g *cascade.Graph, drafts map[string]SceneDraft, id string) bool {
	if _, ok := drafts[id]; ok {
		return true
	}
	return g.Scenes[id] != nil
}

func sameEdges(have, want []cascade.Edge) bool {
	if len(have) != len(want) {
		return false
	}
	keys := make(map[string]bool, len(have))
	for _, e := range have {
		keys[e.Key()] = true
	}
	for _, e := range want {
		if !keys[e.Key()] {
			return false
		}
	}
	return true
}

func cleanNeeds(in []cascade.ResourceNeed) []cascade.ResourceNeed {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]cascade.ResourceNeed, 0, len(in))
	for _, n := range in {
		n.Category = strings.TrimSpace(n.Category)
		k := normKey(n.Category)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func needsKey(in []cascade.ResourceNeed) string {
	parts := make([]string, 0, len(in))
	for _, n := range in {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", n.Category, n.MinLevel, n.Quantity))
	}
	return strings.Join(parts, ",")
}

func objectiveIDs(g *cascade.Graph) []string {
	out := make([]string, 0, len(g.CampaignObjectives)+len(g.QuestObjectives))
	for _, co := range g.SortedCampaignObjectives() {
		out = append(out, co.ID)
	}
	for _, qo := range g.SortedQuestObjectives() {
		out = append(out, qo.ID)
	}
	return out
}
