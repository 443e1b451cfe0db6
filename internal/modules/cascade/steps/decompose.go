package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

// QuestObjectiveDraft is a generator-proposed sub-objective. QuestHint pins it
// to a quest when it does not overflow the per-quest cap.
type QuestObjectiveDraft struct {
	Description       string                     `json:"description"`
	BloomLevel        int                        `json:"bloom_level"`
	QuestHint         int                        `json:"quest_hint,omitempty"`
	RequiredKnowledge []string                   `json:"required_knowledge,omitempty"`
	RequiredItems     []string                   `json:"required_items,omitempty"`
	SuccessCriteria   []cascade.SuccessCriterion `json:"success_criteria,omitempty"`
	Optional          bool                       `json:"optional,omitempty"`
}

type CampaignObjectiveDraft struct {
	Description       string                     `json:"description"`
	BloomLevel        int                        `json:"bloom_level"`
	MinQuestsRequired int                        `json:"min_quests_required,omitempty"`
	RequiredKnowledge []string                   `json:"required_knowledge,omitempty"`
	RequiredItems     []string                   `json:"required_items,omitempty"`
	SuccessCriteria   []cascade.SuccessCriterion `json:"success_criteria,omitempty"`
	QuestObjectives   []QuestObjectiveDraft      `json:"quest_objectives,omitempty"`
}

type DecomposeRequest struct {
	CampaignID         string                   `json:"campaign_id"`
	QuestCount         int                      `json:"quest_count"`
	CampaignObjectives []CampaignObjectiveDraft `json:"campaign_objectives"`
	// FreeStanding quest objectives have no parent campaign objective.
	FreeStanding []QuestObjectiveDraft `json:"free_standing,omitempty"`
}

type ObjectiveDecomposition struct {
	CampaignObjective *cascade.CampaignObjective `json:"campaign_objective"`
	QuestObjectives   []*cascade.QuestObjective  `json:"quest_objectives"`
}

type DecomposeDeps struct {
	Log                *logger.Logger
	MaxQuestObjectives int
	Now                func() time.Time
}

type DecomposeInput struct {
	Request DecomposeRequest
	Current *cascade.Graph
}

type DecomposeOutput struct {
	Decompositions []ObjectiveDecomposition `json:"decompositions"`
	FreeStanding   []*cascade.QuestObjective `json:"free_standing,omitempty"`
	Mutation       *cascade.Mutation         `json:"-"`
}

var bloomVerbs = [...]string{"", "Recall", "Explain", "Apply", "Analyze", "Evaluate", "Create"}

const minQuestObjectives = 2

// pendingQO is a draft waiting for a quest number.
type pendingQO struct {
	parent int
	draft  QuestObjectiveDraft
}

// Decompose expands campaign objectives into quest objectives and distributes
// them across quests 1..N round-robin, capping each quest at ceil(total/N)+1.
func Decompose(ctx context.Context, deps DecomposeDeps, in DecomposeInput) (DecomposeOutput, error) {
	out := DecomposeOutput{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	req := in.Request
	cid := strings.TrimSpace(req.CampaignID)
	if cid == "" {
		return out, cascade.InvalidArgumentError("decompose", "campaign id required")
	}
	if len(req.CampaignObjectives) == 0 && len(req.FreeStanding) == 0 {
		return out, cascade.InvalidArgumentError("decompose", "no campaign objectives supplied")
	}
	n := req.QuestCount
	maxQO := deps.MaxQuestObjectives
	if maxQO < minQuestObjectives {
		maxQO = 3
	}
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	cur := in.Current
	if cur == nil {
		cur = cascade.NewGraph(cid)
	}

	var pending []pendingQO
	cos := make([]*cascade.CampaignObjective, 0, len(req.CampaignObjectives))
	seenCO := map[string]bool{}
	for i, d := range req.CampaignObjectives {
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			return out, cascade.InvalidArgumentError("decompose", "campaign objective %d has no description", i)
		}
		if n < minQuestObjectives {
			return out, cascade.DecompositionError("decompose",
				"objective %q cannot be split into %d quest objectives across %d quest(s)", desc, minQuestObjectives, n)
		}
		co := &cascade.CampaignObjective{
			ID:                cascade.CampaignObjectiveID(cid, desc),
			CampaignID:        cid,
			Description:       desc,
			BloomLevel:        clampBloom(d.BloomLevel),
			Status:            cascade.StatusNotStarted,
			MinQuestsRequired: d.MinQuestsRequired,
			SuccessCriteria:   cascade.CloneCriteria(d.SuccessCriteria),
			RequiredKnowledge: cleanList(d.RequiredKnowledge),
			RequiredItems:     cleanList(d.RequiredItems),
		}
		if seenCO[co.ID] {
			return out, cascade.InvalidArgumentError("decompose", "duplicate campaign objective %q", desc)
		}
		seenCO[co.ID] = true
		if existing := cur.CampaignObjectives[co.ID]; existing != nil {
			co.Status = existing.Status
		}

		drafts := cleanDrafts(d.QuestObjectives)
		if len(drafts) == 0 {
			drafts = scaffold(co, min(maxQO, n))
		}
		if len(drafts) > maxQO {
			deps.Log.Warn("decompose: truncating quest objective drafts",
				"campaign_id", cid, "objective", desc, "drafts", len(drafts), "max", maxQO)
			drafts = drafts[:maxQO]
		}
		if len(drafts) < minQuestObjectives {
			return out, cascade.DecompositionError("decompose",
				"objective %q yields %d quest objective(s); need at least %d", desc, len(drafts), minQuestObjectives)
		}
		for _, qd := range drafts {
			pending = append(pending, pendingQO{parent: len(cos), draft: qd})
		}
		cos = append(cos, co)
	}
	for _, qd := range cleanDrafts(req.FreeStanding) {
		pending = append(pending, pendingQO{parent: -1, draft: qd})
	}
	if n < 1 {
		return out, cascade.DecompositionError("decompose", "quest count must be at least 1, got %d", n)
	}

	quests := distribute(pending, n)

	m := &cascade.Mutation{Stage: cascade.StageDecompose}
	children := make([][]*cascade.QuestObjective, len(cos))
	keepQO := map[string]bool{}
	for i, p := range pending {
		d := p.draft
		qo := &cascade.QuestObjective{
			ID:                cascade.QuestObjectiveID(cid, quests[i], d.Description),
			CampaignID:        cid,
			Description:       strings.TrimSpace(d.Description),
			BloomLevel:        clampBloom(d.BloomLevel),
			QuestNumber:       quests[i],
			Status:            cascade.StatusNotStarted,
			Optional:          d.Optional,
			SuccessCriteria:   cascade.CloneCriteria(d.SuccessCriteria),
			RequiredKnowledge: cleanList(d.RequiredKnowledge),
			RequiredItems:     cleanList(d.RequiredItems),
		}
		if p.parent >= 0 {
			qo.ParentID = cos[p.parent].ID
		} else {
			qo.FreeStanding = true
		}
		if keepQO[qo.ID] {
			continue
		}
		if len(qo.SuccessCriteria) == 0 {
			qo.SuccessCriteria = defaultQuestCriteria(qo)
		}
		if existing := cur.QuestObjectives[qo.ID]; existing != nil {
			qo.Status = existing.Status
			qo.SuccessCriteria = keepResolved(existing.SuccessCriteria, qo.SuccessCriteria)
		}
		keepQO[qo.ID] = true
		m.QuestObjectives = append(m.QuestObjectives, qo)
		if p.parent >= 0 {
			children[p.parent] = append(children[p.parent], qo)
		} else {
			out.FreeStanding = append(out.FreeStanding, qo)
		}
	}

	for i, co := range cos {
		kids := children[i]
		if len(kids) < minQuestObjectives {
			return out, cascade.DecompositionError("decompose",
				"objective %q yields %d distinct quest objective(s); need at least %d", co.Description, len(kids), minQuestObjectives)
		}
		if co.MinQuestsRequired <= 0 {
			co.MinQuestsRequired = distinctQuests(kids)
		}
		if len(co.SuccessCriteria) == 0 {
			co.SuccessCriteria = defaultCampaignCriteria(kids)
		}
		if existing := cur.CampaignObjectives[co.ID]; existing != nil {
			co.SuccessCriteria = keepResolved(existing.SuccessCriteria, co.SuccessCriteria)
		}
		m.CampaignObjectives = append(m.CampaignObjectives, co)
		m.Replace = append(m.Replace, cascade.EdgeScope{From: co.ID, Label: cascade.LabelCampaignObjective, Types: []cascade.RelType{cascade.RelDecomposesTo}})
		for _, qo := range kids {
			m.Replace = append(m.Replace, cascade.EdgeScope{From: qo.ID, Label: cascade.LabelQuestObjective, Types: []cascade.RelType{cascade.RelSupports}})
			m.Edges = append(m.Edges,
				cascade.Edge{Type: cascade.RelDecomposesTo, From: co.ID, To: qo.ID},
				cascade.Edge{Type: cascade.RelSupports, From: qo.ID, To: co.ID},
			)
		}
		out.Decompositions = append(out.Decompositions, ObjectiveDecomposition{CampaignObjective: co, QuestObjectives: kids})
	}
	for _, qo := range out.FreeStanding {
		m.Replace = append(m.Replace, cascade.EdgeScope{From: qo.ID, Label: cascade.LabelQuestObjective, Types: []cascade.RelType{cascade.RelSupports}})
	}

	// The request is the campaign's full objective set; anything else is stale.
	for _, co := range cur.SortedCampaignObjectives() {
		if !seenCO[co.ID] {
			m.Remove = append(m.Remove, cascade.NodeRef{Label: cascade.LabelCampaignObjective, ID: co.ID})
		}
	}
	for _, qo := range cur.SortedQuestObjectives() {
		if !keepQO[qo.ID] {
			m.Remove = append(m.Remove, cascade.NodeRef{Label: cascade.LabelQuestObjective, ID: qo.ID})
		}
	}

	addProgress := func(id string) {
		if cur.Progress[id] != nil {
			return
		}
		m.Progress = append(m.Progress, &cascade.ObjectiveProgress{
			ObjectiveID: id,
			Status:      cascade.StatusNotStarted,
			UpdatedAt:   now,
		})
	}
	for _, co := range m.CampaignObjectives {
		addProgress(co.ID)
	}
	for _, qo := range m.QuestObjectives {
		addProgress(qo.ID)
	}

	pruneUnchanged(cur, m)
	out.Mutation = m
	deps.Log.Info("decompose: computed",
		"campaign_id", cid,
		"campaign_objectives", len(m.CampaignObjectives),
		"quest_objectives", len(m.QuestObjectives),
		"removed", len(m.Remove),
	)
	return out, nil
}

// distribute assigns a quest number to every pending objective in order.
// Unhinted objectives take the next quest round-robin; any pick that would
// exceed the cap rolls to the least-loaded quest (lowest number on ties).
func distribute(pending []pendingQO, n int) []int {
	total := len(pending)
	capPerQuest := (total+n-1)/n + 1
	load := make([]int, n+1)
	next := 1
	out := make([]int, total)
	for i, p := range pending {
		q := p.draft.QuestHint
		if q < 1 || q > n {
			q = next
			next = next%n + 1
		}
		if load[q] >= capPerQuest {
			q = leastLoaded(load)
		}
		load[q]++
		out[i] = q
	}
	return out
}

func leastLoaded(load []int) int {
	best := 1
	for q := 2; q < len(load); q++ {
		if load[q] < load[best] {
			best = q
		}
	}
	return best
}

// scaffold derives k sub-objectives climbing the Bloom ladder up to the
// parent's level and spreads the parent's required domains across them.
func scaffold(co *cascade.CampaignObjective, k int) []QuestObjectiveDraft {
	if k <= 0 {
		return nil
	}
	top := co.BloomLevel
	if top < k {
		top = k
	}
	out := make([]QuestObjectiveDraft, k)
	for i := range out {
		lvl := clampBloom(top - (k - 1 - i))
		out[i] = QuestObjectiveDraft{
			Description: fmt.Sprintf("%s: %s", bloomVerbs[lvl], co.Description),
			BloomLevel:  lvl,
		}
	}
	for j, dom := range co.RequiredKnowledge {
		out[j%k].RequiredKnowledge = append(out[j%k].RequiredKnowledge, dom)
	}
	for j, cat := range co.RequiredItems {
		out[j%k].RequiredItems = append(out[j%k].RequiredItems, cat)
	}
	return out
}

func cleanDrafts(in []QuestObjectiveDraft) []QuestObjectiveDraft {
	out := make([]QuestObjectiveDraft, 0, len(in))
	for _, d := range in {
		if strings.TrimSpace(d.Description) == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func defaultQuestCriteria(qo *cascade.QuestObjective) []cascade.SuccessCriterion {
	var out []cascade.SuccessCriterion
	for _, dom := range qo.RequiredKnowledge {
		out = append(out, cascade.SuccessCriterion{Kind: cascade.CriterionKnowledgeLevel, Category: dom, MinLevel: 1})
	}
	for _, cat := range qo.RequiredItems {
		out = append(out, cascade.SuccessCriterion{Kind: cascade.CriterionItemQuantity, Category: cat, Quantity: 1})
	}
	if len(out) == 0 {
		out = append(out, cascade.SuccessCriterion{Kind: cascade.CriterionSceneCompletion, MinScenes: 1})
	}
	return out
}

func defaultCampaignCriteria(kids []*cascade.QuestObjective) []cascade.SuccessCriterion {
	ids := make([]string, 0, len(kids))
	for _, qo := range kids {
		if !qo.Optional {
			ids = append(ids, qo.ID)
		}
	}
	if len(ids) == 0 {
		for _, qo := range kids {
			ids = append(ids, qo.ID)
		}
	}
	sort.Strings(ids)
	return []cascade.SuccessCriterion{{Kind: cascade.CriterionObjectiveCompletion, ObjectiveIDs: ids}}
}

func distinctQuests(kids []*cascade.QuestObjective) int {
	seen := map[int]bool{}
	for _, qo := range kids {
		if !qo.Optional {
			seen[qo.QuestNumber] = true
		}
	}
	return len(seen)
}

// keepResolved returns the existing criteria when they differ from fresh only
// in resource ids the mapper resolved, so re-decomposing is a no-op.
func keepResolved(existing, fresh []cascade.SuccessCriterion) []cascade.SuccessCriterion {
	if len(existing) != len(fresh) {
		return fresh
	}
	for i := range fresh {
		a, b := existing[i], fresh[i]
		if a.Kind != b.Kind || a.Category != b.Category || a.MinLevel != b.MinLevel || a.Quantity != b.Quantity ||
			a.MinScenes != b.MinScenes || !equalStrings(a.SceneIDs, b.SceneIDs) || !equalStrings(a.ObjectiveIDs, b.ObjectiveIDs) {
			return fresh
		}
		if len(b.ResourceIDs) > 0 && !equalStrings(a.ResourceIDs, b.ResourceIDs) {
			return fresh
		}
	}
	return cascade.CloneCriteria(existing)
}

func clampBloom(lvl int) int {
	switch {
	case lvl < 1:
		return 3
	case lvl > 6:
		return 6
	default:
		return lvl
	}
}

// pruneUnchanged drops node upserts and edge scopes that already match the
// committed graph, so re-running with the same request commits nothing.
func pruneUnchanged(cur *cascade.Graph, m *cascade.Mutation) {
	cos := m.CampaignObjectives[:0]
	for _, co := range m.CampaignObjectives {
		if old := cur.CampaignObjectives[co.ID]; old == nil || !sameCampaignObjective(old, co) {
			cos = append(cos, co)
		}
	}
	m.CampaignObjectives = cos

	qos := m.QuestObjectives[:0]
	for _, qo := range m.QuestObjectives {
		if old := cur.QuestObjectives[qo.ID]; old == nil || !sameQuestObjective(old, qo) {
			qos = append(qos, qo)
		}
	}
	m.QuestObjectives = qos

	var scopes []cascade.EdgeScope
	drop := map[string]bool{}
	for _, sc := range m.Replace {
		var want []cascade.Edge
		for _, e := range m.Edges {
			if e.From == sc.From && hasType(sc.Types, e.Type) {
				want = append(want, e)
			}
		}
		if cur.HasNode(sc.From) && identicalEdges(cur.Out(sc.From, sc.Types...), want) {
			for _, e := range want {
				drop[e.Key()] = true
			}
			continue
		}
		scopes = append(scopes, sc)
	}
	m.Replace = scopes
	edges := m.Edges[:0]
	for _, e := range m.Edges {
		if !drop[e.Key()] {
			edges = append(edges, e)
		}
	}
	m.Edges = edges
}

func hasType(types []cascade.RelType, t cascade.RelType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func sameCampaignObjective(a, b *cascade.CampaignObjective) bool {
	return a.Description == b.Description && a.BloomLevel == b.BloomLevel && a.Status == b.Status &&
		a.MinQuestsRequired == b.MinQuestsRequired &&
		equalStrings(a.RequiredKnowledge, b.RequiredKnowledge) && equalStrings(a.RequiredItems, b.RequiredItems) &&
		sameCriteria(a.SuccessCriteria, b.SuccessCriteria)
}

func sameQuestObjective(a, b *cascade.QuestObjective) bool {
	return a.ParentID == b.ParentID && a.Description == b.Description && a.BloomLevel == b.BloomLevel &&
		a.QuestNumber == b.QuestNumber && a.Status == b.Status && a.Optional == b.Optional &&
		a.FreeStanding == b.FreeStanding &&
		equalStrings(a.RequiredKnowledge, b.RequiredKnowledge) && equalStrings(a.RequiredItems, b.RequiredItems) &&
		sameCriteria(a.SuccessCriteria, b.SuccessCriteria)
}

func sameCriteria(a, b []cascade.SuccessCriterion) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Kind != y.Kind || x.Category != y.Category || x.MinLevel != y.MinLevel || x.Quantity != y.Quantity ||
			x.MinScenes != y.MinScenes || !equalStrings(x.ResourceIDs, y.ResourceIDs) ||
			!equalStrings(x.SceneIDs, y.SceneIDs) || !equalStrings(x.ObjectiveIDs, y.ObjectiveIDs) {
			return false
		}
	}
	return true
}
