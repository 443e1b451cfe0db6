package progress

import (
	"sync"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

// CriterionMet reports whether p satisfies one criterion of objective oid.
func CriterionMet(g *cascade.Graph, p *cascade.PlayerProgress, oid string, c cascade.SuccessCriterion) bool {
	switch c.Kind {
	case cascade.CriterionKnowledgeLevel:
		for _, id := range c.ResourceIDs {
			if p.Knowledge[id] >= max(c.MinLevel, 1) {
				return true
			}
		}
		return false
	case cascade.CriterionItemQuantity:
		for _, id := range c.ResourceIDs {
			if p.Items[id] >= max(c.Quantity, 1) {
				return true
			}
		}
		return false
	case cascade.CriterionSceneCompletion:
		if len(c.SceneIDs) > 0 {
			return allCompleted(p, c.SceneIDs)
		}
		done := 0
		for _, e := range g.In(oid, cascade.RelAdvances) {
			if p.CompletedScenes[e.From] {
				done++
			}
		}
		return done >= max(c.MinScenes, 1)
	case cascade.CriterionObjectiveCompletion:
		for _, id := range c.ObjectiveIDs {
			if !p.ObjectiveCompleted(id) {
				return false
			}
		}
		return len(c.ObjectiveIDs) > 0
	default:
		return false
	}
}

// requiredScenes lists the required scenes advancing oid.
func requiredScenes(g *cascade.Graph, oid string) []string {
	var out []string
	for _, e := range g.In(oid, cascade.RelAdvances) {
		if sc := g.Scenes[e.From]; sc != nil && sc.IsRequired {
			out = append(out, sc.ID)
		}
	}
	return out
}

// Evaluate returns how many of the objective's criteria p meets. An
// objective with criteria and required advancing scenes counts those scenes
// as one more criterion, met once every one of them is completed.
func Evaluate(g *cascade.Graph, p *cascade.PlayerProgress, oid string) (met, total int) {
	var crit []cascade.SuccessCriterion
	if co := g.CampaignObjectives[oid]; co != nil {
		crit = co.SuccessCriteria
	} else if qo := g.QuestObjectives[oid]; qo != nil {
		crit = qo.SuccessCriteria
	}
	for _, c := range crit {
		total++
		if CriterionMet(g, p, oid, c) {
			met++
		}
	}
	if total == 0 {
		return 0, 0
	}
	if req := requiredScenes(g, oid); len(req) > 0 {
		total++
		if allCompleted(p, req) {
			met++
		}
	}
	return met, total
}

func allCompleted(p *cascade.PlayerProgress, scenes []string) bool {
	for _, id := range scenes {
		if !p.CompletedScenes[id] {
			return false
		}
	}
	return true
}

// Derive fills partial objective states (not_started / in_progress with a
// percentage) for every objective the player has not completed.
func Derive(g *cascade.Graph, p *cascade.PlayerProgress) {
	for id := range g.CampaignObjectives {
		derive(g, p, id)
	}
	for id := range g.QuestObjectives {
		derive(g, p, id)
	}
}

func derive(g *cascade.Graph, p *cascade.PlayerProgress, id string) {
	if p.ObjectiveCompleted(id) {
		return
	}
	met, total := Evaluate(g, p, id)
	if total == 0 {
		p.SetObjectiveState(id, cascade.StatusNotStarted, 0)
		return
	}
	status := cascade.StatusNotStarted
	if met > 0 {
		status = cascade.StatusInProgress
	}
	p.SetObjectiveState(id, status, float64(met)*100/float64(total))
}

func resourceKey(kind cascade.ResourceKind, id string) string { return string(kind) + ":" + id }
func sceneKey(id string) string                                { return "scene:" + id }
func objectiveKey(id string) string                            { return "objective:" + id }

// affectIndex maps an event subject to the objectives whose criteria it can
// change, so recomputation stays local to those objectives.
type affectIndex struct {
	version int64
	byKey   map[string][]string
}

func buildAffectIndex(g *cascade.Graph) *affectIndex {
	set := map[string]map[string]bool{}
	add := func(key, oid string) {
		if set[key] == nil {
			set[key] = map[string]bool{}
		}
		set[key][oid] = true
	}
	index := func(oid string, crit []cascade.SuccessCriterion) {
		if len(crit) > 0 {
			for _, id := range requiredScenes(g, oid) {
				add(sceneKey(id), oid)
			}
		}
		for _, c := range crit {
			switch c.Kind {
			case cascade.CriterionKnowledgeLevel:
				for _, id := range c.ResourceIDs {
					add(resourceKey(cascade.KindKnowledge, id), oid)
				}
			case cascade.CriterionItemQuantity:
				for _, id := range c.ResourceIDs {
					add(resourceKey(cascade.KindItem, id), oid)
				}
			case cascade.CriterionSceneCompletion:
				if len(c.SceneIDs) > 0 {
					for _, id := range c.SceneIDs {
						add(sceneKey(id), oid)
					}
					continue
				}
				for _, e := range g.In(oid, cascade.RelAdvances) {
					add(sceneKey(e.From), oid)
				}
			case cascade.CriterionObjectiveCompletion:
				for _, id := range c.ObjectiveIDs {
					add(objectiveKey(id), oid)
				}
			}
		}
	}
	for _, co := range g.SortedCampaignObjectives() {
		index(co.ID, co.SuccessCriteria)
	}
	for _, qo := range g.SortedQuestObjectives() {
		index(qo.ID, qo.SuccessCriteria)
	}
	idx := &affectIndex{version: g.Version, byKey: make(map[string][]string, len(set))}
	for k, ids := range set {
		for id := range ids {
			idx.byKey[k] = append(idx.byKey[k], id)
		}
		sortStrings(idx.byKey[k])
	}
	return idx
}

func (x *affectIndex) affected(e cascade.ProgressEvent) []string {
	switch e.Kind {
	case cascade.EventSceneCompleted:
		return x.byKey[sceneKey(e.SceneID)]
	case cascade.EventKnowledgeAcquired:
		return x.byKey[resourceKey(cascade.KindKnowledge, e.KnowledgeID)]
	case cascade.EventItemAcquired:
		return x.byKey[resourceKey(cascade.KindItem, e.ItemID)]
	case cascade.EventObjectiveCompleted:
		return x.byKey[objectiveKey(e.ObjectiveID)]
	default:
		return nil
	}
}

type indexCache struct {
	mu      sync.Mutex
	entries map[string]*affectIndex
}

func (c *indexCache) get(g *cascade.Graph) *affectIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]*affectIndex{}
	}
	if idx := c.entries[g.CampaignID]; idx != nil && idx.version == g.Version {
		return idx
	}
	idx := buildAffectIndex(g)
	c.entries[g.CampaignID] = idx
	return idx
}
