package cascade

import (
	"sort"
	"time"
)

// Stage names one step of the offline generation pipeline.
type Stage string

const (
	StageDecompose Stage = "decompose"
	StageAssign    Stage = "assign"
	StageMap       Stage = "map_resources"
	StageValidate  Stage = "validate"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageDecompose, StageAssign, StageMap, StageValidate}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Edge is one directed relationship. Property fields are zero when unused.
type Edge struct {
	Type     RelType `json:"type"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	MinLevel int     `json:"min_level,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Category string  `json:"category,omitempty"`
}

func (e Edge) Key() string { return string(e.Type) + "|" + e.From + "|" + e.To }

// EdgeScope selects the outgoing edges of one node that a mutation replaces.
type EdgeScope struct {
	From  string    `json:"from"`
	Label string    `json:"label"`
	Types []RelType `json:"types"`
}

// NodeRef names a node by label and id.
type NodeRef struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// Mutation is the atomic write unit of one pipeline stage for one campaign.
// Application order: removals, node upserts, scoped edge replacement, edge upserts.
type Mutation struct {
	Stage              Stage
	Remove             []NodeRef
	CampaignObjectives []*CampaignObjective
	QuestObjectives    []*QuestObjective
	Scenes             []*Scene
	Knowledge          []*Knowledge
	Items              []*Item
	Progress           []*ObjectiveProgress
	Replace            []EdgeScope
	Edges              []Edge
}

// Empty reports whether applying m would change nothing.
func (m *Mutation) Empty() bool {
	if m == nil {
		return true
	}
	return len(m.Remove) == 0 && len(m.CampaignObjectives) == 0 && len(m.QuestObjectives) == 0 &&
		len(m.Scenes) == 0 && len(m.Knowledge) == 0 && len(m.Items) == 0 && len(m.Progress) == 0 &&
		len(m.Replace) == 0 && len(m.Edges) == 0
}

// Graph is an immutable snapshot of one campaign's cascade graph with
// indexed forward and reverse edge lookups. Callers must not mutate the
// nodes it returns; use Apply to derive a new snapshot.
type Graph struct {
	CampaignID  string
	Version     int64
	CommittedAt time.Time

	CampaignObjectives map[string]*CampaignObjective
	QuestObjectives    map[string]*QuestObjective
	Scenes             map[string]*Scene
	Knowledge          map[string]*Knowledge
	Items              map[string]*Item
	Progress           map[string]*ObjectiveProgress

	edges map[string]Edge
	out   map[string]map[RelType][]Edge
	in    map[string]map[RelType][]Edge
}

func NewGraph(campaignID string) *Graph {
	g := &Graph{
		CampaignID:         campaignID,
		CampaignObjectives: map[string]*CampaignObjective{},
		QuestObjectives:    map[string]*QuestObjective{},
		Scenes:             map[string]*Scene{},
		Knowledge:          map[string]*Knowledge{},
		Items:              map[string]*Item{},
		Progress:           map[string]*ObjectiveProgress{},
		edges:              map[string]Edge{},
	}
	g.reindex()
	return g
}

// BuildGraph assembles a snapshot from loaded nodes and edges. Edges whose
// endpoints are missing are dropped.
func BuildGraph(campaignID string, version int64, m *Mutation) *Graph {
	g := NewGraph(campaignID).Apply(m)
	g.Version = version
	return g
}

// Empty reports whether nothing has been committed for the campaign.
func (g *Graph) Empty() bool {
	return g == nil || (len(g.CampaignObjectives) == 0 && len(g.QuestObjectives) == 0 && len(g.Scenes) == 0 &&
		len(g.Knowledge) == 0 && len(g.Items) == 0)
}

// HasNode reports whether id names any content node.
func (g *Graph) HasNode(id string) bool {
	return g.LabelOf(id) != ""
}

// LabelOf returns the node label of id, or "".
func (g *Graph) LabelOf(id string) string {
	switch {
	case g.CampaignObjectives[id] != nil:
		return LabelCampaignObjective
	case g.QuestObjectives[id] != nil:
		return LabelQuestObjective
	case g.Scenes[id] != nil:
		return LabelScene
	case g.Knowledge[id] != nil:
		return LabelKnowledge
	case g.Items[id] != nil:
		return LabelItem
	default:
		return ""
	}
}

// IsObjective reports whether id is a campaign or quest objective.
func (g *Graph) IsObjective(id string) bool {
	return g.CampaignObjectives[id] != nil || g.QuestObjectives[id] != nil
}

// Out returns outgoing edges of the given types in deterministic order.
func (g *Graph) Out(from string, types ...RelType) []Edge {
	return collect(g.out[from], types)
}

// In returns incoming edges of the given types in deterministic order.
func (g *Graph) In(to string, types ...RelType) []Edge {
	return collect(g.in[to], types)
}

// Edges returns every edge sorted by key.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// EdgeCount returns the number of edges of type t.
func (g *Graph) EdgeCount(t RelType) int {
	n := 0
	for _, e := range g.edges {
		if e.Type == t {
			n++
		}
	}
	return n
}

// SortedCampaignObjectives orders campaign objectives by id.
func (g *Graph) SortedCampaignObjectives() []*CampaignObjective {
	out := make([]*CampaignObjective, 0, len(g.CampaignObjectives))
	for _, o := range g.CampaignObjectives {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedQuestObjectives orders quest objectives by quest number, then id.
func (g *Graph) SortedQuestObjectives() []*QuestObjective {
	out := make([]*QuestObjective, 0, len(g.QuestObjectives))
	for _, o := range g.QuestObjectives {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestNumber != out[j].QuestNumber {
			return out[i].QuestNumber < out[j].QuestNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortedScenes orders scenes by sequence, then id.
func (g *Graph) SortedScenes() []*Scene {
	out := make([]*Scene, 0, len(g.Scenes))
	for _, s := range g.Scenes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return SceneLess(out[i], out[j]) })
	return out
}

// SceneLess is the canonical scene order: lowest sequence, then lowest id.
func SceneLess(a, b *Scene) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ID < b.ID
}

// Apply returns a new snapshot with m applied; g is left untouched.
func (g *Graph) Apply(m *Mutation) *Graph {
	next := g.clone()
	if m == nil {
		return next
	}
	for _, ref := range m.Remove {
		next.removeNode(ref.ID)
	}
	for _, o := range m.CampaignObjectives {
		if o != nil && o.ID != "" {
			c := *o
			c.SuccessCriteria = CloneCriteria(o.SuccessCriteria)
			c.RequiredKnowledge = cloneStrings(o.RequiredKnowledge)
			c.RequiredItems = cloneStrings(o.RequiredItems)
			next.CampaignObjectives[o.ID] = &c
		}
	}
	for _, o := range m.QuestObjectives {
		if o != nil && o.ID != "" {
			c := *o
			c.SuccessCriteria = CloneCriteria(o.SuccessCriteria)
			c.RequiredKnowledge = cloneStrings(o.RequiredKnowledge)
			c.RequiredItems = cloneStrings(o.RequiredItems)
			next.QuestObjectives[o.ID] = &c
		}
	}
	for _, s := range m.Scenes {
		if s != nil && s.ID != "" {
			c := *s
			c.Dimensions = cloneStrings(s.Dimensions)
			c.ProvidedKnowledge = cloneStrings(s.ProvidedKnowledge)
			c.ProvidedItems = cloneStrings(s.ProvidedItems)
			c.RequiredKnowledge = append([]ResourceNeed(nil), s.RequiredKnowledge...)
			c.RequiredItems = append([]ResourceNeed(nil), s.RequiredItems...)
			next.Scenes[s.ID] = &c
		}
	}
	for _, k := range m.Knowledge {
		if k != nil && k.ID != "" {
			c := *k
			c.Tags = cloneStrings(k.Tags)
			next.Knowledge[k.ID] = &c
		}
	}
	for _, it := range m.Items {
		if it != nil && it.ID != "" {
			c := *it
			c.Tags = cloneStrings(it.Tags)
			next.Items[it.ID] = &c
		}
	}
	for _, p := range m.Progress {
		if p != nil && p.ObjectiveID != "" {
			c := *p
			c.SupportingScenes = cloneStrings(p.SupportingScenes)
			c.ResourcesRequired = cloneStrings(p.ResourcesRequired)
			c.ResourcesSatisfied = cloneStrings(p.ResourcesSatisfied)
			next.Progress[p.ObjectiveID] = &c
		}
	}
	for _, sc := range m.Replace {
		types := map[RelType]bool{}
		for _, t := range sc.Types {
			types[t] = true
		}
		for k, e := range next.edges {
			if e.From == sc.From && types[e.Type] {
				delete(next.edges, k)
			}
		}
	}
	for _, e := range m.Edges {
		if !next.HasNode(e.From) || !next.HasNode(e.To) {
			continue
		}
		next.edges[e.Key()] = e
	}
	next.reindex()
	return next
}

func (g *Graph) removeNode(id string) {
	delete(g.CampaignObjectives, id)
	delete(g.QuestObjectives, id)
	delete(g.Scenes, id)
	delete(g.Knowledge, id)
	delete(g.Items, id)
	delete(g.Progress, id)
	for k, e := range g.edges {
		if e.From == id || e.To == id {
			delete(g.edges, k)
		}
	}
}

// clone copies the maps; node pointers are shared because snapshots never mutate them.
func (g *Graph) clone() *Graph {
	next := &Graph{
		CampaignID:         g.CampaignID,
		Version:            g.Version,
		CommittedAt:        g.CommittedAt,
		CampaignObjectives: make(map[string]*CampaignObjective, len(g.CampaignObjectives)),
		QuestObjectives:    make(map[string]*QuestObjective, len(g.QuestObjectives)),
		Scenes:             make(map[string]*Scene, len(g.Scenes)),
		Knowledge:          make(map[string]*Knowledge, len(g.Knowledge)),
		Items:              make(map[string]*Item, len(g.Items)),
		Progress:           make(map[string]*ObjectiveProgress, len(g.Progress)),
		edges:              make(map[string]Edge, len(g.edges)),
	}
	for k, v := range g.CampaignObjectives {
		next.CampaignObjectives[k] = v
	}
	for k, v := range g.QuestObjectives {
		next.QuestObjectives[k] = v
	}
	for k, v := range g.Scenes {
		next.Scenes[k] = v
	}
	for k, v := range g.Knowledge {
		next.Knowledge[k] = v
	}
	for k, v := range g.Items {
		next.Items[k] = v
	}
	for k, v := range g.Progress {
		next.Progress[k] = v
	}
	for k, v := range g.edges {
		next.edges[k] = v
	}
	return next
}

func (g *Graph) reindex() {
	g.out = map[string]map[RelType][]Edge{}
	g.in = map[string]map[RelType][]Edge{}
	for _, e := range g.Edges() {
		if g.out[e.From] == nil {
			g.out[e.From] = map[RelType][]Edge{}
		}
		if g.in[e.To] == nil {
			g.in[e.To] = map[RelType][]Edge{}
		}
		g.out[e.From][e.Type] = append(g.out[e.From][e.Type], e)
		g.in[e.To][e.Type] = append(g.in[e.To][e.Type], e)
	}
}

func collect(byType map[RelType][]Edge, types []RelType) []Edge {
	if len(byType) == 0 {
		return nil
	}
	var out []Edge
	for _, t := range types {
		out = append(out, byType[t]...)
	}
	if len(types) > 1 {
		sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	}
	return out
}
