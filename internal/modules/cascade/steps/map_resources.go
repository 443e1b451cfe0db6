package steps

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type KnowledgeDraft struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Domain   string   `json:"domain"`
	Tags     []string `json:"tags,omitempty"`
	MaxLevel int      `json:"max_level,omitempty"`
}

type ItemDraft struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

// MapResourcesRequest carries the campaign's full resource catalog.
type MapResourcesRequest struct {
	CampaignID string           `json:"campaign_id"`
	Knowledge  []KnowledgeDraft `json:"knowledge"`
	Items      []ItemDraft      `json:"items"`
}

type MatchStrategy string

const (
	StrategyExactMatch               MatchStrategy = "exact_match"
	StrategyDomainMatch              MatchStrategy = "domain_match"
	StrategyEvenDistributionFallback MatchStrategy = "even_distribution_fallback"
	StrategySpill                    MatchStrategy = "spill"
)

// Provision is one PROVIDES edge chosen by the mapper.
type Provision struct {
	SceneID    string               `json:"scene_id"`
	ResourceID string               `json:"resource_id"`
	Kind       cascade.ResourceKind `json:"kind"`
	Strategy   MatchStrategy        `json:"strategy"`
}

type MapDeps struct {
	Log                  *logger.Logger
	MaxResourcesPerScene int
	Now                  func() time.Time
}

type MapInput struct {
	Request MapResourcesRequest
	Current *cascade.Graph
}

type MapOutput struct {
	Provisions []Provision `json:"provisions"`
	// Overloaded lists scenes pushed past max_resources_per_scene because
	// every plausible provider was already full.
	Overloaded []string          `json:"overloaded,omitempty"`
	Mutation   *cascade.Mutation `json:"-"`
}

type resource struct {
	id       string
	name     string
	category string
	tags     []string
	kind     cascade.ResourceKind
	maxLevel int
}

// matchStrategy is one variant of the ordered resolution policy. Match
// returns the matching resources, or none.
type matchStrategy interface {
	Name() MatchStrategy
	Match(category string, pool []*resource) []*resource
}

type exactMatch struct{}

func (exactMatch) Name() MatchStrategy { return StrategyExactMatch }

func (exactMatch) Match(category string, pool []*resource) []*resource {
	key := normKey(category)
	var out []*resource
	for _, r := range pool {
		if normKey(r.name) == key {
			out = append(out, r)
		}
	}
	return out
}

type domainMatch struct{}

func (domainMatch) Name() MatchStrategy { return StrategyDomainMatch }

func (domainMatch) Match(category string, pool []*resource) []*resource {
	key := normKey(category)
	if key == "" {
		return nil
	}
	var out []*resource
	for _, r := range pool {
		cat := normKey(r.category)
		hit := cat != "" && (cat == key || strings.Contains(cat, key) || strings.Contains(key, cat))
		for _, t := range r.tags {
			if normKey(t) == key {
				hit = true
			}
		}
		if hit {
			out = append(out, r)
		}
	}
	return out
}

var resolutionOrder = []matchStrategy{exactMatch{}, domainMatch{}}

var resourceEdgeTypes = []cascade.RelType{
	cascade.RelProvidesKnowledge,
	cascade.RelProvidesItem,
	cascade.RelRequiresKnowledge,
	cascade.RelRequiresItem,
}

func resolve(category string, pool []*resource) ([]*resource, MatchStrategy) {
	for _, s := range resolutionOrder {
		if rs := s.Match(category, pool); len(rs) > 0 {
			return rs, s.Name()
		}
	}
	return nil, ""
}

type mapper struct {
	log      *logger.Logger
	limit    int
	scenes   []*cascade.Scene
	provides map[string]map[string]bool // resource -> scenes
	load     map[string]int             // scene -> distinct resources
	requires map[string]map[string]bool // resource -> requiring scenes
	rr       map[cascade.ResourceKind]int
	out      *MapOutput
}

// MapResources wires the catalog to scenes: PROVIDES edges from each scene's
// declared provision slots, REQUIRES edges from its declared needs, resolved
// resource ids on objective criteria, and fallback providers for any
// required resource still lacking one.
func MapResources(ctx context.Context, deps MapDeps, in MapInput) (MapOutput, error) {
	out := MapOutput{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	limit := deps.MaxResourcesPerScene
	if limit <= 0 {
		limit = 4
	}
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	cid := strings.TrimSpace(in.Request.CampaignID)
	if cid == "" {
		return out, cascade.InvalidArgumentError("map_resources", "campaign id required")
	}
	cur := in.Current
	if cur == nil || len(cur.Scenes) == 0 {
		return out, cascade.NotFoundError("map_resources", "campaign %s has no assigned scenes", cid)
	}

	m := &cascade.Mutation{Stage: cascade.StageMap}
	knowledge, items, err := catalog(cid, in.Request, cur, m)
	if err != nil {
		return out, err
	}
	keep := map[string]bool{}
	for _, r := range append(append([]*resource(nil), knowledge...), items...) {
		keep[r.id] = true
	}
	for _, k := range sortedResourceIDs(cur) {
		if !keep[k] {
			m.Remove = append(m.Remove, cascade.NodeRef{Label: cur.LabelOf(k), ID: k})
		}
	}

	mp := &mapper{
		log:      deps.Log,
		limit:    limit,
		scenes:   cur.SortedScenes(),
		provides: map[string]map[string]bool{},
		load:     map[string]int{},
		requires: map[string]map[string]bool{},
		rr:       map[cascade.ResourceKind]int{},
		out:      &out,
	}

	for _, sc := range mp.scenes {
		for _, cat := range sc.ProvidedKnowledge {
			rs, strat := resolve(cat, knowledge)
			for _, r := range rs {
				mp.provide(sc, r, strat)
			}
		}
		for _, cat := range sc.ProvidedItems {
			rs, strat := resolve(cat, items)
			for _, r := range rs {
				mp.provide(sc, r, strat)
			}
		}
	}

	type requirement struct {
		scene *cascade.Scene
		res   *resource
		need  cascade.ResourceNeed
	}
	var reqs []requirement
	seenReq := map[string]bool{}
	addReq := func(rq requirement) {
		k := rq.scene.ID + "|" + rq.res.id
		if !seenReq[k] {
			seenReq[k] = true
			reqs = append(reqs, rq)
		}
	}
	for _, sc := range mp.scenes {
		for _, need := range sc.RequiredKnowledge {
			rs, _ := resolve(need.Category, knowledge)
			if len(rs) == 0 {
				return out, cascade.UnmappableResourceError("map_resources",
					"no knowledge in the catalog satisfies %q required by scene %s", need.Category, sc.ID)
			}
			addReq(requirement{scene: sc, res: rs[0], need: need})
		}
		for _, need := range sc.RequiredItems {
			rs, _ := resolve(need.Category, items)
			if len(rs) == 0 {
				return out, cascade.UnmappableResourceError("map_resources",
					"no item in the catalog satisfies %q required by scene %s", need.Category, sc.ID)
			}
			addReq(requirement{scene: sc, res: rs[0], need: need})
		}
	}
	for _, rq := range reqs {
		mp.require(rq.res.id, rq.scene.ID)
	}

	// Criteria resolution: any one of the resolved resources satisfies a criterion.
	var needProvider []*resource
	resolveCriteria := func(oid string, crit []cascade.SuccessCriterion) ([]cascade.SuccessCriterion, bool, error) {
		next := cascade.CloneCriteria(crit)
		changed := false
		for i := range next {
			kind, ok := next[i].Resource()
			if !ok || next[i].Category == "" {
				continue
			}
			pool := knowledge
			if kind == cascade.KindItem {
				pool = items
			}
			rs, _ := resolve(next[i].Category, pool)
			if len(rs) == 0 {
				return nil, false, cascade.UnmappableResourceError("map_resources",
					"no %s in the catalog satisfies %q required by objective %s", kind, next[i].Category, oid)
			}
			ids := make([]string, 0, len(rs))
			provided := false
			for _, r := range rs {
				ids = append(ids, r.id)
				provided = provided || len(mp.provides[r.id]) > 0
			}
			if !provided {
				needProvider = append(needProvider, rs[0])
				for _, e := range cur.In(oid, cascade.RelAdvances) {
					mp.require(rs[0].id, e.From)
				}
			}
			if !equalStrings(next[i].ResourceIDs, ids) {
				next[i].ResourceIDs = ids
				changed = true
			}
		}
		return next, changed, nil
	}
	for _, co := range cur.SortedCampaignObjectives() {
		crit, changed, err := resolveCriteria(co.ID, co.SuccessCriteria)
		if err != nil {
			return out, err
		}
		if changed {
			c := *co
			c.SuccessCriteria = crit
			m.CampaignObjectives = append(m.CampaignObjectives, &c)
		}
	}
	for _, qo := range cur.SortedQuestObjectives() {
		crit, changed, err := resolveCriteria(qo.ID, qo.SuccessCriteria)
		if err != nil {
			return out, err
		}
		if changed {
			c := *qo
			c.SuccessCriteria = crit
			m.QuestObjectives = append(m.QuestObjectives, &c)
		}
	}

	for _, rq := range reqs {
		if len(mp.provides[rq.res.id]) == 0 {
			needProvider = append(needProvider, rq.res)
		}
	}
	sort.SliceStable(needProvider, func(i, j int) bool { return needProvider[i].id < needProvider[j].id })
	for _, r := range needProvider {
		if len(mp.provides[r.id]) > 0 {
			continue
		}
		if err := mp.fallback(r); err != nil {
			return out, err
		}
	}

	desired := map[string][]cascade.Edge{}
	for _, p := range out.Provisions {
		r := findResource(p.ResourceID, knowledge, items)
		e := cascade.Edge{Type: cascade.RelProvidesItem, From: p.SceneID, To: p.ResourceID, Category: r.category}
		if p.Kind == cascade.KindKnowledge {
			e = cascade.Edge{Type: cascade.RelProvidesKnowledge, From: p.SceneID, To: p.ResourceID, Domain: r.category}
		}
		desired[p.SceneID] = append(desired[p.SceneID], e)
	}
	for _, rq := range reqs {
		e := cascade.Edge{Type: cascade.RelRequiresItem, From: rq.scene.ID, To: rq.res.id, Quantity: max(rq.need.Quantity, 1), Category: rq.res.category}
		if rq.res.kind == cascade.KindKnowledge {
			lvl := max(rq.need.MinLevel, 1)
			if rq.res.maxLevel > 0 && lvl > rq.res.maxLevel {
				deps.Log.Warn("map_resources: clamping required level",
					"scene_id", rq.scene.ID, "knowledge_id", rq.res.id, "min_level", lvl, "max_level", rq.res.maxLevel)
				lvl = rq.res.maxLevel
			}
			e = cascade.Edge{Type: cascade.RelRequiresKnowledge, From: rq.scene.ID, To: rq.res.id, MinLevel: lvl, Domain: rq.res.category}
		}
		desired[rq.scene.ID] = append(desired[rq.scene.ID], e)
	}
	for _, sc := range mp.scenes {
		want := desired[sc.ID]
		if identicalEdges(cur.Out(sc.ID, resourceEdgeTypes...), want) {
			continue
		}
		m.Replace = append(m.Replace, cascade.EdgeScope{From: sc.ID, Label: cascade.LabelScene, Types: resourceEdgeTypes})
		m.Edges = append(m.Edges, want...)
	}

	updateCoverage(cur.Apply(m), m, mp.provides, now)

	out.Mutation = m
	deps.Log.Info("map_resources: computed",
		"campaign_id", cid,
		"knowledge", len(knowledge),
		"items", len(items),
		"provisions", len(out.Provisions),
		"requirements", len(reqs),
		"overloaded", len(out.Overloaded),
	)
	return out, nil
}

// provide records r at sc, spilling to the nearest plausible scene when sc is full.
func (mp *mapper) provide(sc *cascade.Scene, r *resource, strat MatchStrategy) {
	if mp.provides[r.id][sc.ID] {
		return
	}
	if mp.load[sc.ID] < mp.limit {
		mp.add(sc.ID, r, strat)
		return
	}
	for _, alt := range mp.nearest(sc, r.kind) {
		if mp.provides[r.id][alt.ID] {
			return
		}
		if mp.load[alt.ID] < mp.limit {
			mp.add(alt.ID, r, StrategySpill)
			return
		}
	}
	mp.log.Warn("map_resources: no capacity to spill resource", "scene_id", sc.ID, "resource_id", r.id)
}

// fallback assigns a provider for r round-robin across plausible scenes.
func (mp *mapper) fallback(r *resource) error {
	var cands []*cascade.Scene
	for _, sc := range mp.scenes {
		if hasSlots(sc, r.kind) && !mp.requires[r.id][sc.ID] {
			cands = append(cands, sc)
		}
	}
	if len(cands) == 0 {
		return cascade.UnmappableResourceError("map_resources",
			"no scene can plausibly provide %s %q", r.kind, r.name)
	}
	start := mp.rr[r.kind] % len(cands)
	for i := 0; i < len(cands); i++ {
		sc := cands[(start+i)%len(cands)]
		if mp.load[sc.ID] < mp.limit {
			mp.rr[r.kind] = start + i + 1
			mp.add(sc.ID, r, StrategyEvenDistributionFallback)
			return nil
		}
	}
	least := cands[0]
	for _, sc := range cands[1:] {
		if mp.load[sc.ID] < mp.load[least.ID] {
			least = sc
		}
	}
	mp.add(least.ID, r, StrategyEvenDistributionFallback)
	mp.out.Overloaded = append(mp.out.Overloaded, least.ID)
	mp.log.Warn("map_resources: all plausible providers at capacity", "resource_id", r.id, "scene_id", least.ID)
	return nil
}

func (mp *mapper) add(sceneID string, r *resource, strat MatchStrategy) {
	if mp.provides[r.id] == nil {
		mp.provides[r.id] = map[string]bool{}
	}
	mp.provides[r.id][sceneID] = true
	mp.load[sceneID]++
	mp.out.Provisions = append(mp.out.Provisions, Provision{SceneID: sceneID, ResourceID: r.id, Kind: r.kind, Strategy: strat})
}

func (mp *mapper) require(resourceID, sceneID string) {
	if mp.requires[resourceID] == nil {
		mp.requires[resourceID] = map[string]bool{}
	}
	mp.requires[resourceID][sceneID] = true
}

// nearest orders other scenes with provision slots of kind by same quest
// first, then sequence distance.
func (mp *mapper) nearest(sc *cascade.Scene, kind cascade.ResourceKind) []*cascade.Scene {
	var out []*cascade.Scene
	for _, s := range mp.scenes {
		if s.ID != sc.ID && hasSlots(s, kind) {
			out = append(out, s)
		}
	}
	dist := func(s *cascade.Scene) int {
		d := s.Sequence - sc.Sequence
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.QuestNumber == sc.QuestNumber) != (b.QuestNumber == sc.QuestNumber) {
			return a.QuestNumber == sc.QuestNumber
		}
		if dist(a) != dist(b) {
			return dist(a) < dist(b)
		}
		return cascade.SceneLess(a, b)
	})
	return out
}

func hasSlots(sc *cascade.Scene, kind cascade.ResourceKind) bool {
	if kind == cascade.KindKnowledge {
		return len(sc.ProvidedKnowledge) > 0
	}
	return len(sc.ProvidedItems) > 0
}

func catalog(cid string, req MapResourcesRequest, cur *cascade.Graph, m *cascade.Mutation) ([]*resource, []*resource, error) {
	var knowledge, items []*resource
	seen := map[string]bool{}
	for i, d := range req.Knowledge {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, nil, cascade.InvalidArgumentError("map_resources", "knowledge %d has no name", i)
		}
		id := strings.TrimSpace(d.ID)
		if id == "" {
			id = cascade.ResourceID(cid, cascade.KindKnowledge, name)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		k := &cascade.Knowledge{ID: id, CampaignID: cid, Name: name, Domain: strings.TrimSpace(d.Domain), Tags: cleanList(d.Tags), MaxLevel: d.MaxLevel}
		if prev := cur.Knowledge[id]; prev == nil || !sameKnowledge(prev, k) {
			m.Knowledge = append(m.Knowledge, k)
		}
		knowledge = append(knowledge, &resource{id: id, name: name, category: k.Domain, tags: k.Tags, kind: cascade.KindKnowledge, maxLevel: d.MaxLevel})
	}
	for i, d := range req.Items {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, nil, cascade.InvalidArgumentError("map_resources", "item %d has no name", i)
		}
		id := strings.TrimSpace(d.ID)
		if id == "" {
			id = cascade.ResourceID(cid, cascade.KindItem, name)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		it := &cascade.Item{ID: id, CampaignID: cid, Name: name, Category: strings.TrimSpace(d.Category), Tags: cleanList(d.Tags)}
		if prev := cur.Items[id]; prev == nil || !sameItem(prev, it) {
			m.Items = append(m.Items, it)
		}
		items = append(items, &resource{id: id, name: name, category: it.Category, tags: it.Tags, kind: cascade.KindItem})
	}
	sort.Slice(knowledge, func(i, j int) bool { return knowledge[i].id < knowledge[j].id })
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
	return knowledge, items, nil
}

func sameKnowledge(a, b *cascade.Knowledge) bool {
	return a.Name == b.Name && a.Domain == b.Domain && a.MaxLevel == b.MaxLevel && equalStrings(a.Tags, b.Tags)
}

func sameItem(a, b *cascade.Item) bool {
	return a.Name == b.Name && a.Category == b.Category && equalStrings(a.Tags, b.Tags)
}

// identicalEdges compares edge sets including their properties.
func identicalEdges(have, want []cascade.Edge) bool {
	if len(have) != len(want) {
		return false
	}
	set := make(map[cascade.Edge]bool, len(have))
	for _, e := range have {
		set[e] = true
	}
	for _, e := range want {
		if !set[e] {
			return false
		}
	}
	return true
}

func findResource(id string, pools ...[]*resource) *resource {
	for _, pool := range pools {
		for _, r := range pool {
			if r.id == id {
				return r
			}
		}
	}
	return &resource{id: id}
}

func sortedResourceIDs(g *cascade.Graph) []string {
	out := make([]string, 0, len(g.Knowledge)+len(g.Items))
	for id := range g.Knowledge {
		out = append(out, id)
	}
	for id := range g.Items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// updateCoverage refreshes ResourcesRequired/ResourcesSatisfied on each
// objective's progress record.
func updateCoverage(g *cascade.Graph, m *cascade.Mutation, provides map[string]map[string]bool, now time.Time) {
	for _, oid := range objectiveIDs(g) {
		var crit []cascade.SuccessCriterion
		if co := g.CampaignObjectives[oid]; co != nil {
			crit = co.SuccessCriteria
		} else {
			crit = g.QuestObjectives[oid].SuccessCriteria
		}
		required := map[string]bool{}
		for _, c := range crit {
			for _, rid := range c.ResourceIDs {
				required[rid] = true
			}
		}
		req := sortedSet(required)
		var sat []string
		for _, rid := range req {
			if len(provides[rid]) > 0 {
				sat = append(sat, rid)
			}
		}
		prev := g.Progress[oid]
		if prev != nil && equalStrings(prev.ResourcesRequired, req) && equalStrings(prev.ResourcesSatisfied, sat) {
			continue
		}
		p := &cascade.ObjectiveProgress{ObjectiveID: oid, Status: cascade.StatusNotStarted}
		if prev != nil {
			cp := *prev
			p = &cp
		}
		p.ResourcesRequired = req
		p.ResourcesSatisfied = sat
		p.UpdatedAt = now
		m.Progress = append(m.Progress, p)
	}
}

