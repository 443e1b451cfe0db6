package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

// PlayerSource returns a player's derived progress for a campaign, or a
// not-found error for a player that never joined it.
type PlayerSource interface {
	Snapshot(ctx context.Context, playerID, campaignID string) (*cascade.PlayerProgress, error)
}

type Config struct {
	ObjectiveWeight int `yaml:"objective_weight"`
	DimensionBonus  int `yaml:"dimension_bonus"`
}

func (c Config) withDefaults() Config {
	if c.ObjectiveWeight <= 0 {
		c.ObjectiveWeight = 10
	}
	if c.DimensionBonus <= 0 || c.DimensionBonus >= c.ObjectiveWeight {
		c.DimensionBonus = 1
	}
	return c
}

// Service answers read-only questions against committed graph snapshots.
// Concurrent loads of one campaign share a single store read.
type Service struct {
	log     *logger.Logger
	graphs  graph.Store
	players PlayerSource
	cfg     Config
	loads   singleflight.Group
	tracer  trace.Tracer
}

func NewService(log *logger.Logger, graphs graph.Store, players PlayerSource, cfg Config) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		log:     log.With("service", "CascadeQuery"),
		graphs:  graphs,
		players: players,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("objective-cascade/query"),
	}
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "cascade.query."+name, trace.WithAttributes(attrs...))
}

// loadTimeout bounds a shared snapshot load, which outlives any one caller.
const loadTimeout = 30 * time.Second

// Graph returns the last committed snapshot of a campaign. A caller that
// gives up stops waiting without failing the others sharing its load.
func (s *Service) Graph(ctx context.Context, campaignID string) (*cascade.Graph, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, cascade.InvalidArgumentError("query", "campaign id required")
	}
	ch := s.loads.DoChan(campaignID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.graphs.Load(ctx, campaignID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	g := res.Val.(*cascade.Graph)
	if g.Empty() {
		return nil, cascade.NotFoundError("query", "campaign %s not found", campaignID)
	}
	return g, nil
}

func (s *Service) player(ctx context.Context, playerID, campaignID string) (*cascade.PlayerProgress, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, cascade.InvalidArgumentError("query", "player id required")
	}
	if s.players == nil {
		return nil, cascade.NotFoundError("query", "player %s not found", playerID)
	}
	return s.players.Snapshot(ctx, playerID, campaignID)
}

// ---- hierarchy ----

type ObjectiveNode struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Description       string          `json:"description"`
	BloomLevel        int             `json:"bloom_level"`
	QuestNumber       int             `json:"quest_number,omitempty"`
	Status            cascade.Status  `json:"status"`
	CompletionPercent float64         `json:"completion_percent"`
	Optional          bool            `json:"optional,omitempty"`
	SupportingScenes  int             `json:"supporting_scenes"`
	Children          []ObjectiveNode `json:"children,omitempty"`
}

type Hierarchy struct {
	CampaignID   string          `json:"campaign_id"`
	GraphVersion int64           `json:"graph_version"`
	PlayerID     string          `json:"player_id,omitempty"`
	Objectives   []ObjectiveNode `json:"objectives"`
	FreeStanding []ObjectiveNode `json:"free_standing,omitempty"`
}

// ObjectiveHierarchy returns the CampaignObjective -> QuestObjective tree
// with generation-time status.
func (s *Service) ObjectiveHierarchy(ctx context.Context, campaignID string) (*Hierarchy, error) {
	ctx, span := s.span(ctx, "hierarchy", attribute.String("campaign_id", campaignID))
	defer span.End()
	g, err := s.Graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return buildHierarchy(g, nil), nil
}

// PlayerObjectiveHierarchy overlays a player's objective states on the tree.
func (s *Service) PlayerObjectiveHierarchy(ctx context.Context, campaignID, playerID string) (*Hierarchy, error) {
	ctx, span := s.span(ctx, "player_hierarchy", attribute.String("campaign_id", campaignID))
	defer span.End()
	g, err := s.Graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	p, err := s.player(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	h := buildHierarchy(g, p)
	h.PlayerID = p.PlayerID
	return h, nil
}

func buildHierarchy(g *cascade.Graph, p *cascade.PlayerProgress) *Hierarchy {
	h := &Hierarchy{CampaignID: g.CampaignID, GraphVersion: g.Version, Objectives: []ObjectiveNode{}}
	state := func(id string, fallback cascade.Status) (cascade.Status, float64) {
		if p != nil {
			if st := p.Objectives[id]; st != nil {
				return st.Status, st.CompletionPercent
			}
			return cascade.StatusNotStarted, 0
		}
		if pr := g.Progress[id]; pr != nil {
			return pr.Status, pr.CompletionPercent
		}
		return fallback, 0
	}
	questNode := func(qo *cascade.QuestObjective) ObjectiveNode {
		st, pct := state(qo.ID, qo.Status)
		return ObjectiveNode{
			ID:                qo.ID,
			Kind:              cascade.LabelQuestObjective,
			Description:       qo.Description,
			BloomLevel:        qo.BloomLevel,
			QuestNumber:       qo.QuestNumber,
			Status:            st,
			CompletionPercent: pct,
			Optional:          qo.Optional,
			SupportingScenes:  len(g.In(qo.ID, cascade.RelAdvances)),
		}
	}
	for _, co := range g.SortedCampaignObjectives() {
		st, pct := state(co.ID, co.Status)
		node := ObjectiveNode{
			ID:                co.ID,
			Kind:              cascade.LabelCampaignObjective,
			Description:       co.Description,
			BloomLevel:        co.BloomLevel,
			Status:            st,
			CompletionPercent: pct,
			SupportingScenes:  len(g.In(co.ID, cascade.RelAdvances)),
		}
		var kids []*cascade.QuestObjective
		for _, e := range g.Out(co.ID, cascade.RelDecomposesTo) {
			if qo := g.QuestObjectives[e.To]; qo != nil {
				kids = append(kids, qo)
			}
		}
		sort.Slice(kids, func(i, j int) bool {
			if kids[i].QuestNumber != kids[j].QuestNumber {
				return kids[i].QuestNumber < kids[j].QuestNumber
			}
			return kids[i].ID < kids[j].ID
		})
		for _, qo := range kids {
			node.Children = append(node.Children, questNode(qo))
		}
		h.Objectives = append(h.Objectives, node)
	}
	for _, qo := range g.SortedQuestObjectives() {
		if len(g.Out(qo.ID, cascade.RelSupports)) == 0 {
			h.FreeStanding = append(h.FreeStanding, questNode(qo))
		}
	}
	return h
}

// ---- accessibility ----

type AccessibleScene struct {
	SceneID       string                `json:"scene_id"`
	Title         string                `json:"title"`
	QuestNumber   int                   `json:"quest_number"`
	Sequence      int                   `json:"sequence"`
	EncounterType cascade.EncounterType `json:"encounter_type"`
	Dimensions    []string              `json:"dimensions,omitempty"`
	Completed     bool                  `json:"completed"`
	ViaAlternate  bool                  `json:"via_alternative_path,omitempty"`
}

// RequirementsMet reports whether p satisfies every REQUIRES edge of sceneID.
func RequirementsMet(g *cascade.Graph, p *cascade.PlayerProgress, sceneID string) bool {
	for _, e := range g.Out(sceneID, cascade.RelRequiresKnowledge) {
		if p.Knowledge[e.To] < max(e.MinLevel, 1) {
			return false
		}
	}
	for _, e := range g.Out(sceneID, cascade.RelRequiresItem) {
		if p.Items[e.To] < max(e.Quantity, 1) {
			return false
		}
	}
	return true
}

// Reachable reports whether the scene's sequencing is satisfied: no NEXT
// predecessors, all of them completed, or an ALTERNATIVE_PATH from a
// completed scene. via is true when only the alternative path opens it.
func Reachable(g *cascade.Graph, p *cascade.PlayerProgress, sceneID string) (ok, via bool) {
	preds := g.In(sceneID, cascade.RelNext)
	done := true
	for _, e := range preds {
		if !p.CompletedScenes[e.From] {
			done = false
			break
		}
	}
	if done {
		return true, false
	}
	for _, e := range g.In(sceneID, cascade.RelAlternativePath) {
		if p.CompletedScenes[e.From] {
			return true, true
		}
	}
	return false, false
}

func accessible(g *cascade.Graph, p *cascade.PlayerProgress) []AccessibleScene {
	out := []AccessibleScene{}
	for _, sc := range g.SortedScenes() {
		if !RequirementsMet(g, p, sc.ID) {
			continue
		}
		ok, via := Reachable(g, p, sc.ID)
		if !ok {
			continue
		}
		out = append(out, AccessibleScene{
			SceneID:       sc.ID,
			Title:         sc.Title,
			QuestNumber:   sc.QuestNumber,
			Sequence:      sc.Sequence,
			EncounterType: sc.EncounterType,
			Dimensions:    sc.Dimensions,
			Completed:     p.CompletedScenes[sc.ID],
			ViaAlternate:  via,
		})
	}
	return out
}

// AccessibleScenes lists the scenes whose prerequisites the player meets.
func (s *Service) AccessibleScenes(ctx context.Context, playerID, campaignID string) ([]AccessibleScene, error) {
	ctx, span := s.span(ctx, "accessible_scenes", attribute.String("campaign_id", campaignID))
	defer span.End()
	g, err := s.Graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	p, err := s.player(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	out := accessible(g, p)
	span.SetAttributes(attribute.Int("accessible", len(out)))
	return out, nil
}

// ---- acquisition paths ----

type AcquisitionPath struct {
	CampaignID    string                `json:"campaign_id"`
	ResourceID    string                `json:"resource_id"`
	ResourceKind  cascade.ResourceKind  `json:"resource_kind"`
	SceneID       string                `json:"scene_id"`
	Title         string                `json:"title"`
	QuestNumber   int                   `json:"quest_number"`
	Sequence      int                   `json:"sequence"`
	EncounterType cascade.EncounterType `json:"encounter_type"`
}

// AcquisitionPaths lists every scene that provides the resource.
func (s *Service) AcquisitionPaths(ctx context.Context, resourceID string) ([]AcquisitionPath, error) {
	ctx, span := s.span(ctx, "acquisition_paths", attribute.String("resource_id", resourceID))
	defer span.End()
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, cascade.InvalidArgumentError("query", "resource id required")
	}
	cid, err := s.graphs.CampaignOfResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	g, err := s.Graph(ctx, cid)
	if err != nil {
		return nil, err
	}
	kind := cascade.KindKnowledge
	switch {
	case g.Items[resourceID] != nil:
		kind = cascade.KindItem
	case g.Knowledge[resourceID] == nil:
		return nil, cascade.NotFoundError("query", "resource %s not found", resourceID)
	}
	var scenes []*cascade.Scene
	for _, e := range g.In(resourceID, cascade.RelProvidesKnowledge, cascade.RelProvidesItem) {
		if sc := g.Scenes[e.From]; sc != nil {
			scenes = append(scenes, sc)
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return cascade.SceneLess(scenes[i], scenes[j]) })
	out := make([]AcquisitionPath, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, AcquisitionPath{
			CampaignID:    cid,
			ResourceID:    resourceID,
			ResourceKind:  kind,
			SceneID:       sc.ID,
			Title:         sc.Title,
			QuestNumber:   sc.QuestNumber,
			Sequence:      sc.Sequence,
			EncounterType: sc.EncounterType,
		})
	}
	return out, nil
}

// ---- recommendation ----

type Recommendation struct {
	SceneID            string   `json:"scene_id"`
	Title              string   `json:"title"`
	QuestNumber        int      `json:"quest_number"`
	Sequence           int      `json:"sequence"`
	Score              int      `json:"score"`
	DimensionMatch     bool     `json:"dimension_match"`
	AdvancedObjectives []string `json:"advanced_objectives"`
}

// RecommendNextScene picks the best accessible, uncompleted scene. The score
// is objective_weight per unresolved objective the scene advances plus
// dimension_bonus when it matches targetDimension; ties go to the lowest
// sequence, then lowest id. It returns nil when no scene qualifies.
func (s *Service) RecommendNextScene(ctx context.Context, playerID, campaignID, targetDimension string) (*Recommendation, error) {
	ctx, span := s.span(ctx, "recommend", attribute.String("campaign_id", campaignID))
	defer span.End()
	g, err := s.Graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	p, err := s.player(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	rec := Recommend(g, p, targetDimension, s.cfg)
	if rec != nil {
		span.SetAttributes(attribute.String("scene_id", rec.SceneID), attribute.Int("score", rec.Score))
	}
	return rec, nil
}

// Recommend is the pure scoring core of RecommendNextScene.
func Recommend(g *cascade.Graph, p *cascade.PlayerProgress, targetDimension string, cfg Config) *Recommendation {
	cfg = cfg.withDefaults()
	var best *Recommendation
	for _, a := range accessible(g, p) {
		if a.Completed {
			continue
		}
		sc := g.Scenes[a.SceneID]
		rec := &Recommendation{
			SceneID:            sc.ID,
			Title:              sc.Title,
			QuestNumber:        sc.QuestNumber,
			Sequence:           sc.Sequence,
			AdvancedObjectives: []string{},
		}
		for _, e := range g.Out(sc.ID, cascade.RelAdvances) {
			if !p.ObjectiveCompleted(e.To) {
				rec.AdvancedObjectives = append(rec.AdvancedObjectives, e.To)
			}
		}
		rec.Score = cfg.ObjectiveWeight * len(rec.AdvancedObjectives)
		if targetDimension != "" && sc.HasDimension(targetDimension) {
			rec.DimensionMatch = true
			rec.Score += cfg.DimensionBonus
		}
		// accessible() yields scenes in canonical order, so strict > keeps the tie-break.
		if best == nil || rec.Score > best.Score {
			best = rec
		}
	}
	return best
}

// ---- quest completion ----

type QuestStatus struct {
	QuestNumber int            `json:"quest_number"`
	Objectives  int            `json:"objectives"`
	Completed   int            `json:"completed"`
	Percent     float64        `json:"completion_percent"`
	Status      cascade.Status `json:"status"`
}

// QuestCompletionStatus derives per-quest completion from the player's
// completed non-optional quest objectives. A quest holding only optional
// objectives counts all of them.
func (s *Service) QuestCompletionStatus(ctx context.Context, campaignID, playerID string) ([]QuestStatus, error) {
	ctx, span := s.span(ctx, "quest_status", attribute.String("campaign_id", campaignID))
	defer span.End()
	g, err := s.Graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	p, err := s.player(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	return QuestCompletion(g, p), nil
}

func QuestCompletion(g *cascade.Graph, p *cascade.PlayerProgress) []QuestStatus {
	byQuest := map[int][]*cascade.QuestObjective{}
	var quests []int
	for _, qo := range g.SortedQuestObjectives() {
		if _, ok := byQuest[qo.QuestNumber]; !ok {
			quests = append(quests, qo.QuestNumber)
		}
		byQuest[qo.QuestNumber] = append(byQuest[qo.QuestNumber], qo)
	}
	out := make([]QuestStatus, 0, len(quests))
	for _, q := range quests {
		var counted []*cascade.QuestObjective
		for _, qo := range byQuest[q] {
			if !qo.Optional {
				counted = append(counted, qo)
			}
		}
		if len(counted) == 0 {
			counted = byQuest[q]
		}
		st := QuestStatus{QuestNumber: q, Objectives: len(counted), Status: cascade.StatusNotStarted}
		started := false
		for _, qo := range counted {
			if p.ObjectiveCompleted(qo.ID) {
				st.Completed++
			} else if os := p.Objectives[qo.ID]; os != nil && os.Status == cascade.StatusInProgress {
				started = true
			}
		}
		st.Percent = float64(st.Completed) * 100 / float64(st.Objectives)
		switch {
		case st.Completed == st.Objectives:
			st.Status = cascade.StatusCompleted
		case st.Completed > 0 || started:
			st.Status = cascade.StatusInProgress
		}
		out = append(out, st)
	}
	return out
}
