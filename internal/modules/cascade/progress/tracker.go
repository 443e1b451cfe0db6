package progress

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/platform/retry"
	"github.com/yungbote/objective-cascade/internal/realtime"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
)

type Config struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base"`
}

// EventInput is a gameplay event submitted for a player.
type EventInput struct {
	Kind        cascade.EventKind `json:"kind"`
	SceneID     string            `json:"scene_id,omitempty"`
	KnowledgeID string            `json:"knowledge_id,omitempty"`
	ItemID      string            `json:"item_id,omitempty"`
	Level       int               `json:"level,omitempty"`
	Quantity    int               `json:"quantity,omitempty"`
}

type RecordResult struct {
	Progress  *cascade.PlayerProgress `json:"progress"`
	Events    []cascade.ProgressEvent `json:"events"`
	Completed []string                `json:"completed_objectives"`
}

// Tracker owns the per-(player, campaign) event logs and derives progress
// snapshots from them. Appends use an optimistic version check and retry on
// conflict.
type Tracker struct {
	log     *logger.Logger
	events  repos.EventLog
	graphs  graph.Store
	bus     bus.Bus
	cfg     Config
	index   indexCache
	metrics *observability.Metrics
	now     func() time.Time
}

func NewTracker(log *logger.Logger, events repos.EventLog, graphs graph.Store, b bus.Bus, cfg Config) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 10 * time.Millisecond
	}
	return &Tracker{
		log:     log.With("service", "ProgressTracker"),
		events:  events,
		graphs:  graphs,
		bus:     b,
		cfg:     cfg,
		metrics: observability.Current(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) graph(ctx context.Context, campaignID string) (*cascade.Graph, error) {
	g, err := t.graphs.Load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if g.Empty() {
		return nil, cascade.NotFoundError("progress", "campaign %s not found", campaignID)
	}
	return g, nil
}

func (t *Tracker) retryPolicy() retry.Policy {
	return retry.Policy{Attempts: t.cfg.MaxRetries, BaseDelay: t.cfg.RetryBase, MaxDelay: 500 * time.Millisecond}
}

func isConflict(err error) bool { return cascade.IsCode(err, cascade.CodeConflict) }

func ids(playerID, campaignID string) (string, string, error) {
	playerID, campaignID = strings.TrimSpace(playerID), strings.TrimSpace(campaignID)
	if playerID == "" || campaignID == "" {
		return "", "", cascade.InvalidArgumentError("progress", "player id and campaign id required")
	}
	return playerID, campaignID, nil
}

// Snapshot folds the player's log into a derived snapshot.
func (t *Tracker) Snapshot(ctx context.Context, playerID, campaignID string) (*cascade.PlayerProgress, error) {
	playerID, campaignID, err := ids(playerID, campaignID)
	if err != nil {
		return nil, err
	}
	evs, err := t.events.Load(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, cascade.NotFoundError("progress", "player %s has not joined campaign %s", playerID, campaignID)
	}
	p := cascade.FoldProgress(playerID, campaignID, evs)
	if g, err := t.graphs.Load(ctx, campaignID); err == nil && !g.Empty() {
		Derive(g, p)
	}
	return p, nil
}

// Join registers a player on a campaign. Joining twice returns the existing
// snapshot.
func (t *Tracker) Join(ctx context.Context, playerID, campaignID string) (*cascade.PlayerProgress, error) {
	playerID, campaignID, err := ids(playerID, campaignID)
	if err != nil {
		return nil, err
	}
	g, err := t.graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var joined bool
	err = retry.Do(ctx, t.retryPolicy(), isConflict, func(ctx context.Context) error {
		evs, err := t.events.Load(ctx, playerID, campaignID)
		if err != nil {
			return err
		}
		if len(evs) > 0 {
			return nil
		}
		e := t.event(playerID, campaignID, 1, cascade.EventPlayerJoined)
		if err := t.events.Append(ctx, playerID, campaignID, 0, []cascade.ProgressEvent{e}); err != nil {
			return err
		}
		joined = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	p, err := t.Snapshot(ctx, playerID, campaignID)
	if err != nil {
		return nil, err
	}
	if joined {
		t.project(ctx, p)
		t.publish(ctx, campaignID, realtime.EventPlayerJoined, map[string]any{"player_id": playerID})
		t.log.Info("player joined", "player_id", playerID, "campaign_id", campaignID, "graph_version", g.Version)
	}
	return p, nil
}

// Record appends one gameplay event, plus an ObjectiveCompleted event for
// every objective it completes, in a single compare-and-swap append.
// Players that never joined are joined implicitly.
func (t *Tracker) Record(ctx context.Context, playerID, campaignID string, in EventInput) (*RecordResult, error) {
	playerID, campaignID, err := ids(playerID, campaignID)
	if err != nil {
		return nil, err
	}
	g, err := t.graph(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := validateInput(g, in); err != nil {
		return nil, err
	}
	idx := t.index.get(g)

	var res *RecordResult
	err = retry.Do(ctx, t.retryPolicy(), isConflict, func(ctx context.Context) error {
		evs, err := t.events.Load(ctx, playerID, campaignID)
		if err != nil {
			return err
		}
		p := cascade.FoldProgress(playerID, campaignID, evs)
		expected := p.Version
		seq := expected

		var batch []cascade.ProgressEvent
		next := func(kind cascade.EventKind) cascade.ProgressEvent {
			seq++
			return t.event(playerID, campaignID, seq, kind)
		}
		if len(evs) == 0 {
			e := next(cascade.EventPlayerJoined)
			p.Apply(e)
			batch = append(batch, e)
		}
		e := next(in.Kind)
		e.SceneID, e.KnowledgeID, e.ItemID = in.SceneID, in.KnowledgeID, in.ItemID
		e.Level, e.Quantity = in.Level, in.Quantity
		p.Apply(e)
		batch = append(batch, e)

		var completed []string
		queue := idx.affected(e)
		seen := map[string]bool{}
		for len(queue) > 0 {
			oid := queue[0]
			queue = queue[1:]
			if seen[oid] || p.ObjectiveCompleted(oid) {
				continue
			}
			seen[oid] = true
			met, total := Evaluate(g, p, oid)
			if total == 0 || met < total {
				continue
			}
			done := next(cascade.EventObjectiveCompleted)
			done.ObjectiveID = oid
			p.Apply(done)
			batch = append(batch, done)
			completed = append(completed, oid)
			queue = append(queue, idx.affected(done)...)
		}

		if err := t.events.Append(ctx, playerID, campaignID, expected, batch); err != nil {
			if isConflict(err) {
				t.metrics.IncProgressConflict()
				t.log.Debug("progress append conflict; retrying", "player_id", playerID, "campaign_id", campaignID, "expected", expected)
			}
			return err
		}
		Derive(g, p)
		res = &RecordResult{Progress: p, Events: batch, Completed: completed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.project(ctx, res.Progress)
	t.metrics.IncProgressEvent(string(in.Kind))
	for _, oid := range res.Completed {
		level := "quest"
		if _, ok := g.CampaignObjectives[oid]; ok {
			level = "campaign"
		}
		t.metrics.IncCompletion(level)
	}
	t.publish(ctx, campaignID, realtime.EventProgressRecorded, map[string]any{
		"player_id": playerID,
		"kind":      string(in.Kind),
		"version":   res.Progress.Version,
	})
	for _, oid := range res.Completed {
		t.publish(ctx, campaignID, realtime.EventObjectiveCompleted, map[string]any{
			"player_id":    playerID,
			"objective_id": oid,
		})
	}
	t.log.Info("progress recorded",
		"player_id", playerID,
		"campaign_id", campaignID,
		"kind", string(in.Kind),
		"version", res.Progress.Version,
		"completed", len(res.Completed),
	)
	return res, nil
}

func (t *Tracker) event(playerID, campaignID string, seq int64, kind cascade.EventKind) cascade.ProgressEvent {
	return cascade.ProgressEvent{
		ID:         uuid.New().String(),
		PlayerID:   playerID,
		CampaignID: campaignID,
		Seq:        seq,
		Kind:       kind,
		OccurredAt: t.now(),
	}
}

// project mirrors the snapshot into the graph store; failures only log.
func (t *Tracker) project(ctx context.Context, p *cascade.PlayerProgress) {
	if t.graphs == nil || p == nil {
		return
	}
	if err := t.graphs.SyncPlayer(ctx, p); err != nil {
		t.log.Warn("player projection failed", "player_id", p.PlayerID, "campaign_id", p.CampaignID, "error", err)
	}
}

func (t *Tracker) publish(ctx context.Context, campaignID string, ev realtime.Event, data map[string]any) {
	if t.bus == nil {
		return
	}
	msg := realtime.Message{Topic: realtime.ProgressTopic(campaignID), Event: ev, Data: data, At: t.now()}
	if err := t.bus.Publish(ctx, msg); err != nil {
		t.log.Warn("progress publish failed", "campaign_id", campaignID, "event", string(ev), "error", err)
	}
}

func validateInput(g *cascade.Graph, in EventInput) error {
	switch in.Kind {
	case cascade.EventSceneCompleted:
		if g.Scenes[in.SceneID] == nil {
			return cascade.NotFoundError("progress", "scene %q not found", in.SceneID)
		}
	case cascade.EventKnowledgeAcquired:
		if g.Knowledge[in.KnowledgeID] == nil {
			return cascade.NotFoundError("progress", "knowledge %q not found", in.KnowledgeID)
		}
		if k := g.Knowledge[in.KnowledgeID]; k.MaxLevel > 0 && in.Level > k.MaxLevel {
			return cascade.InvalidArgumentError("progress", "level %d exceeds max level %d", in.Level, k.MaxLevel)
		}
	case cascade.EventItemAcquired:
		if g.Items[in.ItemID] == nil {
			return cascade.NotFoundError("progress", "item %q not found", in.ItemID)
		}
		if in.Quantity < 0 {
			return cascade.InvalidArgumentError("progress", "quantity must be positive")
		}
	default:
		return cascade.InvalidArgumentError("progress", "unsupported event kind %q", in.Kind)
	}
	return nil
}

func sortStrings(s []string) { sort.Strings(s) }
