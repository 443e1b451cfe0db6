package cascade

import (
	"sort"
	"time"
)

type EventKind string

const (
	EventPlayerJoined       EventKind = "player_joined"
	EventSceneCompleted     EventKind = "scene_completed"
	EventKnowledgeAcquired  EventKind = "knowledge_acquired"
	EventItemAcquired       EventKind = "item_acquired"
	EventObjectiveCompleted EventKind = "objective_completed"
)

// ProgressEvent is one entry of a player's append-only log for a campaign.
type ProgressEvent struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"player_id"`
	CampaignID  string    `json:"campaign_id"`
	Seq         int64     `json:"seq"`
	Kind        EventKind `json:"kind"`
	SceneID     string    `json:"scene_id,omitempty"`
	KnowledgeID string    `json:"knowledge_id,omitempty"`
	ItemID      string    `json:"item_id,omitempty"`
	ObjectiveID string    `json:"objective_id,omitempty"`
	Level       int       `json:"level,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ObjectiveState is a player's derived state for one objective.
type ObjectiveState struct {
	ObjectiveID       string     `json:"objective_id"`
	Status            Status     `json:"status"`
	CompletionPercent float64    `json:"completion_percent"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PlayerProgress is the derived, recomputable snapshot of a player's log.
type PlayerProgress struct {
	PlayerID        string                     `json:"player_id"`
	CampaignID      string                     `json:"campaign_id"`
	Version         int64                      `json:"version"`
	CompletedScenes map[string]bool            `json:"completed_scenes"`
	Knowledge       map[string]int             `json:"knowledge"`
	Items           map[string]int             `json:"items"`
	Objectives      map[string]*ObjectiveState `json:"objectives"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

func NewPlayerProgress(playerID, campaignID string) *PlayerProgress {
	return &PlayerProgress{
		PlayerID:        playerID,
		CampaignID:      campaignID,
		CompletedScenes: map[string]bool{},
		Knowledge:       map[string]int{},
		Items:           map[string]int{},
		Objectives:      map[string]*ObjectiveState{},
	}
}

// FoldProgress replays events in sequence order into a fresh snapshot.
func FoldProgress(playerID, campaignID string, events []ProgressEvent) *PlayerProgress {
	p := NewPlayerProgress(playerID, campaignID)
	sorted := append([]ProgressEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	for _, e := range sorted {
		p.Apply(e)
	}
	return p
}

// Apply folds one event into the snapshot. Knowledge keeps the max level,
// items accumulate quantity, objective completion never reverts.
func (p *PlayerProgress) Apply(e ProgressEvent) {
	switch e.Kind {
	case EventSceneCompleted:
		if e.SceneID != "" {
			p.CompletedScenes[e.SceneID] = true
		}
	case EventKnowledgeAcquired:
		if e.KnowledgeID != "" {
			lvl := max(e.Level, 1)
			if lvl > p.Knowledge[e.KnowledgeID] {
				p.Knowledge[e.KnowledgeID] = lvl
			}
		}
	case EventItemAcquired:
		if e.ItemID != "" {
			p.Items[e.ItemID] += max(e.Quantity, 1)
		}
	case EventObjectiveCompleted:
		if e.ObjectiveID != "" {
			at := e.OccurredAt
			p.Objectives[e.ObjectiveID] = &ObjectiveState{
				ObjectiveID:       e.ObjectiveID,
				Status:            StatusCompleted,
				CompletionPercent: 100,
				CompletedAt:       &at,
			}
		}
	}
	if e.Seq > p.Version {
		p.Version = e.Seq
	}
	if e.OccurredAt.After(p.UpdatedAt) {
		p.UpdatedAt = e.OccurredAt
	}
}

// ObjectiveCompleted reports whether the player has completed id.
func (p *PlayerProgress) ObjectiveCompleted(id string) bool {
	st := p.Objectives[id]
	return st != nil && st.Status == StatusCompleted
}

// SetObjectiveState records derived partial progress. Completed states are kept.
func (p *PlayerProgress) SetObjectiveState(id string, status Status, percent float64) {
	if p.ObjectiveCompleted(id) {
		return
	}
	p.Objectives[id] = &ObjectiveState{ObjectiveID: id, Status: status, CompletionPercent: percent}
}

func (p *PlayerProgress) Clone() *PlayerProgress {
	if p == nil {
		return nil
	}
	c := NewPlayerProgress(p.PlayerID, p.CampaignID)
	c.Version = p.Version
	c.UpdatedAt = p.UpdatedAt
	for k, v := range p.CompletedScenes {
		c.CompletedScenes[k] = v
	}
	for k, v := range p.Knowledge {
		c.Knowledge[k] = v
	}
	for k, v := range p.Items {
		c.Items[k] = v
	}
	for k, v := range p.Objectives {
		st := *v
		c.Objectives[k] = &st
	}
	return c
}
