package cascade

import (
	"strings"
	"time"
)

// Node labels of the persisted graph. Other services query these directly.
const (
	LabelCampaignObjective = "CampaignObjective"
	LabelQuestObjective    = "QuestObjective"
	LabelScene             = "Scene"
	LabelKnowledge         = "Knowledge"
	LabelItem              = "Item"
	LabelPlayer            = "Player"
)

// RelType is a relationship type of the persisted graph.
type RelType string

const (
	RelDecomposesTo      RelType = "DECOMPOSES_TO"
	RelSupports          RelType = "SUPPORTS"
	RelAchieves          RelType = "ACHIEVES"
	RelAdvances          RelType = "ADVANCES"
	RelRequiresKnowledge RelType = "REQUIRES_KNOWLEDGE"
	RelRequiresItem      RelType = "REQUIRES_ITEM"
	RelProvidesKnowledge RelType = "PROVIDES_KNOWLEDGE"
	RelProvidesItem      RelType = "PROVIDES_ITEM"
	RelNext              RelType = "NEXT"
	RelAlternativePath   RelType = "ALTERNATIVE_PATH"
	RelCompleted         RelType = "COMPLETED"
	RelAcquired          RelType = "ACQUIRED"
	RelPossesses         RelType = "POSSESSES"
)

// ContentRelTypes are the relationship types written by the generation pipeline.
var ContentRelTypes = []RelType{
	RelDecomposesTo, RelSupports, RelAdvances,
	RelRequiresKnowledge, RelRequiresItem,
	RelProvidesKnowledge, RelProvidesItem,
	RelNext, RelAlternativePath,
}

// Status of an objective.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Rank orders statuses so completion can only move forward.
func (s Status) Rank() int {
	switch s {
	case StatusCompleted:
		return 2
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

// ResourceKind distinguishes knowledge from items.
type ResourceKind string

const (
	KindKnowledge ResourceKind = "knowledge"
	KindItem      ResourceKind = "item"
)

// EncounterType classifies how a scene surfaces a resource.
type EncounterType string

const (
	EncounterNPC       EncounterType = "npc"
	EncounterDiscovery EncounterType = "discovery"
	EncounterChallenge EncounterType = "challenge"
)

// NormalizeEncounter maps free-form generator labels onto the three encounter types.
func NormalizeEncounter(raw string) EncounterType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "npc", "dialogue", "social", "conversation":
		return EncounterNPC
	case "challenge", "combat", "puzzle", "trial":
		return EncounterChallenge
	default:
		return EncounterDiscovery
	}
}

type CampaignObjective struct {
	ID                string             `json:"id"`
	CampaignID        string             `json:"campaign_id"`
	Description       string             `json:"description"`
	BloomLevel        int                `json:"bloom_level"`
	Status            Status             `json:"status"`
	MinQuestsRequired int                `json:"min_quests_required"`
	SuccessCriteria   []SuccessCriterion `json:"success_criteria"`
	RequiredKnowledge []string           `json:"required_knowledge,omitempty"`
	RequiredItems     []string           `json:"required_items,omitempty"`
}

type QuestObjective struct {
	ID                string             `json:"id"`
	CampaignID        string             `json:"campaign_id"`
	ParentID          string             `json:"parent_id,omitempty"`
	Description       string             `json:"description"`
	BloomLevel        int                `json:"bloom_level"`
	QuestNumber       int                `json:"quest_number"`
	Status            Status             `json:"status"`
	Optional          bool               `json:"optional,omitempty"`
	FreeStanding      bool               `json:"free_standing,omitempty"`
	SuccessCriteria   []SuccessCriterion `json:"success_criteria"`
	RequiredKnowledge []string           `json:"required_knowledge,omitempty"`
	RequiredItems     []string           `json:"required_items,omitempty"`
}

// ResourceNeed is a declared category or domain a scene requires, with its threshold.
type ResourceNeed struct {
	Category string `json:"category"`
	MinLevel int    `json:"min_level,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

type Scene struct {
	ID                string         `json:"id"`
	CampaignID        string         `json:"campaign_id"`
	Title             string         `json:"title"`
	QuestNumber       int            `json:"quest_number"`
	Sequence          int            `json:"sequence"`
	EncounterType     EncounterType  `json:"encounter_type"`
	IsRequired        bool           `json:"is_required"`
	Dimensions        []string       `json:"dimensions,omitempty"`
	RequiredKnowledge []ResourceNeed `json:"required_knowledge,omitempty"`
	ProvidedKnowledge []string       `json:"provided_knowledge,omitempty"`
	RequiredItems     []ResourceNeed `json:"required_items,omitempty"`
	ProvidedItems     []string       `json:"provided_items,omitempty"`
	Fingerprint       string         `json:"fingerprint,omitempty"`
}

// HasDimension reports whether the scene is tagged with dim (case-insensitive).
func (s *Scene) HasDimension(dim string) bool {
	dim = strings.TrimSpace(dim)
	if s == nil || dim == "" {
		return false
	}
	for _, d := range s.Dimensions {
		if strings.EqualFold(strings.TrimSpace(d), dim) {
			return true
		}
	}
	return false
}

type Knowledge struct {
	ID         string   `json:"id"`
	CampaignID string   `json:"campaign_id"`
	Name       string   `json:"name"`
	Domain     string   `json:"domain"`
	Tags       []string `json:"tags,omitempty"`
	MaxLevel   int      `json:"max_level"`
}

type Item struct {
	ID         string   `json:"id"`
	CampaignID string   `json:"campaign_id"`
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags,omitempty"`
}

// SceneObjectiveAssignment binds a scene to the objectives it advances and the
// resource categories it has to surface.
type SceneObjectiveAssignment struct {
	SceneID          string   `json:"scene_id"`
	ObjectiveIDs     []string `json:"objective_ids"`
	KnowledgeDomains []string `json:"knowledge_domains,omitempty"`
	ItemCategories   []string `json:"item_categories,omitempty"`
	Inferred         bool     `json:"inferred,omitempty"`
}

// ObjectiveProgress is the generation-time coverage record of one objective.
type ObjectiveProgress struct {
	ObjectiveID        string    `json:"objective_id"`
	SupportingScenes   []string  `json:"supporting_scenes"`
	ResourcesRequired  []string  `json:"resources_required"`
	ResourcesSatisfied []string  `json:"resources_satisfied"`
	CompletionPercent  float64   `json:"completion_percent"`
	Status             Status    `json:"status"`
	UpdatedAt          time.Time `json:"updated_at"`
}
