package cascade

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProgressEventRecord is the Postgres row of one player event. The
// (player_id, campaign_id, seq) unique index is the optimistic concurrency
// guard for appends.
type ProgressEventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlayerID    string    `gorm:"column:player_id;not null;uniqueIndex:idx_progress_event_seq,priority:1" json:"player_id"`
	CampaignID  string    `gorm:"column:campaign_id;not null;uniqueIndex:idx_progress_event_seq,priority:2;index" json:"campaign_id"`
	Seq         int64     `gorm:"column:seq;not null;uniqueIndex:idx_progress_event_seq,priority:3" json:"seq"`
	Kind        string    `gorm:"column:kind;not null;index" json:"kind"`
	SceneID     string    `gorm:"column:scene_id" json:"scene_id,omitempty"`
	KnowledgeID string    `gorm:"column:knowledge_id" json:"knowledge_id,omitempty"`
	ItemID      string    `gorm:"column:item_id" json:"item_id,omitempty"`
	ObjectiveID string    `gorm:"column:objective_id" json:"objective_id,omitempty"`
	Level       int       `gorm:"column:level;not null;default:0" json:"level,omitempty"`
	Quantity    int       `gorm:"column:quantity;not null;default:0" json:"quantity,omitempty"`
	OccurredAt  time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ProgressEventRecord) TableName() string { return "progress_event" }

func (r *ProgressEventRecord) Event() ProgressEvent {
	return ProgressEvent{
		ID:          r.ID.String(),
		PlayerID:    r.PlayerID,
		CampaignID:  r.CampaignID,
		Seq:         r.Seq,
		Kind:        EventKind(r.Kind),
		SceneID:     r.SceneID,
		KnowledgeID: r.KnowledgeID,
		ItemID:      r.ItemID,
		ObjectiveID: r.ObjectiveID,
		Level:       r.Level,
		Quantity:    r.Quantity,
		OccurredAt:  r.OccurredAt,
	}
}

func ProgressEventRecordOf(e ProgressEvent) *ProgressEventRecord {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}
	return &ProgressEventRecord{
		ID:          id,
		PlayerID:    e.PlayerID,
		CampaignID:  e.CampaignID,
		Seq:         e.Seq,
		Kind:        string(e.Kind),
		SceneID:     e.SceneID,
		KnowledgeID: e.KnowledgeID,
		ItemID:      e.ItemID,
		ObjectiveID: e.ObjectiveID,
		Level:       e.Level,
		Quantity:    e.Quantity,
		OccurredAt:  e.OccurredAt,
	}
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunBlocked   RunStatus = "blocked"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// CampaignRun is the pipeline checkpoint of one campaign. LastStage is the
// last stage that committed; Resume continues after it.
type CampaignRun struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID string         `gorm:"column:campaign_id;not null;uniqueIndex" json:"campaign_id"`
	Status     RunStatus      `gorm:"column:status;not null;index" json:"status"`
	LastStage  Stage          `gorm:"column:last_stage" json:"last_stage,omitempty"`
	Attempts   int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	ReportID   string         `gorm:"column:report_id" json:"report_id,omitempty"`
	Input      datatypes.JSON `gorm:"column:input;type:jsonb" json:"input"`
	StartedAt  time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (CampaignRun) TableName() string { return "campaign_run" }

// ValidationReportRecord persists an immutable validation report.
type ValidationReportRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID   string         `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	GraphVersion int64          `gorm:"column:graph_version;not null" json:"graph_version"`
	Blocking     bool           `gorm:"column:blocking;not null;default:false" json:"blocking"`
	ErrorCount   int            `gorm:"column:error_count;not null;default:0" json:"error_count"`
	WarningCount int            `gorm:"column:warning_count;not null;default:0" json:"warning_count"`
	Report       datatypes.JSON `gorm:"column:report;type:jsonb" json:"report"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (ValidationReportRecord) TableName() string { return "validation_report" }
