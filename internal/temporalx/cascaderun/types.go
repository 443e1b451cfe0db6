package cascaderun

import "github.com/yungbote/objective-cascade/internal/domain/cascade"

const (
	WorkflowName        = "cascade_pipeline"
	ActivityRunPipeline = "cascade_run_pipeline"
)

// StageSummary is what the pipeline activity reports per generation stage.
type StageSummary struct {
	CampaignID string        `json:"campaign_id"`
	Stage      cascade.Stage `json:"stage"`
	Skipped    bool          `json:"skipped,omitempty"`
	Nodes      int           `json:"nodes"`
	Edges      int           `json:"edges"`
	Warnings   int           `json:"warnings,omitempty"`
}

type ReportSummary struct {
	CampaignID   string            `json:"campaign_id"`
	ReportID     string            `json:"report_id"`
	GraphVersion int64             `json:"graph_version"`
	Errors       int               `json:"errors"`
	Warnings     int               `json:"warnings"`
	Status       cascade.RunStatus `json:"status"`
}

type Result struct {
	CampaignID string            `json:"campaign_id"`
	RunID      string            `json:"run_id,omitempty"`
	Status     cascade.RunStatus `json:"status,omitempty"`
	Stages     []StageSummary    `json:"stages"`
	Report     ReportSummary     `json:"report"`
}
