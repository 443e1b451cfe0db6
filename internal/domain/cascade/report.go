package cascade

import "time"

// Check identifies one of the validator's graph checks.
type Check string

const (
	CheckCampaignCoverage Check = "campaign_quest_coverage"
	CheckQuestCoverage    Check = "quest_scene_coverage"
	CheckResources        Check = "resource_satisfiability"
	CheckCriteria         Check = "success_criteria"
	CheckAcyclicity       Check = "acyclicity"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validation defect. Errors block finalization, warnings do not.
type Finding struct {
	Check       Check    `json:"check"`
	Severity    Severity `json:"severity"`
	Code        string   `json:"code"`
	SubjectID   string   `json:"subject_id"`
	SubjectKind string   `json:"subject_kind"`
	QuestNumber int      `json:"quest_number,omitempty"`
	Count       int      `json:"count"`
	Message     string   `json:"message"`
}

type FixAction string

const (
	FixAddScene          FixAction = "add_scene"
	FixAddProvider       FixAction = "add_provider"
	FixAddQuestObjective FixAction = "add_quest_objective"
	FixAddCriteria       FixAction = "add_success_criteria"
	FixLinkParent        FixAction = "link_parent_objective"
	FixBreakCycle        FixAction = "break_cycle"
	FixRemoveDangling    FixAction = "remove_dangling_edge"
)

// FixSuggestion is a structured, machine-actionable remedy for a finding.
type FixSuggestion struct {
	Action       FixAction    `json:"action"`
	TargetID     string       `json:"target_id"`
	TargetKind   string       `json:"target_kind"`
	ResourceKind ResourceKind `json:"resource_kind,omitempty"`
	QuestNumber  int          `json:"quest_number,omitempty"`
	Needed       int          `json:"needed,omitempty"`
	Message      string       `json:"message"`
}

// CoverageStats summarizes redundancy across the campaign.
type CoverageStats struct {
	CampaignObjectives         int     `json:"campaign_objectives"`
	QuestObjectives            int     `json:"quest_objectives"`
	Scenes                     int     `json:"scenes"`
	ObjectivesChecked          int     `json:"objectives_checked"`
	ObjectivesRedundant        int     `json:"objectives_redundant"`
	ObjectiveRedundancyPercent float64 `json:"objective_redundancy_percent"`
	RequiredResources          int     `json:"required_resources"`
	RedundantResources         int     `json:"redundant_resources"`
	ResourceRedundancyPercent  float64 `json:"resource_redundancy_percent"`
	MeanProvidersPerResource   float64 `json:"mean_providers_per_resource"`
}

// ValidationReport is produced once per validation pass and never mutated.
type ValidationReport struct {
	ID           string          `json:"id"`
	CampaignID   string          `json:"campaign_id"`
	GraphVersion int64           `json:"graph_version"`
	CreatedAt    time.Time       `json:"created_at"`
	Errors       []Finding       `json:"errors"`
	Warnings     []Finding       `json:"warnings"`
	Suggestions  []FixSuggestion `json:"auto_fix_suggestions"`
	Stats        CoverageStats   `json:"coverage"`
}

// Blocking reports whether the report prevents finalization.
func (r *ValidationReport) Blocking() bool {
	return r != nil && len(r.Errors) > 0
}
