package realtime

import (
	"strings"
	"time"
)

type Event string

const (
	EventProgressRecorded   Event = "progress_recorded"
	EventObjectiveCompleted Event = "objective_completed"
	EventPlayerJoined       Event = "player_joined"
	EventPipelineStage      Event = "pipeline_stage"
	EventValidationReport   Event = "validation_report"
)

// Message is one published notification. Topic scopes delivery, e.g.
// "progress.<campaign_id>".
type Message struct {
	Topic string         `json:"topic"`
	Event Event          `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

func ProgressTopic(campaignID string) string { return "progress." + campaignID }

func PipelineTopic(campaignID string) string { return "pipeline." + campaignID }

// Matches reports whether topic is selected by pattern. A trailing "*"
// matches any suffix; an empty pattern matches everything.
func Matches(pattern, topic string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == topic
}
