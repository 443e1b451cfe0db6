package graph

import (
	"encoding/json"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

// Structured node fields are stored as *_json strings; lists of scalars are
// stored natively.

func campaignObjectiveRow(campaignID string, o *cascade.CampaignObjective, seq int64) map[string]any {
	return map[string]any{
		"id":                    o.ID,
		"campaign_id":           campaignID,
		"description":           o.Description,
		"bloom_level":           int64(o.BloomLevel),
		"status":                string(o.Status),
		"min_quests_required":   int64(o.MinQuestsRequired),
		"success_criteria_json": jsonString(o.SuccessCriteria),
		"required_knowledge":    nonNil(o.RequiredKnowledge),
		"required_items":        nonNil(o.RequiredItems),
		"commit_seq":            seq,
	}
}

func questObjectiveRow(campaignID string, o *cascade.QuestObjective, seq int64) map[string]any {
	return map[string]any{
		"id":                    o.ID,
		"campaign_id":           campaignID,
		"parent_id":             o.ParentID,
		"description":           o.Description,
		"bloom_level":           int64(o.BloomLevel),
		"quest_number":          int64(o.QuestNumber),
		"status":                string(o.Status),
		"optional":              o.Optional,
		"free_standing":         o.FreeStanding,
		"success_criteria_json": jsonString(o.SuccessCriteria),
		"required_knowledge":    nonNil(o.RequiredKnowledge),
		"required_items":        nonNil(o.RequiredItems),
		"commit_seq":            seq,
	}
}

func sceneRow(campaignID string, s *cascade.Scene, seq int64) map[string]any {
	return map[string]any{
		"id":                      s.ID,
		"campaign_id":             campaignID,
		"title":                   s.Title,
		"quest_number":            int64(s.QuestNumber),
		"sequence":                int64(s.Sequence),
		"encounter_type":          string(s.EncounterType),
		"is_required":             s.IsRequired,
		"dimensions":              nonNil(s.Dimensions),
		"required_knowledge_json": jsonString(s.RequiredKnowledge),
		"provided_knowledge":      nonNil(s.ProvidedKnowledge),
		"required_items_json":     jsonString(s.RequiredItems),
		"provided_items":          nonNil(s.ProvidedItems),
		"fingerprint":             s.Fingerprint,
		"commit_seq":              seq,
	}
}

func decodeNode(label string, p map[string]any, m *cascade.Mutation) error {
	id := asString(p["id"])
	if id == "" {
		return nil
	}
	cid := asString(p["campaign_id"])
	switch label {
	case cascade.LabelCampaignObjective:
		o := &cascade.CampaignObjective{
			ID:                id,
			CampaignID:        cid,
			Description:       asString(p["description"]),
			BloomLevel:        int(asInt64(p["bloom_level"])),
			Status:            cascade.Status(asString(p["status"])),
			MinQuestsRequired: int(asInt64(p["min_quests_required"])),
			RequiredKnowledge: asStrings(p["required_knowledge"]),
			RequiredItems:     asStrings(p["required_items"]),
		}
		if err := fromJSON(p["success_criteria_json"], &o.SuccessCriteria); err != nil {
			return err
		}
		m.CampaignObjectives = append(m.CampaignObjectives, o)
	case cascade.LabelQuestObjective:
		o := &cascade.QuestObjective{
			ID:                id,
			CampaignID:        cid,
			ParentID:          asString(p["parent_id"]),
			Description:       asString(p["description"]),
			BloomLevel:        int(asInt64(p["bloom_level"])),
			QuestNumber:       int(asInt64(p["quest_number"])),
			Status:            cascade.Status(asString(p["status"])),
			Optional:          asBool(p["optional"]),
			FreeStanding:      asBool(p["free_standing"]),
			RequiredKnowledge: asStrings(p["required_knowledge"]),
			RequiredItems:     asStrings(p["required_items"]),
		}
		if err := fromJSON(p["success_criteria_json"], &o.SuccessCriteria); err != nil {
			return err
		}
		m.QuestObjectives = append(m.QuestObjectives, o)
	case cascade.LabelScene:
		s := &cascade.Scene{
			ID:                id,
			CampaignID:        cid,
			Title:             asString(p["title"]),
			QuestNumber:       int(asInt64(p["quest_number"])),
			Sequence:          int(asInt64(p["sequence"])),
			EncounterType:     cascade.EncounterType(asString(p["encounter_type"])),
			IsRequired:        asBool(p["is_required"]),
			Dimensions:        asStrings(p["dimensions"]),
			ProvidedKnowledge: asStrings(p["provided_knowledge"]),
			ProvidedItems:     asStrings(p["provided_items"]),
			Fingerprint:       asString(p["fingerprint"]),
		}
		if err := fromJSON(p["required_knowledge_json"], &s.RequiredKnowledge); err != nil {
			return err
		}
		if err := fromJSON(p["required_items_json"], &s.RequiredItems); err != nil {
			return err
		}
		m.Scenes = append(m.Scenes, s)
	case cascade.LabelKnowledge:
		m.Knowledge = append(m.Knowledge, &cascade.Knowledge{
			ID:         id,
			CampaignID: cid,
			Name:       asString(p["name"]),
			Domain:     asString(p["domain"]),
			Tags:       asStrings(p["tags"]),
			MaxLevel:   int(asInt64(p["max_level"])),
		})
	case cascade.LabelItem:
		m.Items = append(m.Items, &cascade.Item{
			ID:         id,
			CampaignID: cid,
			Name:       asString(p["name"]),
			Category:   asString(p["category"]),
			Tags:       asStrings(p["tags"]),
		})
	}
	if label == cascade.LabelCampaignObjective || label == cascade.LabelQuestObjective {
		if raw := asString(p["progress_json"]); raw != "" {
			var op cascade.ObjectiveProgress
			if err := json.Unmarshal([]byte(raw), &op); err != nil {
				return cascade.Wrap(cascade.CodeInternal, "graph.decode", err)
			}
			m.Progress = append(m.Progress, &op)
		}
	}
	return nil
}

// edgeProps keeps only the property keys each relationship type defines.
func edgeProps(campaignID string, e cascade.Edge) map[string]any {
	props := map[string]any{"campaign_id": campaignID}
	switch e.Type {
	case cascade.RelRequiresKnowledge:
		props["min_level"] = int64(max(e.MinLevel, 1))
		if e.Domain != "" {
			props["domain"] = e.Domain
		}
	case cascade.RelRequiresItem:
		props["quantity"] = int64(max(e.Quantity, 1))
		if e.Category != "" {
			props["category"] = e.Category
		}
	case cascade.RelProvidesKnowledge:
		if e.Domain != "" {
			props["domain"] = e.Domain
		}
	case cascade.RelProvidesItem:
		if e.Category != "" {
			props["category"] = e.Category
		}
	}
	return props
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON(raw any, dst any) error {
	s := asString(raw)
	if s == "" || s == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return cascade.Wrap(cascade.CodeInternal, "graph.decode", err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asStrings(v any) []string {
	switch xs := v.(type) {
	case []string:
		if len(xs) == 0 {
			return nil
		}
		return append([]string(nil), xs...)
	case []any:
		if len(xs) == 0 {
			return nil
		}
		out := make([]string, 0, len(xs))
		for _, x := range xs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
