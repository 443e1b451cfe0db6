package cascade

import (
	"fmt"
	"strings"
)

type CriterionKind string

const (
	CriterionKnowledgeLevel      CriterionKind = "knowledge_level"
	CriterionItemQuantity        CriterionKind = "item_quantity"
	CriterionSceneCompletion     CriterionKind = "scene_completion"
	CriterionObjectiveCompletion CriterionKind = "objective_completion"
)

// SuccessCriterion is one condition of an objective's success set.
//
// Knowledge and item criteria are declared against a domain/category and are
// resolved to concrete resource ids by the resource mapper; any one of the
// resolved resources satisfies the criterion. Scene criteria with no explicit
// scene ids count completed scenes that advance the owning objective.
type SuccessCriterion struct {
	Kind         CriterionKind `json:"kind"`
	Category     string        `json:"category,omitempty"`
	ResourceIDs  []string      `json:"resource_ids,omitempty"`
	MinLevel     int           `json:"min_level,omitempty"`
	Quantity     int           `json:"quantity,omitempty"`
	SceneIDs     []string      `json:"scene_ids,omitempty"`
	MinScenes    int           `json:"min_scenes,omitempty"`
	ObjectiveIDs []string      `json:"objective_ids,omitempty"`
}

func (c SuccessCriterion) String() string {
	switch c.Kind {
	case CriterionKnowledgeLevel:
		return fmt.Sprintf("knowledge %q at level %d", c.Category, max(c.MinLevel, 1))
	case CriterionItemQuantity:
		return fmt.Sprintf("item %q x%d", c.Category, max(c.Quantity, 1))
	case CriterionSceneCompletion:
		if len(c.SceneIDs) > 0 {
			return fmt.Sprintf("complete scenes %s", strings.Join(c.SceneIDs, ","))
		}
		return fmt.Sprintf("complete %d advancing scene(s)", max(c.MinScenes, 1))
	case CriterionObjectiveCompletion:
		return fmt.Sprintf("complete %d objective(s)", len(c.ObjectiveIDs))
	default:
		return string(c.Kind)
	}
}

// Resource reports the resource kind a knowledge/item criterion refers to.
func (c SuccessCriterion) Resource() (ResourceKind, bool) {
	switch c.Kind {
	case CriterionKnowledgeLevel:
		return KindKnowledge, true
	case CriterionItemQuantity:
		return KindItem, true
	default:
		return "", false
	}
}

// CloneCriteria deep-copies a criteria set.
func CloneCriteria(in []SuccessCriterion) []SuccessCriterion {
	if in == nil {
		return nil
	}
	out := make([]SuccessCriterion, len(in))
	for i, c := range in {
		c.ResourceIDs = cloneStrings(c.ResourceIDs)
		c.SceneIDs = cloneStrings(c.SceneIDs)
		c.ObjectiveIDs = cloneStrings(c.ObjectiveIDs)
		out[i] = c
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
