package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

var nodeLabels = []string{
	cascade.LabelCampaignObjective,
	cascade.LabelQuestObjective,
	cascade.LabelScene,
	cascade.LabelKnowledge,
	cascade.LabelItem,
	cascade.LabelPlayer,
}

// relEndpoints whitelists the relationship types this store writes together
// with the labels their endpoints may carry.
var relEndpoints = map[cascade.RelType]struct {
	from []string
	to   []string
}{
	cascade.RelDecomposesTo:      {[]string{cascade.LabelCampaignObjective}, []string{cascade.LabelQuestObjective}},
	cascade.RelSupports:          {[]string{cascade.LabelQuestObjective}, []string{cascade.LabelCampaignObjective}},
	cascade.RelAdvances:          {[]string{cascade.LabelScene}, []string{cascade.LabelQuestObjective, cascade.LabelCampaignObjective}},
	cascade.RelRequiresKnowledge: {[]string{cascade.LabelScene}, []string{cascade.LabelKnowledge}},
	cascade.RelProvidesKnowledge: {[]string{cascade.LabelScene}, []string{cascade.LabelKnowledge}},
	cascade.RelRequiresItem:      {[]string{cascade.LabelScene}, []string{cascade.LabelItem}},
	cascade.RelProvidesItem:      {[]string{cascade.LabelScene}, []string{cascade.LabelItem}},
	cascade.RelNext:              {[]string{cascade.LabelScene}, []string{cascade.LabelScene}},
	cascade.RelAlternativePath:   {[]string{cascade.LabelScene}, []string{cascade.LabelScene}},
}

func schemaStatements() []string {
	stmts := make([]string, 0, 24)
	for _, l := range nodeLabels {
		stmts = append(stmts,
			fmt.Sprintf("CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", snake(l), l),
		)
		if l != cascade.LabelPlayer {
			stmts = append(stmts,
				fmt.Sprintf("CREATE INDEX %s_campaign_idx IF NOT EXISTS FOR (n:%s) ON (n.campaign_id)", snake(l), l),
			)
		}
	}
	stmts = append(stmts,
		"CREATE INDEX campaign_objective_status_idx IF NOT EXISTS FOR (n:CampaignObjective) ON (n.status)",
		"CREATE INDEX quest_objective_status_idx IF NOT EXISTS FOR (n:QuestObjective) ON (n.status)",
		"CREATE INDEX scene_sequence_idx IF NOT EXISTS FOR (n:Scene) ON (n.sequence)",
		"CREATE INDEX knowledge_domain_idx IF NOT EXISTS FOR (n:Knowledge) ON (n.domain)",
		"CREATE INDEX item_category_idx IF NOT EXISTS FOR (n:Item) ON (n.category)",
	)
	return stmts
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	for _, q := range schemaStatements() {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return classify("graph.schema", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return classify("graph.schema", err)
		}
	}
	return nil
}

func snake(label string) string {
	out := make([]byte, 0, len(label)+4)
	for i := 0; i < len(label); i++ {
		c := label[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
