package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/platform/neo4jdb"
)

// Neo4jStore persists cascade graphs with the exact labels and relationship
// types other services query. Every node carries campaign_id; each Commit runs
// in a single write transaction.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Neo4jStore{
		client: client,
		log:    log.With("component", "Neo4jCascadeStore"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type cypherStmt struct {
	query  string
	params map[string]any
}

func (s *Neo4jStore) Commit(ctx context.Context, campaignID string, m *cascade.Mutation) error {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return cascade.InvalidArgumentError("graph.commit", "campaign id required")
	}
	if m.Empty() {
		return nil
	}
	stmts, err := s.commitStatements(campaignID, m)
	if err != nil {
		return err
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.query, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		s.log.Warn("cascade commit failed", "campaign_id", campaignID, "stage", string(m.Stage), "error", err)
		return classify("graph.commit", err)
	}
	s.log.Debug("cascade stage committed", "campaign_id", campaignID, "stage", string(m.Stage), "statements", len(stmts))
	return nil
}

func (s *Neo4jStore) commitStatements(campaignID string, m *cascade.Mutation) ([]cypherStmt, error) {
	seq := s.now().UnixNano()
	var stmts []cypherStmt

	removals := map[string][]string{}
	for _, ref := range m.Remove {
		if !validLabel(ref.Label) {
			return nil, cascade.InvalidArgumentError("graph.commit", "unknown label %q", ref.Label)
		}
		removals[ref.Label] = append(removals[ref.Label], ref.ID)
	}
	for _, label := range sortedKeys(removals) {
		stmts = append(stmts, cypherStmt{
			query: fmt.Sprintf(`
UNWIND $ids AS id
MATCH (n:%s {id: id, campaign_id: $cid})
DETACH DELETE n
`, label),
			params: map[string]any{"ids": removals[label], "cid": campaignID},
		})
	}

	nodeRows := map[string][]map[string]any{}
	for _, o := range m.CampaignObjectives {
		if o != nil && o.ID != "" {
			nodeRows[cascade.LabelCampaignObjective] = append(nodeRows[cascade.LabelCampaignObjective], campaignObjectiveRow(campaignID, o, seq))
		}
	}
	for _, o := range m.QuestObjectives {
		if o != nil && o.ID != "" {
			nodeRows[cascade.LabelQuestObjective] = append(nodeRows[cascade.LabelQuestObjective], questObjectiveRow(campaignID, o, seq))
		}
	}
	for _, sc := range m.Scenes {
		if sc != nil && sc.ID != "" {
			nodeRows[cascade.LabelScene] = append(nodeRows[cascade.LabelScene], sceneRow(campaignID, sc, seq))
		}
	}
	for _, k := range m.Knowledge {
		if k != nil && k.ID != "" {
			nodeRows[cascade.LabelKnowledge] = append(nodeRows[cascade.LabelKnowledge], map[string]any{
				"id":          k.ID,
				"campaign_id": campaignID,
				"name":        k.Name,
				"domain":      k.Domain,
				"tags":        nonNil(k.Tags),
				"max_level":   int64(k.MaxLevel),
				"commit_seq":  seq,
			})
		}
	}
	for _, it := range m.Items {
		if it != nil && it.ID != "" {
			nodeRows[cascade.LabelItem] = append(nodeRows[cascade.LabelItem], map[string]any{
				"id":          it.ID,
				"campaign_id": campaignID,
				"name":        it.Name,
				"category":    it.Category,
				"tags":        nonNil(it.Tags),
				"commit_seq":  seq,
			})
		}
	}
	for _, label := range sortedKeys(nodeRows) {
		stmts = append(stmts, cypherStmt{
			query: fmt.Sprintf(`
UNWIND $rows AS r
MERGE (n:%s {id: r.id})
SET n += r
`, label),
			params: map[string]any{"rows": nodeRows[label]},
		})
	}

	if len(m.Progress) > 0 {
		rows := make([]map[string]any, 0, len(m.Progress))
		for _, p := range m.Progress {
			if p == nil || p.ObjectiveID == "" {
				continue
			}
			b, err := json.Marshal(p)
			if err != nil {
				return nil, cascade.Wrap(cascade.CodeInternal, "graph.commit", err)
			}
			rows = append(rows, map[string]any{
				"id":                 p.ObjectiveID,
				"progress_json":      string(b),
				"completion_percent": p.CompletionPercent,
				"progress_status":    string(p.Status),
			})
		}
		for _, label := range []string{cascade.LabelCampaignObjective, cascade.LabelQuestObjective} {
			stmts = append(stmts, cypherStmt{
				query: fmt.Sprintf(`
UNWIND $rows AS r
MATCH (n:%s {id: r.id, campaign_id: $cid})
SET n.progress_json = r.progress_json,
    n.completion_percent = r.completion_percent,
    n.progress_status = r.progress_status,
    n.commit_seq = $seq
`, label),
				params: map[string]any{"rows": rows, "cid": campaignID, "seq": seq},
			})
		}
	}

	type scopeGroup struct {
		label string
		types []string
		ids   []string
	}
	scopes := map[string]*scopeGroup{}
	for _, sc := range m.Replace {
		if !validLabel(sc.Label) {
			return nil, cascade.InvalidArgumentError("graph.commit", "unknown label %q", sc.Label)
		}
		types := make([]string, 0, len(sc.Types))
		for _, t := range sc.Types {
			if _, ok := relEndpoints[t]; !ok {
				return nil, cascade.InvalidArgumentError("graph.commit", "unknown relationship %q", t)
			}
			types = append(types, string(t))
		}
		sort.Strings(types)
		key := sc.Label + "|" + strings.Join(types, ",")
		g := scopes[key]
		if g == nil {
			g = &scopeGroup{label: sc.Label, types: types}
			scopes[key] = g
		}
		g.ids = append(g.ids, sc.From)
	}
	for _, key := range sortedKeys(scopes) {
		g := scopes[key]
		stmts = append(stmts, cypherStmt{
			query: fmt.Sprintf(`
UNWIND $ids AS id
MATCH (a:%s {id: id, campaign_id: $cid})-[e]->()
WHERE type(e) IN $types
DELETE e
`, g.label),
			params: map[string]any{"ids": g.ids, "types": g.types, "cid": campaignID},
		})
	}

	edgeRows := map[cascade.RelType][]map[string]any{}
	for _, e := range m.Edges {
		if _, ok := relEndpoints[e.Type]; !ok {
			return nil, cascade.InvalidArgumentError("graph.commit", "unknown relationship %q", e.Type)
		}
		edgeRows[e.Type] = append(edgeRows[e.Type], map[string]any{
			"from_id": e.From,
			"to_id":   e.To,
			"props":   edgeProps(campaignID, e),
		})
	}
	for _, rt := range sortedKeys(edgeRows) {
		ends := relEndpoints[rt]
		for _, fromLabel := range ends.from {
			for _, toLabel := range ends.to {
				stmts = append(stmts, cypherStmt{
					query: fmt.Sprintf(`
UNWIND $rows AS r
MATCH (a:%s {id: r.from_id, campaign_id: $cid})
MATCH (b:%s {id: r.to_id, campaign_id: $cid})
MERGE (a)-[e:%s]->(b)
SET e = r.props
`, fromLabel, toLabel, rt),
					params: map[string]any{"rows": edgeRows[rt], "cid": campaignID},
				})
			}
		}
	}
	return stmts, nil
}

func (s *Neo4jStore) Load(ctx context.Context, campaignID string) (*cascade.Graph, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, cascade.InvalidArgumentError("graph.load", "campaign id required")
	}
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		m := &cascade.Mutation{}
		var version int64
		for _, label := range nodeLabels {
			if label == cascade.LabelPlayer {
				continue
			}
			res, err := tx.Run(ctx, fmt.Sprintf(`MATCH (n:%s {campaign_id: $cid}) RETURN properties(n) AS p`, label),
				map[string]any{"cid": campaignID})
			if err != nil {
				return nil, err
			}
			recs, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			for _, rec := range recs {
				raw, _ := rec.Get("p")
				props, _ := raw.(map[string]any)
				if v := asInt64(props["commit_seq"]); v > version {
					version = v
				}
				if err := decodeNode(label, props, m); err != nil {
					return nil, err
				}
			}
		}

		types := make([]string, 0, len(relEndpoints))
		for rt := range relEndpoints {
			types = append(types, string(rt))
		}
		sort.Strings(types)
		for _, label := range []string{cascade.LabelCampaignObjective, cascade.LabelQuestObjective, cascade.LabelScene} {
			res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (a:%s {campaign_id: $cid})-[e]->(b)
WHERE type(e) IN $types AND b.campaign_id = $cid
RETURN type(e) AS t, a.id AS from_id, b.id AS to_id, properties(e) AS p
`, label), map[string]any{"cid": campaignID, "types": types})
			if err != nil {
				return nil, err
			}
			recs, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			for _, rec := range recs {
				t, _ := rec.Get("t")
				from, _ := rec.Get("from_id")
				to, _ := rec.Get("to_id")
				raw, _ := rec.Get("p")
				props, _ := raw.(map[string]any)
				m.Edges = append(m.Edges, cascade.Edge{
					Type:     cascade.RelType(asString(t)),
					From:     asString(from),
					To:       asString(to),
					MinLevel: int(asInt64(props["min_level"])),
					Quantity: int(asInt64(props["quantity"])),
					Domain:   asString(props["domain"]),
					Category: asString(props["category"]),
				})
			}
		}
		return cascade.BuildGraph(campaignID, version, m), nil
	})
	if err != nil {
		return nil, classify("graph.load", err)
	}
	g, _ := out.(*cascade.Graph)
	if g == nil {
		g = cascade.NewGraph(campaignID)
	}
	if g.Version > 0 {
		g.CommittedAt = time.Unix(0, g.Version).UTC()
	}
	return g, nil
}

func (s *Neo4jStore) CampaignOfResource(ctx context.Context, resourceID string) (string, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, label := range []string{cascade.LabelKnowledge, cascade.LabelItem} {
			res, err := tx.Run(ctx, fmt.Sprintf(`MATCH (n:%s {id: $id}) RETURN n.campaign_id AS cid LIMIT 1`, label),
				map[string]any{"id": resourceID})
			if err != nil {
				return nil, err
			}
			recs, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(recs) > 0 {
				cid, _ := recs[0].Get("cid")
				return asString(cid), nil
			}
		}
		return "", nil
	})
	if err != nil {
		return "", classify("graph.resource", err)
	}
	cid, _ := out.(string)
	if cid == "" {
		return "", cascade.NotFoundError("graph.resource", "resource %s not found", resourceID)
	}
	return cid, nil
}

// SyncPlayer mirrors the derived progress as COMPLETED, ACQUIRED and POSSESSES
// relationships from the Player node.
func (s *Neo4jStore) SyncPlayer(ctx context.Context, p *cascade.PlayerProgress) error {
	if p == nil || p.PlayerID == "" {
		return nil
	}
	scenes := make([]string, 0, len(p.CompletedScenes))
	for id, done := range p.CompletedScenes {
		if done {
			scenes = append(scenes, id)
		}
	}
	sort.Strings(scenes)
	knowledge := make([]map[string]any, 0, len(p.Knowledge))
	for id, lvl := range p.Knowledge {
		knowledge = append(knowledge, map[string]any{"id": id, "level": int64(lvl)})
	}
	items := make([]map[string]any, 0, len(p.Items))
	for id, qty := range p.Items {
		items = append(items, map[string]any{"id": id, "quantity": int64(qty)})
	}
	params := map[string]any{
		"pid":       p.PlayerID,
		"cid":       p.CampaignID,
		"now":       s.now().Format(time.RFC3339Nano),
		"scenes":    scenes,
		"knowledge": knowledge,
		"items":     items,
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{
			`MERGE (p:Player {id: $pid}) SET p.synced_at = $now`,
			`
MATCH (p:Player {id: $pid})
UNWIND $scenes AS sid
MATCH (s:Scene {id: sid, campaign_id: $cid})
MERGE (p)-[r:COMPLETED]->(s)
SET r.campaign_id = $cid, r.synced_at = $now
`,
			`
MATCH (p:Player {id: $pid})
UNWIND $knowledge AS k
MATCH (n:Knowledge {id: k.id, campaign_id: $cid})
MERGE (p)-[r:ACQUIRED]->(n)
SET r.campaign_id = $cid, r.level = k.level, r.synced_at = $now
`,
			`
MATCH (p:Player {id: $pid})
UNWIND $items AS it
MATCH (n:Item {id: it.id, campaign_id: $cid})
MERGE (p)-[r:POSSESSES]->(n)
SET r.campaign_id = $cid, r.quantity = it.quantity, r.synced_at = $now
`,
		} {
			res, err := tx.Run(ctx, q, params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return classify("graph.sync_player", err)
}

// classify maps driver failures onto engine error codes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *cascade.Error
	if errors.As(err, &ce) {
		return err
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return cascade.GraphConnectivityError(op, err)
	}
	return cascade.Wrap(cascade.CodeInternal, op, err)
}

func validLabel(label string) bool {
	for _, l := range nodeLabels {
		if l == label {
			return true
		}
	}
	return false
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
