package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/biograph-backend/internal/platform/logger"
	"github.com/yungbote/biograph-backend/internal/platform/neo4jdb"
)

const neo4jBackendName = "neo4j"

// Neo4jProjection keeps materialized chains as (:Explanation) nodes rooted at
// (:LedgerEntity) nodes joined by [:ASSERTS] relationships keyed by assertion id.
type Neo4jProjection struct {
	client     *neo4jdb.Client
	log        *logger.Logger
	schemaOnce sync.Once
}

func NewNeo4jProjection(client *neo4jdb.Client, baseLog *logger.Logger) *Neo4jProjection {
	return &Neo4jProjection{client: client, log: baseLog.With("projection", "Neo4jExplanationProjection")}
}

func (p *Neo4jProjection) Backend() string { return neo4jBackendName }

func (p *Neo4jProjection) Ping(ctx context.Context) error {
	if p == nil || p.client == nil || p.client.Driver == nil {
		return ErrProjectionClosed
	}
	return p.client.Ping(ctx)
}

func (p *Neo4jProjection) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close(ctx)
}

func entityKey(entityType, id string) string {
	return entityType + ":" + id
}

func (p *Neo4jProjection) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	p.schemaOnce.Do(func() {
		stmts := []string{
			`CREATE CONSTRAINT ledger_entity_key_unique IF NOT EXISTS FOR (e:LedgerEntity) REQUIRE e.key IS UNIQUE`,
			`CREATE CONSTRAINT explanation_id_unique IF NOT EXISTS FOR (x:Explanation) REQUIRE x.id IS UNIQUE`,
			`CREATE INDEX explanation_root_date IF NOT EXISTS FOR (x:Explanation) ON (x.root_id, x.as_of)`,
		}
		for _, stmt := range stmts {
			res, err := session.Run(ctx, stmt, nil)
			if err != nil {
				p.log.Warn("neo4j schema init failed (continuing)", "error", err)
				continue
			}
			_, _ = res.Consume(ctx)
		}
	})
}

func (p *Neo4jProjection) ReplaceChains(ctx context.Context, asOf time.Time, rootIDs []string, chains []Chain) error {
	if p == nil || p.client == nil || p.client.Driver == nil {
		return ErrProjectionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	roots := uniqueStrings(rootIDs)
	if len(roots) == 0 {
		return nil
	}
	asOfStr := asOfKey(asOf)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	keep := make([]string, 0, len(chains))
	entityRows := make([]map[string]any, 0, len(chains)*4)
	seenEntity := map[string]bool{}
	edgeRows := make([]map[string]any, 0, len(chains)*3)
	seenEdge := map[uuid.UUID]bool{}
	chainRows := make([]map[string]any, 0, len(chains))

	addEntity := func(entityType, id string) string {
		k := entityKey(entityType, id)
		if !seenEntity[k] {
			seenEntity[k] = true
			entityRows = append(entityRows, map[string]any{"key": k, "id": id, "type": entityType})
		}
		return k
	}

	for _, c := range chains {
		if c.ExplanationID == uuid.Nil || len(c.Edges) == 0 {
			continue
		}
		keep = append(keep, c.ExplanationID.String())
		assertionIDs := make([]any, 0, len(c.Edges))
		for _, e := range c.Edges {
			fromKey := addEntity(e.FromType, e.FromID)
			toKey := addEntity(e.ToType, e.ToID)
			assertionIDs = append(assertionIDs, e.AssertionID.String())
			if seenEdge[e.AssertionID] {
				continue
			}
			seenEdge[e.AssertionID] = true
			var score any
			if e.Score != nil {
				score = *e.Score
			}
			edgeRows = append(edgeRows, map[string]any{
				"assertion_id": e.AssertionID.String(),
				"from_key":     fromKey,
				"to_key":       toKey,
				"predicate":    e.Predicate,
				"score":        score,
				"band":         e.Band,
				"link_method":  e.LinkMethod,
			})
		}
		chainRows = append(chainRows, map[string]any{
			"id":            c.ExplanationID.String(),
			"root_id":       c.RootID,
			"root_key":      entityKey(c.Edges[0].FromType, c.RootID),
			"strength":      c.StrengthScore,
			"assertion_ids": assertionIDs,
		})
	}

	session := p.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.client.Database,
	})
	defer session.Close(ctx)

	p.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
UNWIND $roots AS root
MATCH (x:Explanation {root_id: root, as_of: $as_of})
WHERE NOT x.id IN $keep
DETACH DELETE x
`, map[string]any{"roots": toAnySlice(roots), "as_of": asOfStr, "keep": toAnySlice(keep)}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(entityRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS n
MERGE (e:LedgerEntity {key: n.key})
SET e.id = n.id,
    e.type = n.type,
    e.synced_at = $synced_at
`, map[string]any{"rows": entityRows, "synced_at": now})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edgeRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS r
MATCH (a:LedgerEntity {key: r.from_key})
MATCH (b:LedgerEntity {key: r.to_key})
MERGE (a)-[e:ASSERTS {assertion_id: r.assertion_id}]->(b)
SET e.predicate = r.predicate,
    e.score = r.score,
    e.band = r.band,
    e.link_method = r.link_method,
    e.synced_at = $synced_at
`, map[string]any{"rows": edgeRows, "synced_at": now})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(chainRows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS c
MERGE (x:Explanation {id: c.id})
SET x.root_id = c.root_id,
    x.as_of = $as_of,
    x.strength = c.strength,
    x.assertion_ids = c.assertion_ids,
    x.synced_at = $synced_at
WITH x, c
MATCH (r:LedgerEntity {key: c.root_key})
MERGE (x)-[:ROOTED_AT]->(r)
`, map[string]any{"rows": chainRows, "as_of": asOfStr, "synced_at": now})
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
		return fmt.Errorf("neo4j replace chains: %w", err)
	}
	return nil
}

func (p *Neo4jProjection) ChainsForRoot(ctx context.Context, rootID string, asOf time.Time) ([]Chain, error) {
	if p == nil || p.client == nil || p.client.Driver == nil {
		return nil, ErrProjectionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	day := asOfKey(asOf)
	asOfDate, _ := time.Parse(time.DateOnly, day)

	session := p.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: p.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (x:Explanation {root_id: $root_id, as_of: $as_of})
RETURN x.id AS id, x.strength AS strength, x.assertion_ids AS assertion_ids
`, map[string]any{"root_id": rootID, "as_of": day})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		chains := make([]Chain, 0, len(records))
		order := make([][]string, 0, len(records))
		wanted := map[string]bool{}
		for _, rec := range records {
			c := Chain{RootID: rootID, AsOfDate: asOfDate}
			if v, ok := rec.Get("id"); ok {
				if s, ok := v.(string); ok {
					c.ExplanationID, _ = uuid.Parse(s)
				}
			}
			if v, ok := rec.Get("strength"); ok {
				c.StrengthScore = toFloat(v)
			}
			var ids []string
			if v, ok := rec.Get("assertion_ids"); ok {
				if list, ok := v.([]any); ok {
					for _, item := range list {
						if s, ok := item.(string); ok {
							ids = append(ids, s)
							wanted[s] = true
						}
					}
				}
			}
			chains = append(chains, c)
			order = append(order, ids)
		}
		if len(chains) == 0 {
			return chains, nil
		}

		keys := make([]string, 0, len(wanted))
		for k := range wanted {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		res, err = tx.Run(ctx, `
MATCH (a:LedgerEntity)-[e:ASSERTS]->(b:LedgerEntity)
WHERE e.assertion_id IN $ids
RETURN e.assertion_id AS assertion_id, e.predicate AS predicate, e.score AS score,
       e.band AS band, e.link_method AS link_method,
       a.type AS from_type, a.id AS from_id, b.type AS to_type, b.id AS to_id
`, map[string]any{"ids": toAnySlice(keys)})
		if err != nil {
			return nil, err
		}
		edgeRecords, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		edges := make(map[string]ChainEdge, len(edgeRecords))
		for _, rec := range edgeRecords {
			e := ChainEdge{
				Predicate:  recordString(rec, "predicate"),
				FromType:   recordString(rec, "from_type"),
				FromID:     recordString(rec, "from_id"),
				ToType:     recordString(rec, "to_type"),
				ToID:       recordString(rec, "to_id"),
				Band:       recordString(rec, "band"),
				LinkMethod: recordString(rec, "link_method"),
			}
			id := recordString(rec, "assertion_id")
			e.AssertionID, _ = uuid.Parse(id)
			if v, ok := rec.Get("score"); ok && v != nil {
				s := toFloat(v)
				e.Score = &s
			}
			edges[id] = e
		}
		for i := range chains {
			for _, id := range order[i] {
				if e, ok := edges[id]; ok {
					chains[i].Edges = append(chains[i].Edges, e)
				}
			}
		}
		return chains, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j chains for root: %w", err)
	}
	chains, _ := out.([]Chain)
	sortChains(chains)
	return chains, nil
}

func (p *Neo4jProjection) Roots(ctx context.Context, asOf time.Time) ([]string, error) {
	if p == nil || p.client == nil || p.client.Driver == nil {
		return nil, ErrProjectionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	session := p.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: p.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (x:Explanation {as_of: $as_of})
RETURN DISTINCT x.root_id AS root_id
`, map[string]any{"as_of": asOfKey(asOf)})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		roots := make([]string, 0, len(records))
		for _, rec := range records {
			if r := recordString(rec, "root_id"); r != "" {
				roots = append(roots, r)
			}
		}
		return roots, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list roots: %w", err)
	}
	roots, _ := out.([]string)
	sort.Strings(roots)
	return roots, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
