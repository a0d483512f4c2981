package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// GraphStore keeps memories as (:Agent)-[:REMEMBERS]->(:Memory) in Neo4j.
type GraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

var (
	_ memory.Storage         = (*GraphStore)(nil)
	_ memory.ImportanceSaver = (*GraphStore)(nil)
)

// NewGraphStore connects to Neo4j and verifies connectivity.
func NewGraphStore(ctx context.Context, uri, user, password string, logger *zap.Logger) (*GraphStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	logger.Info("Neo4j connected", zap.String("uri", uri))
	return &GraphStore{driver: driver, logger: logger}, nil
}

// EnsureSchema creates the uniqueness constraint and lookup index.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE INDEX memory_agent_created IF NOT EXISTS FOR (m:Memory) ON (m.agent_id, m.created_at)`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// Close shuts down the Neo4j driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Persist merges rec into the graph, linked to its agent.
func (g *GraphStore) Persist(ctx context.Context, rec *memory.Record) (string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var importance any
	if v, ok := rec.Importance(); ok {
		importance = v
	}
	_, err := session.Run(ctx,
		`MERGE (a:Agent {id: $agentId})
		 MERGE (m:Memory {id: $id})
		 ON CREATE SET m.agent_id = $agentId, m.content = $content,
		               m.type_code = $typeCode, m.created_at = $createdAt,
		               m.importance = $importance
		 MERGE (a)-[:REMEMBERS]->(m)`,
		map[string]interface{}{
			"id":         rec.ID(),
			"agentId":    rec.AgentID(),
			"content":    rec.Content(),
			"typeCode":   int64(rec.Type().Code()),
			"createdAt":  rec.CreatedAt(),
			"importance": importance,
		})
	if err != nil {
		return "", fmt.Errorf("create memory %s: %w", rec.ID(), err)
	}
	return rec.ID(), nil
}

// FetchByAgent returns the agent's memories created inside r, oldest first.
func (g *GraphStore) FetchByAgent(ctx context.Context, agentID string, r memory.TimeRange) ([]*memory.Record, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {agent_id: $agentId})
		 WHERE ($from IS NULL OR m.created_at >= $from)
		   AND ($to IS NULL OR m.created_at <= $to)
		 RETURN m.id AS id, m.content AS content, m.type_code AS typeCode,
		        m.created_at AS createdAt, m.importance AS importance
		 ORDER BY m.created_at ASC, m.id ASC`,
		map[string]interface{}{
			"agentId": agentID,
			"from":    nullTime(r.From),
			"to":      nullTime(r.To),
		})
	if err != nil {
		return nil, fmt.Errorf("query memories for %s: %w", agentID, err)
	}

	var records []*memory.Record
	for result.Next(ctx) {
		rec, err := recordFromGraph(agentID, result.Record())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return records, nil
}

func recordFromGraph(agentID string, row *neo4j.Record) (*memory.Record, error) {
	id, _, err := neo4j.GetRecordValue[string](row, "id")
	if err != nil {
		return nil, fmt.Errorf("memory id: %w", err)
	}
	content, _, err := neo4j.GetRecordValue[string](row, "content")
	if err != nil {
		return nil, fmt.Errorf("memory %s content: %w", id, err)
	}
	code, _, err := neo4j.GetRecordValue[int64](row, "typeCode")
	if err != nil {
		return nil, fmt.Errorf("memory %s type: %w", id, err)
	}
	createdAt, _, err := neo4j.GetRecordValue[time.Time](row, "createdAt")
	if err != nil {
		return nil, fmt.Errorf("memory %s created_at: %w", id, err)
	}

	var importance *float64
	if v, ok := row.Get("importance"); ok && v != nil {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("memory %s importance has type %T", id, v)
		}
		importance = &f
	}

	typ, err := memory.FromCode(int(code))
	if err != nil {
		return nil, fmt.Errorf("memory %s: %w", id, err)
	}
	return memory.Restore(id, agentID, content, typ, createdAt, importance)
}

// SaveImportance stores a score for a memory that has none yet.
func (g *GraphStore) SaveImportance(ctx context.Context, id string, score float64) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})
		 WHERE m.importance IS NULL
		 SET m.importance = $score`,
		map[string]interface{}{"id": id, "score": score})
	if err != nil {
		return fmt.Errorf("save importance %s: %w", id, err)
	}
	return nil
}
