// Package tiger is a TigerGraph REST++ and GSQL server client scoped to one
// graph on one host.
package tiger

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

// Record is one vertex or edge as returned by REST++
type Record map[string]interface{}

// UpsertOptions are the flags of a raw data upsert
type UpsertOptions struct {
	Atomic           bool
	NewVertexOnly    bool
	VertexMustExist  bool
	UpdateVertexOnly bool
}

// LoadJob describes one loading job run with inline data
type LoadJob struct {
	Job     string
	FileTag string
	Data    []byte
	Sep     string
	EOL     string
}

// Conn is the set of graph operations the HTTP layer uses.
type Conn interface {
	Host() string
	Graph() string
	Credentials() Credentials

	CreateSecret(ctx context.Context, alias string) (string, error)
	GetToken(ctx context.Context, secret string) (string, error)

	UpsertVertices(ctx context.Context, vertexType string, vertices []query.Vertex) (int, error)
	UpsertEdges(ctx context.Context, edgeType string, edges []query.Edge) (int, error)
	UpsertData(ctx context.Context, data json.RawMessage, opts UpsertOptions) (map[string]interface{}, error)

	GetVertices(ctx context.Context, vertexType string, opts query.ReadOptions) ([]Record, error)
	DelVertices(ctx context.Context, vertexType string, opts query.ReadOptions) (int, error)
	GetEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) ([]Record, error)
	DelEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) (map[string]int, error)
	GetEdgesByType(ctx context.Context, edgeType string) ([]Record, error)

	GetSchema(ctx context.Context) (*Schema, error)
	GetVertexTypes(ctx context.Context) ([]string, error)
	GetVertexType(ctx context.Context, name string) (*VertexType, error)
	GetVertexAttrs(ctx context.Context, name string) ([]AttrInfo, error)
	GetEdgeTypes(ctx context.Context) ([]string, error)
	GetEdgeType(ctx context.Context, name string) (*EdgeType, error)
	GetEdgeAttrs(ctx context.Context, name string) ([]AttrInfo, error)
	GetVertexStats(ctx context.Context, vertexTypes ...string) (map[string]interface{}, error)
	GetEdgeStats(ctx context.Context, edgeTypes ...string) (map[string]interface{}, error)

	RunInstalledQuery(ctx context.Context, name string, params url.Values) (interface{}, error)
	RunLoadingJobWithData(ctx context.Context, job LoadJob) (interface{}, error)
}

var _ Conn = (*Client)(nil)
