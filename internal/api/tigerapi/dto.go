package tigerapi

import (
	"bytes"
	"encoding/json"

	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/tiger"
	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

// Connect registers a graph connection. Without a secret one is created
// with the password.
type Connect struct {
	Host      string `json:"host"`
	GraphName string `json:"graphname"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Secret    string `json:"secret"`
}

func (c *Connect) Validate() error {
	switch {
	case c.Host == "":
		return errors.ValidationError("host is required")
	case c.GraphName == "":
		return errors.ValidationError("graphname is required")
	case c.Username == "":
		return errors.ValidationError("username is required")
	case c.Password == "":
		return errors.ValidationError("password is required")
	}
	return nil
}

type UpsertVertices struct {
	VertexType string         `json:"vertexType"`
	Vertices   []query.Vertex `json:"vertices"`
}

func (u *UpsertVertices) Validate() error {
	if u.VertexType == "" {
		return errors.ValidationError("vertexType is required")
	}
	if len(u.Vertices) == 0 {
		return errors.ValidationError("vertices must not be empty")
	}
	return nil
}

type DeleteVertex struct {
	VertexType string `json:"vertexType"`
	Where      string `json:"where"`
}

func (d *DeleteVertex) Validate() error {
	if d.VertexType == "" {
		return errors.ValidationError("vertexType is required")
	}
	return nil
}

type UpsertEdges struct {
	EdgeType string       `json:"edgeType"`
	Edges    []query.Edge `json:"edges"`
}

func (u *UpsertEdges) Validate() error {
	if u.EdgeType == "" {
		return errors.ValidationError("edgeType is required")
	}
	if len(u.Edges) == 0 {
		return errors.ValidationError("edges must not be empty")
	}
	return nil
}

type DeleteEdge struct {
	SourceVertexType string `json:"sourceVertexType"`
	SourceVertexID   string `json:"sourceVertexId"`
	EdgeType         string `json:"edgeType"`
	TargetVertexType string `json:"targetVertexType"`
	TargetVertexID   string `json:"targetVertexId"`
	Where            string `json:"where"`
}

func (d *DeleteEdge) Validate() error {
	if d.SourceVertexType == "" || d.SourceVertexID == "" {
		return errors.ValidationError("sourceVertexType and sourceVertexId are required")
	}
	return nil
}

func (d *DeleteEdge) selector() query.EdgeSelector {
	return query.EdgeSelector{
		SourceVertexType: d.SourceVertexType,
		SourceVertexID:   d.SourceVertexID,
		EdgeType:         d.EdgeType,
		TargetVertexType: d.TargetVertexType,
		TargetVertexID:   d.TargetVertexID,
	}
}

// UpsertJob carries data already in REST++ upsert format, as an object or
// as a JSON string.
type UpsertJob struct {
	Data             json.RawMessage `json:"data"`
	Atomic           bool            `json:"atomic"`
	NewVertexOnly    bool            `json:"newVertexOnly"`
	VertexMustExist  bool            `json:"vertexMustExist"`
	UpdateVertexOnly bool            `json:"updateVertexOnly"`
}

func (u *UpsertJob) Validate() error {
	d := bytes.TrimSpace(u.Data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return errors.ValidationError("data is required")
	}
	return nil
}

func (u *UpsertJob) options() tiger.UpsertOptions {
	return tiger.UpsertOptions{
		Atomic:           u.Atomic,
		NewVertexOnly:    u.NewVertexOnly,
		VertexMustExist:  u.VertexMustExist,
		UpdateVertexOnly: u.UpdateVertexOnly,
	}
}
