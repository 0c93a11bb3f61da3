package query

import (
	"github.com/rohankatakam/graphrest/internal/errors"
)

// Vertex is one vertex to upsert
type Vertex struct {
	ID         string                 `json:"vertexId"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Edge is one edge to upsert
type Edge struct {
	SourceVertexType string                 `json:"sourceVertexType"`
	SourceVertexID   string                 `json:"sourceVertexId"`
	EdgeType         string                 `json:"edgeType"`
	TargetVertexType string                 `json:"targetVertexType"`
	TargetVertexID   string                 `json:"targetVertexId"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
}

// attributeValues converts plain attributes to the REST++ form
// {"attr": {"value": v}}. A two-element [value, "op"] array becomes
// {"value": value, "op": op}.
func attributeValues(attrs map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(attrs))
	for name, v := range attrs {
		if err := checkIdentifier("attribute name", name); err != nil {
			return nil, err
		}
		if pair, ok := v.([]interface{}); ok && len(pair) == 2 {
			if op, ok := pair[1].(string); ok {
				out[name] = map[string]interface{}{"value": pair[0], "op": op}
				continue
			}
		}
		out[name] = map[string]interface{}{"value": v}
	}
	return out, nil
}

// UpsertVertices returns the REST++ upsert body for vertices of one type.
func UpsertVertices(vertexType string, vertices []Vertex) (map[string]interface{}, error) {
	if err := checkIdentifier("vertex type", vertexType); err != nil {
		return nil, err
	}
	if len(vertices) == 0 {
		return nil, errors.ValidationError("vertices must not be empty")
	}

	byID := make(map[string]interface{}, len(vertices))
	for i, v := range vertices {
		if v.ID == "" {
			return nil, errors.ValidationErrorf("vertices[%d].vertexId is required", i)
		}
		attrs, err := attributeValues(v.Attributes)
		if err != nil {
			return nil, err
		}
		byID[v.ID] = attrs
	}

	return map[string]interface{}{
		"vertices": map[string]interface{}{vertexType: byID},
	}, nil
}

// UpsertEdges returns the REST++ upsert body nesting edges as
// source type > source id > edge type > target type > target id. An edge
// without its own edgeType takes edgeType.
func UpsertEdges(edgeType string, edges []Edge) (map[string]interface{}, error) {
	if len(edges) == 0 {
		return nil, errors.ValidationError("edges must not be empty")
	}

	root := map[string]interface{}{}
	for i, e := range edges {
		et := e.EdgeType
		if et == "" {
			et = edgeType
		}
		for kind, name := range map[string]string{
			"sourceVertexType": e.SourceVertexType,
			"edgeType":         et,
			"targetVertexType": e.TargetVertexType,
		} {
			if err := checkIdentifier(kind, name); err != nil {
				return nil, errors.ValidationErrorf("edges[%d]: %v", i, err)
			}
		}
		if e.SourceVertexID == "" || e.TargetVertexID == "" {
			return nil, errors.ValidationErrorf("edges[%d]: sourceVertexId and targetVertexId are required", i)
		}

		attrs, err := attributeValues(e.Attributes)
		if err != nil {
			return nil, err
		}

		node := child(child(child(child(root, e.SourceVertexType), e.SourceVertexID), et), e.TargetVertexType)
		node[e.TargetVertexID] = attrs
	}

	return map[string]interface{}{"edges": root}, nil
}

func child(m map[string]interface{}, key string) map[string]interface{} {
	if c, ok := m[key].(map[string]interface{}); ok {
		return c
	}
	c := map[string]interface{}{}
	m[key] = c
	return c
}
