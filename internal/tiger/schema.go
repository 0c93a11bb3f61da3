package tiger

import (
	"context"
	"fmt"
	"sort"

	"github.com/rohankatakam/graphrest/internal/errors"
)

// Schema is the graph schema returned by the GSQL server
type Schema struct {
	GraphName   string        `json:"GraphName"`
	VertexTypes []VertexType  `json:"VertexTypes"`
	EdgeTypes   []EdgeType    `json:"EdgeTypes"`
	UDTs        []interface{} `json:"UDTs,omitempty"`
}

// AttributeType is an attribute's declared type
type AttributeType struct {
	Name          string `json:"Name"`
	ValueTypeName string `json:"ValueTypeName,omitempty"`
	KeyTypeName   string `json:"KeyTypeName,omitempty"`
}

// String renders T, LIST(T), SET(T) or MAP(K,V).
func (t AttributeType) String() string {
	switch t.Name {
	case "LIST", "SET":
		return fmt.Sprintf("%s(%s)", t.Name, t.ValueTypeName)
	case "MAP":
		return fmt.Sprintf("MAP(%s,%s)", t.KeyTypeName, t.ValueTypeName)
	default:
		return t.Name
	}
}

// Attribute is one declared attribute
type Attribute struct {
	AttributeName string        `json:"AttributeName"`
	AttributeType AttributeType `json:"AttributeType"`
}

// AttrInfo is an attribute name with its rendered type
type AttrInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VertexType is one vertex type of the schema
type VertexType struct {
	Name       string                 `json:"Name"`
	PrimaryID  Attribute              `json:"PrimaryId"`
	Attributes []Attribute            `json:"Attributes"`
	Config     map[string]interface{} `json:"Config,omitempty"`
}

// EdgePair is one allowed (from, to) pair of a multi-pair edge type
type EdgePair struct {
	From string `json:"From"`
	To   string `json:"To"`
}

// EdgeType is one edge type of the schema
type EdgeType struct {
	Name               string                 `json:"Name"`
	FromVertexTypeName string                 `json:"FromVertexTypeName"`
	ToVertexTypeName   string                 `json:"ToVertexTypeName"`
	IsDirected         bool                   `json:"IsDirected"`
	Attributes         []Attribute            `json:"Attributes"`
	EdgePairs          []EdgePair             `json:"EdgePairs,omitempty"`
	Config             map[string]interface{} `json:"Config,omitempty"`
}

// SourceVertexType returns the single source vertex type of the edge type.
func (e *EdgeType) SourceVertexType() (string, error) {
	if e.FromVertexTypeName == "*" {
		return "", errors.ValidationErrorf("edge type '%s' has multiple source vertex types", e.Name)
	}
	from := e.FromVertexTypeName
	for _, p := range e.EdgePairs {
		if from == "" {
			from = p.From
		}
		if p.From != from {
			return "", errors.ValidationErrorf("edge type '%s' has multiple source vertex types", e.Name)
		}
	}
	if from == "" {
		return "", errors.ValidationErrorf("edge type '%s' has no source vertex type", e.Name)
	}
	return from, nil
}

func attrInfos(attrs []Attribute) []AttrInfo {
	out := make([]AttrInfo, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, AttrInfo{Name: a.AttributeName, Type: a.AttributeType.String()})
	}
	return out
}

func (c *Client) GetVertexTypes(ctx context.Context) ([]string, error) {
	s, err := c.cachedSchema(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.VertexTypes))
	for _, v := range s.VertexTypes {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) GetVertexType(ctx context.Context, name string) (*VertexType, error) {
	s, err := c.cachedSchema(ctx)
	if err != nil {
		return nil, err
	}
	for i := range s.VertexTypes {
		if s.VertexTypes[i].Name == name {
			return &s.VertexTypes[i], nil
		}
	}
	return nil, errors.NotFoundErrorf("vertex type '%s' not found", name)
}

func (c *Client) GetVertexAttrs(ctx context.Context, name string) ([]AttrInfo, error) {
	vt, err := c.GetVertexType(ctx, name)
	if err != nil {
		return nil, err
	}
	return attrInfos(vt.Attributes), nil
}

func (c *Client) GetEdgeTypes(ctx context.Context) ([]string, error) {
	s, err := c.cachedSchema(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.EdgeTypes))
	for _, e := range s.EdgeTypes {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) GetEdgeType(ctx context.Context, name string) (*EdgeType, error) {
	s, err := c.cachedSchema(ctx)
	if err != nil {
		return nil, err
	}
	for i := range s.EdgeTypes {
		if s.EdgeTypes[i].Name == name {
			return &s.EdgeTypes[i], nil
		}
	}
	return nil, errors.NotFoundErrorf("edge type '%s' not found", name)
}

func (c *Client) GetEdgeAttrs(ctx context.Context, name string) ([]AttrInfo, error) {
	et, err := c.GetEdgeType(ctx, name)
	if err != nil {
		return nil, err
	}
	return attrInfos(et.Attributes), nil
}
