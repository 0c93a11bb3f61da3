// Package query builds TigerGraph REST++ paths, upsert payloads and the
// interpreted GSQL used for edge lookups by type.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rohankatakam/graphrest/internal/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdentifier(kind, s string) error {
	if !identifierPattern.MatchString(s) {
		return errors.ValidationErrorf("invalid %s: %q (must be alphanumeric + underscore)", kind, s)
	}
	return nil
}

// EdgesByType returns the interpreted query listing every edge of edgeType
// whose source is sourceVertexType.
func EdgesByType(graph, edgeType, sourceVertexType string) (string, error) {
	if err := checkIdentifier("graph name", graph); err != nil {
		return "", err
	}
	if err := checkIdentifier("edge type", edgeType); err != nil {
		return "", err
	}
	if err := checkIdentifier("source vertex type", sourceVertexType); err != nil {
		return "", err
	}

	lines := []string{
		fmt.Sprintf("INTERPRET QUERY () FOR GRAPH %s {", graph),
		"  SetAccum<EDGE> @@edges;",
		"  start = {ANY};",
		"  res = SELECT s FROM start:s-(:e)->ANY:t",
		fmt.Sprintf(`    WHERE e.type == "%s" AND s.type == "%s"`, edgeType, sourceVertexType),
		"    ACCUM @@edges += e;",
		"  PRINT @@edges AS edges;",
		"}",
	}
	return strings.Join(lines, "\n"), nil
}

// VertexPath returns /graph/<g>/vertices/<type>.
func VertexPath(graph, vertexType string) (string, error) {
	if err := checkIdentifier("vertex type", vertexType); err != nil {
		return "", err
	}
	return "/graph/" + url.PathEscape(graph) + "/vertices/" + vertexType, nil
}

// EdgeSelector names the edges of one source vertex. Each optional part
// requires the one before it.
type EdgeSelector struct {
	SourceVertexType string
	SourceVertexID   string
	EdgeType         string
	TargetVertexType string
	TargetVertexID   string
}

// EdgePath returns /graph/<g>/edges/<src>/<id>[/<e>[/<t>[/<tid>]]].
func EdgePath(graph string, sel EdgeSelector) (string, error) {
	if err := checkIdentifier("source vertex type", sel.SourceVertexType); err != nil {
		return "", err
	}
	if sel.SourceVertexID == "" {
		return "", errors.ValidationError("sourceVertexId is required")
	}
	if sel.TargetVertexID != "" && sel.TargetVertexType == "" {
		return "", errors.ValidationError("targetVertexType is required when targetVertexId is given")
	}
	if sel.TargetVertexType != "" && sel.EdgeType == "" {
		return "", errors.ValidationError("edgeType is required when targetVertexType is given")
	}

	var sb strings.Builder
	sb.WriteString("/graph/" + url.PathEscape(graph) + "/edges/")
	sb.WriteString(sel.SourceVertexType + "/" + url.PathEscape(sel.SourceVertexID))
	if sel.EdgeType != "" {
		if err := checkIdentifier("edge type", sel.EdgeType); err != nil {
			return "", err
		}
		sb.WriteString("/" + sel.EdgeType)
	}
	if sel.TargetVertexType != "" {
		if err := checkIdentifier("target vertex type", sel.TargetVertexType); err != nil {
			return "", err
		}
		sb.WriteString("/" + sel.TargetVertexType)
	}
	if sel.TargetVertexID != "" {
		sb.WriteString("/" + url.PathEscape(sel.TargetVertexID))
	}
	return sb.String(), nil
}

// ReadOptions are the optional filters of vertex and edge reads and deletes.
type ReadOptions struct {
	Select string
	Where  string
	Limit  int
	Sort   string
}

// Values renders non-empty options as REST++ query parameters.
func (o ReadOptions) Values() url.Values {
	v := url.Values{}
	if o.Select != "" {
		v.Set("select", o.Select)
	}
	if o.Where != "" {
		v.Set("filter", o.Where)
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Sort != "" {
		v.Set("sort", o.Sort)
	}
	return v
}
