package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/graphrest/internal/errors"
)

func TestEdgesByType(t *testing.T) {
	q, err := EdgesByType("Social", "follows", "Person")
	require.NoError(t, err)
	assert.Contains(t, q, "INTERPRET QUERY () FOR GRAPH Social {")
	assert.Contains(t, q, `WHERE e.type == "follows" AND s.type == "Person"`)
	assert.Contains(t, q, "PRINT @@edges AS edges;")

	_, err = EdgesByType("Social", `follows" OR 1==1`, "Person")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestVertexPath(t *testing.T) {
	p, err := VertexPath("Social", "Person")
	require.NoError(t, err)
	assert.Equal(t, "/graph/Social/vertices/Person", p)

	_, err = VertexPath("Social", "../x")
	assert.Error(t, err)
}

func TestEdgePath(t *testing.T) {
	tests := []struct {
		name    string
		sel     EdgeSelector
		want    string
		wantErr string
	}{
		{
			name: "source only",
			sel:  EdgeSelector{SourceVertexType: "Person", SourceVertexID: "alice"},
			want: "/graph/G/edges/Person/alice",
		},
		{
			name: "full path",
			sel: EdgeSelector{
				SourceVertexType: "Person", SourceVertexID: "alice",
				EdgeType: "follows", TargetVertexType: "Person", TargetVertexID: "bob smith",
			},
			want: "/graph/G/edges/Person/alice/follows/Person/bob%20smith",
		},
		{
			name:    "missing source id",
			sel:     EdgeSelector{SourceVertexType: "Person"},
			wantErr: "sourceVertexId is required",
		},
		{
			name:    "target id without target type",
			sel:     EdgeSelector{SourceVertexType: "Person", SourceVertexID: "a", EdgeType: "follows", TargetVertexID: "b"},
			wantErr: "targetVertexType is required",
		},
		{
			name:    "target type without edge type",
			sel:     EdgeSelector{SourceVertexType: "Person", SourceVertexID: "a", TargetVertexType: "Person"},
			wantErr: "edgeType is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EdgePath("G", tt.sel)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadOptionsValues(t *testing.T) {
	v := ReadOptions{Select: "name", Where: "age>30", Limit: 5, Sort: "-age"}.Values()
	assert.Equal(t, "name", v.Get("select"))
	assert.Equal(t, "age>30", v.Get("filter"))
	assert.Equal(t, "5", v.Get("limit"))
	assert.Equal(t, "-age", v.Get("sort"))

	assert.Empty(t, ReadOptions{}.Values())
}

func TestUpsertVertices(t *testing.T) {
	body, err := UpsertVertices("Person", []Vertex{
		{ID: "alice", Attributes: map[string]interface{}{"age": 30}},
		{ID: "bob", Attributes: map[string]interface{}{"visits": []interface{}{1, "+"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"vertices": map[string]interface{}{
			"Person": map[string]interface{}{
				"alice": map[string]interface{}{"age": map[string]interface{}{"value": 30}},
				"bob":   map[string]interface{}{"visits": map[string]interface{}{"value": 1, "op": "+"}},
			},
		},
	}, body)

	_, err = UpsertVertices("Person", nil)
	assert.Error(t, err)
	_, err = UpsertVertices("Person", []Vertex{{}})
	assert.Error(t, err)
}

func TestUpsertEdges(t *testing.T) {
	body, err := UpsertEdges("follows", []Edge{
		{SourceVertexType: "Person", SourceVertexID: "alice", TargetVertexType: "Person", TargetVertexID: "bob",
			Attributes: map[string]interface{}{"since": "2024"}},
		{SourceVertexType: "Person", SourceVertexID: "alice", TargetVertexType: "Person", TargetVertexID: "carol"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"edges": map[string]interface{}{
			"Person": map[string]interface{}{
				"alice": map[string]interface{}{
					"follows": map[string]interface{}{
						"Person": map[string]interface{}{
							"bob":   map[string]interface{}{"since": map[string]interface{}{"value": "2024"}},
							"carol": map[string]interface{}{},
						},
					},
				},
			},
		},
	}, body)

	_, err = UpsertEdges("follows", []Edge{{SourceVertexType: "Person", SourceVertexID: "a", TargetVertexType: "Person"}})
	assert.Error(t, err)
}
