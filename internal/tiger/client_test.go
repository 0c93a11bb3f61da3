package tiger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

const testSchema = `{"error":false,"message":"","results":{
  "GraphName":"Social",
  "VertexTypes":[{"Name":"Person","PrimaryId":{"AttributeName":"id","AttributeType":{"Name":"STRING"}},
    "Attributes":[
      {"AttributeName":"age","AttributeType":{"Name":"INT"}},
      {"AttributeName":"tags","AttributeType":{"Name":"LIST","ValueTypeName":"STRING"}},
      {"AttributeName":"scores","AttributeType":{"Name":"MAP","KeyTypeName":"STRING","ValueTypeName":"DOUBLE"}}]}],
  "EdgeTypes":[
    {"Name":"follows","FromVertexTypeName":"Person","ToVertexTypeName":"Person","IsDirected":true,
     "Attributes":[{"AttributeName":"since","AttributeType":{"Name":"DATETIME"}}]},
    {"Name":"likes","FromVertexTypeName":"*","ToVertexTypeName":"Post","IsDirected":true,"Attributes":[]}]
}}`

// fakeTigerServer serves both the REST++ and GSQL endpoints.
type fakeTigerServer struct {
	t       *testing.T
	queries []string
	headers http.Header
	params  url.Values
}

func (f *fakeTigerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.headers = r.Header.Clone()
	f.params = r.URL.Query()

	if strings.HasPrefix(r.URL.Path, "/gsqlserver/") {
		user, pass, ok := r.BasicAuth()
		if !(ok && user == "tigergraph" && pass == "pw") && r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":true,"message":"Wrong password"}`)
			return
		}
	} else if r.URL.Path != "/requesttoken" && r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":true,"message":"Access Denied because the input token = ''"}`)
		return
	}

	switch {
	case r.URL.Path == "/gsqlserver/gsql/secrets":
		io.WriteString(w, `{"error":false,"message":"","results":{"secret":"s3cr3t"}}`)
	case r.URL.Path == "/requesttoken":
		var body map[string]string
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if body["secret"] != "s3cr3t" {
			io.WriteString(w, `{"error":true,"message":"The secret is invalid"}`)
			return
		}
		io.WriteString(w, `{"error":false,"message":"","token":"tok-1","expiration":1700000000}`)
	case r.URL.Path == "/graph/Social" && r.Method == http.MethodPost:
		var body map[string]interface{}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["edges"]; ok {
			io.WriteString(w, `{"error":false,"results":[{"accepted_vertices":0,"accepted_edges":2}]}`)
			return
		}
		io.WriteString(w, `{"error":false,"results":[{"accepted_vertices":2,"accepted_edges":0}]}`)
	case r.URL.Path == "/graph/Social/vertices/Person" && r.Method == http.MethodGet:
		io.WriteString(w, `{"error":false,"results":[{"v_id":"alice","v_type":"Person","attributes":{"age":30}}]}`)
	case r.URL.Path == "/graph/Social/vertices/Person" && r.Method == http.MethodDelete:
		io.WriteString(w, `{"error":false,"results":{"v_type":"Person","deleted_vertices":3}}`)
	case r.URL.Path == "/graph/Social/vertices/Missing":
		io.WriteString(w, `{"error":true,"message":"Vertex type 'Missing' is not found"}`)
	case r.URL.Path == "/graph/Social/edges/Person/alice/follows" && r.Method == http.MethodGet:
		io.WriteString(w, `{"error":false,"results":[{"e_type":"follows","from_id":"alice","to_id":"bob"}]}`)
	case r.URL.Path == "/graph/Social/edges/Person/alice" && r.Method == http.MethodDelete:
		io.WriteString(w, `{"error":false,"results":[{"e_type":"follows","deleted_edges":2},{"e_type":"likes","deleted_edges":1}]}`)
	case r.URL.Path == "/gsqlserver/gsql/schema":
		io.WriteString(w, testSchema)
	case r.URL.Path == "/gsqlserver/interpreted_query":
		body, _ := io.ReadAll(r.Body)
		f.queries = append(f.queries, string(body))
		io.WriteString(w, `{"error":false,"results":[{"edges":[{"e_type":"follows","from_id":"alice","to_id":"bob"}]}]}`)
	case r.URL.Path == "/builtins/Social":
		var body map[string]string
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, `{"error":false,"results":[{"v_type":"`+body["type"]+`","attributes":{"age":{"MAX":40,"MIN":18}}}]}`)
	case r.URL.Path == "/query/Social/topFollowers":
		io.WriteString(w, `{"error":false,"results":[{"top":["alice"]}]}`)
	case r.URL.Path == "/ddl/Social":
		body, _ := io.ReadAll(r.Body)
		lines, _ := json.Marshal(strings.Count(string(body), "\n"))
		io.WriteString(w, `{"error":false,"results":[{"sourceFileName":"Online_POST","validLine":`+string(lines)+`}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":true,"message":"Endpoint is not found"}`)
	}
}

func newTestClient(t *testing.T, creds Credentials) (*Client, *fakeTigerServer) {
	fake := &fakeTigerServer{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := NewClient("tg.local", "Social", creds, Options{
		RESTPPURL: srv.URL,
		GSQLURL:   srv.URL,
		Logger:    logging.Discard(),
	})
	return c, fake
}

func connected(t *testing.T) (*Client, *fakeTigerServer) {
	c, fake := newTestClient(t, Credentials{Username: "tigergraph", Password: "pw"})
	secret, err := c.CreateSecret(context.Background(), "")
	require.NoError(t, err)
	_, err = c.GetToken(context.Background(), secret)
	require.NoError(t, err)
	return c, fake
}

func TestNormalizeHostAndKey(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5", NormalizeHost("10.0.0.5"))
	assert.Equal(t, "https://tg.example.com", NormalizeHost("https://tg.example.com/"))
	assert.Equal(t, "http://127.0.0.1/MyGraph", Key("127.0.0.1", "MyGraph"))

	c := NewClient("tg.local", "G", Credentials{}, Options{})
	assert.Equal(t, "http://tg.local:9000", c.restppURL)
	assert.Equal(t, "http://tg.local:14240", c.gsqlURL)
}

func TestSecretAndToken(t *testing.T) {
	c, _ := connected(t)
	creds := c.Credentials()
	assert.Equal(t, "s3cr3t", creds.Secret)
	assert.Equal(t, "tok-1", creds.Token)

	_, err := c.GetToken(context.Background(), "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The secret is invalid")
}

func TestCreateSecretNeedsPassword(t *testing.T) {
	c, _ := newTestClient(t, Credentials{Username: "tigergraph"})
	_, err := c.CreateSecret(context.Background(), "alias")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRESTPPRequiresToken(t *testing.T) {
	c, _ := newTestClient(t, Credentials{Username: "tigergraph", Password: "pw"})
	_, err := c.GetVertices(context.Background(), "Person", query.ReadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeForbidden))
}

func TestTokenOnlyClientUsesBearerForGSQL(t *testing.T) {
	c, fake := newTestClient(t, Credentials{Username: "tigergraph", Secret: "s3cr3t", Token: "tok-1"})
	types, err := c.GetVertexTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, types)
	assert.Equal(t, "Bearer tok-1", fake.headers.Get("Authorization"))
}

func TestUpserts(t *testing.T) {
	c, fake := connected(t)
	ctx := context.Background()

	n, err := c.UpsertVertices(ctx, "Person", []query.Vertex{
		{ID: "alice", Attributes: map[string]interface{}{"age": 30}},
		{ID: "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "nonatomic", fake.headers.Get("gsql-atomic-level"))

	n, err = c.UpsertEdges(ctx, "follows", []query.Edge{
		{SourceVertexType: "Person", SourceVertexID: "alice", TargetVertexType: "Person", TargetVertexID: "bob"},
		{SourceVertexType: "Person", SourceVertexID: "bob", TargetVertexType: "Person", TargetVertexID: "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := c.UpsertData(ctx, json.RawMessage(`{"vertices":{"Person":{"carol":{}}}}`), UpsertOptions{
		Atomic: true, NewVertexOnly: true, VertexMustExist: true,
	})
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), res["accepted_vertices"])
	assert.Equal(t, "atomic", fake.headers.Get("gsql-atomic-level"))
	assert.Equal(t, "true", fake.params.Get("new_vertex_only"))
	assert.Equal(t, "true", fake.params.Get("vertex_must_exist"))
	assert.Empty(t, fake.params.Get("update_vertex_only"))

	// A JSON string payload is sent as its content
	_, err = c.UpsertData(ctx, json.RawMessage(`"{\"vertices\":{}}"`), UpsertOptions{})
	require.NoError(t, err)

	_, err = c.UpsertData(ctx, nil, UpsertOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestVertexReadAndDelete(t *testing.T) {
	c, fake := connected(t)
	ctx := context.Background()

	vs, err := c.GetVertices(ctx, "Person", query.ReadOptions{Where: "age>20", Limit: 10})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "alice", vs[0]["v_id"])
	assert.Equal(t, "age>20", fake.params.Get("filter"))
	assert.Equal(t, "10", fake.params.Get("limit"))

	n, err := c.DelVertices(ctx, "Person", query.ReadOptions{Where: "age<18"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = c.GetVertices(ctx, "Missing", query.ReadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Vertex type 'Missing' is not found")
}

func TestEdgeReadAndDelete(t *testing.T) {
	c, _ := connected(t)
	ctx := context.Background()

	es, err := c.GetEdges(ctx, query.EdgeSelector{SourceVertexType: "Person", SourceVertexID: "alice", EdgeType: "follows"}, query.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, "bob", es[0]["to_id"])

	deleted, err := c.DelEdges(ctx, query.EdgeSelector{SourceVertexType: "Person", SourceVertexID: "alice"}, query.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"follows": 2, "likes": 1}, deleted)

	_, err = c.GetEdges(ctx, query.EdgeSelector{SourceVertexType: "Person", SourceVertexID: "alice", TargetVertexType: "Person"}, query.ReadOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGetEdgesByType(t *testing.T) {
	c, fake := connected(t)
	ctx := context.Background()

	es, err := c.GetEdgesByType(ctx, "follows")
	require.NoError(t, err)
	require.Len(t, es, 1)
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], `e.type == "follows" AND s.type == "Person"`)

	_, err = c.GetEdgesByType(ctx, "likes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple source vertex types")

	_, err = c.GetEdgesByType(ctx, "unknown")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSchemaDerivedLookups(t *testing.T) {
	c, _ := connected(t)
	ctx := context.Background()

	s, err := c.GetSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Social", s.GraphName)

	edges, err := c.GetEdgeTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"follows", "likes"}, edges)

	attrs, err := c.GetVertexAttrs(ctx, "Person")
	require.NoError(t, err)
	assert.Equal(t, []AttrInfo{
		{Name: "age", Type: "INT"},
		{Name: "tags", Type: "LIST(STRING)"},
		{Name: "scores", Type: "MAP(STRING,DOUBLE)"},
	}, attrs)

	eattrs, err := c.GetEdgeAttrs(ctx, "follows")
	require.NoError(t, err)
	assert.Equal(t, []AttrInfo{{Name: "since", Type: "DATETIME"}}, eattrs)

	_, err = c.GetVertexType(ctx, "Post")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStats(t *testing.T) {
	c, _ := connected(t)
	ctx := context.Background()

	stats, err := c.GetVertexStats(ctx, "Person")
	require.NoError(t, err)
	assert.Contains(t, stats, "Person")

	all, err := c.GetVertexStats(ctx, "*")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	estats, err := c.GetEdgeStats(ctx, "follows")
	require.NoError(t, err)
	assert.Contains(t, estats, "follows")
}

func TestRunInstalledQueryAndLoadingJob(t *testing.T) {
	c, fake := connected(t)
	ctx := context.Background()

	res, err := c.RunInstalledQuery(ctx, "topFollowers", url.Values{"k": {"3"}})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, "3", fake.params.Get("k"))

	out, err := c.RunLoadingJobWithData(ctx, LoadJob{
		Job: "load_people", FileTag: "f1", Data: []byte("alice,30\nbob,25\n"), Sep: ",",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{map[string]interface{}{"sourceFileName": "Online_POST", "validLine": json.Number("2")}}, out)
	assert.Equal(t, "load_people", fake.params.Get("tag"))
	assert.Equal(t, "f1", fake.params.Get("filename"))

	_, err = c.RunLoadingJobWithData(ctx, LoadJob{Job: "x", FileTag: "f"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSecretFrom(t *testing.T) {
	assert.Equal(t, "abc", secretFrom([]byte(`{"secret":"abc"}`)))
	assert.Equal(t, "abc", secretFrom([]byte(`{"results":{"value":"abc"}}`)))
	assert.Equal(t, "abc", secretFrom([]byte(`The secret: abc has been created for user "tigergraph".`)))
	assert.Equal(t, "", secretFrom([]byte(`{}`)))
}

func TestIntField(t *testing.T) {
	n, err := intField(map[string]interface{}{"deleted_vertices": json.Number("3")}, "deleted_vertices")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = intField(map[string]interface{}{}, "deleted_vertices")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, bad := range []interface{}{json.Number("2.5"), "3", float64(1.5), true} {
		_, err = intField(map[string]interface{}{"accepted_edges": bad}, "accepted_edges")
		require.Error(t, err, "%v", bad)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDatabase))
		assert.Contains(t, err.Error(), "malformed accepted_edges")
	}
}
