package tigerapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/graphrest/internal/audit"
	"github.com/rohankatakam/graphrest/internal/config"
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/storage"
	"github.com/rohankatakam/graphrest/internal/tiger"
	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

// fakeConn is an in-memory tiger.Conn that records the calls it serves.
type fakeConn struct {
	mu    sync.Mutex
	host  string
	graph string
	creds tiger.Credentials
	calls []string
	last  interface{}
}

func (f *fakeConn) called(name string, arg interface{}) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.last = arg
	f.mu.Unlock()
}

func (f *fakeConn) Host() string                   { return f.host }
func (f *fakeConn) Graph() string                  { return f.graph }
func (f *fakeConn) Credentials() tiger.Credentials { return f.creds }

func (f *fakeConn) CreateSecret(ctx context.Context, alias string) (string, error) {
	if f.creds.Password != "tigergraph" {
		return "", errors.ForbiddenError("wrong password")
	}
	f.called("CreateSecret", alias)
	return "s3cret", nil
}

func (f *fakeConn) GetToken(ctx context.Context, secret string) (string, error) {
	f.called("GetToken", secret)
	f.creds.Secret = secret
	f.creds.Token = "tok-" + secret
	return f.creds.Token, nil
}

func (f *fakeConn) UpsertVertices(ctx context.Context, vertexType string, vertices []query.Vertex) (int, error) {
	f.called("UpsertVertices", vertices)
	return len(vertices), nil
}

func (f *fakeConn) UpsertEdges(ctx context.Context, edgeType string, edges []query.Edge) (int, error) {
	f.called("UpsertEdges", edges)
	return len(edges), nil
}

func (f *fakeConn) UpsertData(ctx context.Context, data json.RawMessage, opts tiger.UpsertOptions) (map[string]interface{}, error) {
	f.called("UpsertData", opts)
	return map[string]interface{}{"accepted_vertices": 1, "accepted_edges": 0}, nil
}

func (f *fakeConn) GetVertices(ctx context.Context, vertexType string, opts query.ReadOptions) ([]tiger.Record, error) {
	f.called("GetVertices", opts)
	return []tiger.Record{{"v_id": "p1", "v_type": vertexType}}, nil
}

func (f *fakeConn) DelVertices(ctx context.Context, vertexType string, opts query.ReadOptions) (int, error) {
	f.called("DelVertices", opts)
	return 2, nil
}

func (f *fakeConn) GetEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) ([]tiger.Record, error) {
	f.called("GetEdges", sel)
	return []tiger.Record{{"e_type": "follows", "from_id": sel.SourceVertexID}}, nil
}

func (f *fakeConn) DelEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) (map[string]int, error) {
	f.called("DelEdges", sel)
	return map[string]int{"follows": 1}, nil
}

func (f *fakeConn) GetEdgesByType(ctx context.Context, edgeType string) ([]tiger.Record, error) {
	f.called("GetEdgesByType", edgeType)
	if edgeType == "missing" {
		return nil, errors.NotFoundErrorf("edge type '%s' not found", edgeType)
	}
	return []tiger.Record{{"e_type": edgeType}}, nil
}

func (f *fakeConn) GetSchema(ctx context.Context) (*tiger.Schema, error) {
	f.called("GetSchema", nil)
	return &tiger.Schema{GraphName: f.graph}, nil
}

func (f *fakeConn) GetVertexTypes(ctx context.Context) ([]string, error) {
	return []string{"Company", "Person"}, nil
}

func (f *fakeConn) GetVertexType(ctx context.Context, name string) (*tiger.VertexType, error) {
	return &tiger.VertexType{Name: name}, nil
}

func (f *fakeConn) GetVertexAttrs(ctx context.Context, name string) ([]tiger.AttrInfo, error) {
	return []tiger.AttrInfo{{Name: "age", Type: "INT"}}, nil
}

func (f *fakeConn) GetEdgeTypes(ctx context.Context) ([]string, error) {
	return []string{"follows"}, nil
}

func (f *fakeConn) GetEdgeType(ctx context.Context, name string) (*tiger.EdgeType, error) {
	return &tiger.EdgeType{Name: name}, nil
}

func (f *fakeConn) GetEdgeAttrs(ctx context.Context, name string) ([]tiger.AttrInfo, error) {
	return []tiger.AttrInfo{{Name: "since", Type: "DATETIME"}}, nil
}

func (f *fakeConn) GetVertexStats(ctx context.Context, vertexTypes ...string) (map[string]interface{}, error) {
	f.called("GetVertexStats", vertexTypes)
	return map[string]interface{}{"Person": map[string]interface{}{}}, nil
}

func (f *fakeConn) GetEdgeStats(ctx context.Context, edgeTypes ...string) (map[string]interface{}, error) {
	f.called("GetEdgeStats", edgeTypes)
	return map[string]interface{}{"follows": map[string]interface{}{}}, nil
}

func (f *fakeConn) RunInstalledQuery(ctx context.Context, name string, params url.Values) (interface{}, error) {
	f.called("RunInstalledQuery", params)
	return []interface{}{map[string]interface{}{"query": name}}, nil
}

func (f *fakeConn) RunLoadingJobWithData(ctx context.Context, job tiger.LoadJob) (interface{}, error) {
	f.called("RunLoadingJobWithData", job)
	return map[string]interface{}{"validLine": 2}, nil
}

type testEnv struct {
	svc     *Service
	handler http.Handler
	store   *storage.MemoryStore
	mu      sync.Mutex
	dialed  []*fakeConn
	audit   string
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := config.Default()
	logger := logging.Discard()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.NewLog(auditPath)
	require.NoError(t, err)

	env := &testEnv{store: storage.NewMemoryStore(), audit: auditPath}
	svc := New(cfg, NewRegistry(cfg.Registry, logger), env.store, auditLog, logger).
		WithDialer(func(host, graph string, creds tiger.Credentials) tiger.Conn {
			env.mu.Lock()
			defer env.mu.Unlock()
			c := &fakeConn{host: host, graph: graph, creds: creds}
			env.dialed = append(env.dialed, c)
			return c
		})
	env.svc = svc
	env.handler = svc.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) connect(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/graph/connect",
		`{"host":"tg.local","graphname":"social","username":"tigergraph","password":"tigergraph"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["connection_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (e *testEnv) lastConn() *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialed[len(e.dialed)-1]
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestConnectPersistsDescriptor(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)

	conn := env.lastConn()
	assert.Equal(t, "http://tg.local", conn.host)
	assert.Equal(t, []string{"CreateSecret", "GetToken"}, conn.calls)

	d, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "social", d.Graph)
	assert.Equal(t, "s3cret", d.Secret)
	assert.Equal(t, "tok-s3cret", d.Token)
	assert.False(t, d.CreatedAt.IsZero())
}

func TestConnectWithSecretSkipsCreate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/graph/connect",
		`{"host":"tg.local","graphname":"social","username":"u","password":"x","secret":"given"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"GetToken"}, env.lastConn().calls)
}

func TestConnectValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/graph/connect", `{"host":"tg.local","username":"u","password":"p"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "graphname is required", decode(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/graph/connect",
		`{"host":"tg.local","graphname":"social","username":"u","password":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutesNeedConnection(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/graph/schema", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errConnectFirst, decode(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderConnID, "unknown")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveByIDAndByHostGraph(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)

	rec := env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "social", decode(t, rec)["GraphName"])

	rec = env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderHost, "tg.local", HeaderGraph, "social")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderHost, "tg.local", HeaderGraph, "other")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.dialed, 1)
}

func TestConnectionRestoredFromStore(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.Save(context.Background(), &storage.Descriptor{
		ID:       "saved-1",
		Host:     "http://tg.local",
		Graph:    "social",
		Username: "tigergraph",
		Secret:   "s1",
		Token:    "t1",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderConnID, "saved-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	conn := env.lastConn()
	assert.Equal(t, "t1", conn.creds.Token)
	assert.Empty(t, conn.creds.Password)

	env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderConnID, "saved-1")
	assert.Len(t, env.dialed, 1)
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)

	rec := env.do(t, http.MethodDelete, "/api/graph/connect", "", HeaderConnID, id)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	_, err := env.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec = env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderHost, "tg.local", HeaderGraph, "social")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/graph/connect", "", HeaderConnID, id)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/graph/connect", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVertexRoutes(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)
	conn := env.lastConn()

	rec := env.do(t, http.MethodPost, "/api/vertices/",
		`{"vertexType":"Person","vertices":[{"vertexId":"p1","attributes":{"age":30}},{"vertexId":"p2"}]}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["upserted"])

	rec = env.do(t, http.MethodPost, "/api/vertices/", `{"vertexType":"Person","vertices":[]}`, HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/vertices/?vertex_type=Person&where=age%3E20&limit=5&sort=-age", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, query.ReadOptions{Where: "age>20", Limit: 5, Sort: "-age"}, conn.last)

	rec = env.do(t, http.MethodGet, "/api/vertices/?vertex_type=Person&limit=many", "", HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/vertices/", "", HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/vertices/", `{"vertexType":"Person","where":"age<18"}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["deleted"])

	rec = env.do(t, http.MethodGet, "/api/vertices/types", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["Company","Person"]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/vertices/types?vertex_type=Person", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Person", decode(t, rec)["Name"])

	rec = env.do(t, http.MethodGet, "/api/vertices/attrs?vertex_type=Person", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"age","type":"INT"}]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/vertices/stats?vertex_type=Person&vertex_type=Company", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Person", "Company"}, conn.last)
}

func TestEdgeRoutes(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)
	conn := env.lastConn()

	rec := env.do(t, http.MethodPost, "/api/edges/",
		`{"edgeType":"follows","edges":[{"sourceVertexType":"Person","sourceVertexId":"p1","targetVertexType":"Person","targetVertexId":"p2"}]}`,
		HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["upserted"])

	rec = env.do(t, http.MethodGet, "/api/edges/?edge_type=follows", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "follows", conn.last)

	rec = env.do(t, http.MethodGet, "/api/edges/?by=type&edge_type=missing", "", HeaderConnID, id)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/edges/?by=source&source_vertex_type=Person&source_vertex_id=p1&edge_type=follows", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, query.EdgeSelector{SourceVertexType: "Person", SourceVertexID: "p1", EdgeType: "follows"}, conn.last)

	for _, path := range []string{"/api/edges/?by=target", "/api/edges/?by=source&source_vertex_type=Person", "/api/edges/"} {
		rec = env.do(t, http.MethodGet, path, "", HeaderConnID, id)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "by parameter should be 'type' or 'source'", decode(t, rec)["detail"], path)
	}

	rec = env.do(t, http.MethodDelete, "/api/edges/", `{"sourceVertexType":"Person","sourceVertexId":"p1","edgeType":"follows"}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["follows"])

	rec = env.do(t, http.MethodDelete, "/api/edges/", `{"edgeType":"follows"}`, HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/edges/types", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"follows"}, decode(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/api/edges/attrs?edge_type=follows", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"since","type":"DATETIME"}]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/edges/stats", "", HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphRoutes(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)
	conn := env.lastConn()

	rec := env.do(t, http.MethodPost, "/api/graph/upsert",
		`{"data":"{\"vertices\":{}}","atomic":true,"vertexMustExist":true}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, tiger.UpsertOptions{Atomic: true, VertexMustExist: true}, conn.last)

	rec = env.do(t, http.MethodPost, "/api/graph/upsert", `{"atomic":true}`, HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graph/query?query=topFriends&person=p1&k=3", "", HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, url.Values{"person": {"p1"}, "k": {"3"}}, conn.last)

	rec = env.do(t, http.MethodGet, "/api/graph/query", "", HeaderConnID, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadingJobUpload(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)
	conn := env.lastConn()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("job", "load_people"))
	require.NoError(t, mw.WriteField("tag", "f1"))
	require.NoError(t, mw.WriteField("sep", ","))
	fw, err := mw.CreateFormFile("file", "people.csv")
	require.NoError(t, err)
	fw.Write([]byte("id,age\np1,30\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/graph/load", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderConnID, id)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job, ok := conn.last.(tiger.LoadJob)
	require.True(t, ok)
	assert.Equal(t, "load_people", job.Job)
	assert.Equal(t, "f1", job.FileTag)
	assert.Equal(t, ",", job.Sep)
	assert.Equal(t, "id,age\np1,30\n", string(job.Data))

	rec = env.do(t, http.MethodPost, "/api/graph/load", "job=x", HeaderConnID, id, "Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarmRestoresStoredConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		require.NoError(t, env.store.Save(ctx, &storage.Descriptor{
			ID:        id,
			Host:      "http://tg.local",
			Graph:     "social",
			Username:  "tigergraph",
			Token:     "tok-" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	n, err := env.svc.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, env.dialed, 2)

	rec := env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderConnID, "old")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/graph/schema", "", HeaderHost, "tg.local", HeaderGraph, "social")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.dialed, 2, "warmed connections are not dialed again")
	assert.Equal(t, "tok-new", env.dialed[1].creds.Token)
	assert.Equal(t, []string{"GetSchema"}, env.dialed[1].calls)
}

func TestBulkDeletesAuditTheirFilter(t *testing.T) {
	env := newTestEnv(t)
	id := env.connect(t)

	rec := env.do(t, http.MethodDelete, "/api/vertices/", `{"vertexType":"Person","where":"age<18"}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/edges/",
		`{"sourceVertexType":"Person","sourceVertexId":"p1","edgeType":"follows","where":"weight<0.5"}`, HeaderConnID, id)
	require.Equal(t, http.StatusOK, rec.Code)

	f, err := os.Open(env.audit)
	require.NoError(t, err)
	defer f.Close()

	var events []audit.MutationEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev audit.MutationEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "graph.connect", events[0].Operation)
	assert.Equal(t, id, events[0].Detail)

	assert.Equal(t, "vertex.delete", events[1].Operation)
	assert.Equal(t, "Person", events[1].Target)
	assert.Equal(t, "age<18", events[1].Detail)

	assert.Equal(t, "edge.delete", events[2].Operation)
	assert.Equal(t, "Person/p1", events[2].Target)
	assert.Equal(t, "weight<0.5", events[2].Detail)
}
