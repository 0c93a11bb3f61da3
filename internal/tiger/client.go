package tiger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/metrics"
	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

// Options configures a Client
type Options struct {
	RESTPPPort    int
	GSQLPort      int
	Timeout       time.Duration
	TokenLifetime time.Duration
	RateLimit     float64 // Requests per second, 0 = unlimited
	Burst         int
	Logger        *logrus.Logger
	HTTPClient    *http.Client // Overrides Timeout when set

	// RESTPPURL and GSQLURL replace the host:port derived endpoints
	RESTPPURL string
	GSQLURL   string
}

// Credentials authenticate a Client. Password is needed only to create
// secrets; everything else works with a token.
type Credentials struct {
	Username string
	Password string
	Secret   string
	Token    string
}

// Client talks to one graph on one TigerGraph host. It is safe for
// concurrent use.
type Client struct {
	host          string
	graph         string
	restppURL     string
	gsqlURL       string
	tokenLifetime time.Duration
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *logrus.Entry

	mu     sync.RWMutex
	creds  Credentials
	schema *Schema
}

// NormalizeHost prefixes http:// unless host already starts with "http".
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host
	}
	return host
}

// Key is the registry key of a (host, graph) pair.
func Key(host, graph string) string {
	return NormalizeHost(host) + "/" + graph
}

// NewClient creates a client for graph on host.
func NewClient(host, graph string, creds Credentials, opts Options) *Client {
	if opts.RESTPPPort == 0 {
		opts.RESTPPPort = 9000
	}
	if opts.GSQLPort == 0 {
		opts.GSQLPort = 14240
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.TokenLifetime == 0 {
		opts.TokenLifetime = 30 * 24 * time.Hour
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	host = NormalizeHost(host)
	restpp := opts.RESTPPURL
	if restpp == "" {
		restpp = host + ":" + strconv.Itoa(opts.RESTPPPort)
	}
	gsql := opts.GSQLURL
	if gsql == "" {
		gsql = host + ":" + strconv.Itoa(opts.GSQLPort)
	}

	return &Client{
		host:          host,
		graph:         graph,
		restppURL:     strings.TrimSuffix(restpp, "/"),
		gsqlURL:       strings.TrimSuffix(gsql, "/"),
		tokenLifetime: opts.TokenLifetime,
		httpClient:    httpClient,
		limiter:       limiter,
		logger:        logging.Component(logger, "tiger").WithFields(logrus.Fields{"host": host, "graph": graph}),
		creds:         creds,
	}
}

func (c *Client) Host() string  { return c.host }
func (c *Client) Graph() string { return c.graph }

// Credentials returns a copy of the current credentials
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// CreateSecret creates a GSQL secret for the graph. It needs a password.
func (c *Client) CreateSecret(ctx context.Context, alias string) (string, error) {
	if c.Credentials().Password == "" {
		return "", errors.ValidationError("a password is required to create a secret")
	}
	params := url.Values{"graph": {c.graph}}
	if alias != "" {
		params.Set("alias", alias)
	}

	raw, err := c.do(ctx, request{
		op:     "create_secret",
		method: http.MethodPost,
		url:    c.gsqlURL + "/gsqlserver/gsql/secrets",
		params: params,
		gsql:   true,
	})
	if err != nil {
		return "", err
	}

	secret := secretFrom(raw)
	if secret == "" {
		return "", errors.DatabaseError(fmt.Errorf("no secret in response"), "tigergraph create_secret")
	}

	c.mu.Lock()
	c.creds.Secret = secret
	c.mu.Unlock()
	return secret, nil
}

// GetToken exchanges secret for a REST++ token and starts using it.
func (c *Client) GetToken(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", errors.ValidationError("secret is required")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"secret":   secret,
		"graph":    c.graph,
		"lifetime": strconv.Itoa(int(c.tokenLifetime.Seconds())),
	})

	raw, err := c.do(ctx, request{
		op:     "get_token",
		method: http.MethodPost,
		url:    c.restppURL + "/requesttoken",
		body:   body,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Token   string `json:"token"`
		Results struct {
			Token string `json:"token"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errors.DatabaseErrorf(err, "tigergraph get_token: decoding response")
	}
	token := out.Token
	if token == "" {
		token = out.Results.Token
	}
	if token == "" {
		return "", errors.DatabaseError(fmt.Errorf("no token in response"), "tigergraph get_token")
	}

	c.mu.Lock()
	c.creds.Secret, c.creds.Token = secret, token
	c.mu.Unlock()

	c.logger.Info("token acquired")
	return token, nil
}

func (c *Client) UpsertVertices(ctx context.Context, vertexType string, vertices []query.Vertex) (int, error) {
	payload, err := query.UpsertVertices(vertexType, vertices)
	if err != nil {
		return 0, err
	}
	res, err := c.upsert(ctx, "upsert_vertices", payload, UpsertOptions{})
	if err != nil {
		return 0, err
	}
	return intField(res, "accepted_vertices")
}

func (c *Client) UpsertEdges(ctx context.Context, edgeType string, edges []query.Edge) (int, error) {
	payload, err := query.UpsertEdges(edgeType, edges)
	if err != nil {
		return 0, err
	}
	res, err := c.upsert(ctx, "upsert_edges", payload, UpsertOptions{})
	if err != nil {
		return 0, err
	}
	return intField(res, "accepted_edges")
}

// UpsertData posts vertices and edges already in REST++ upsert format. A
// JSON string is sent as its unquoted content.
func (c *Client) UpsertData(ctx context.Context, data json.RawMessage, opts UpsertOptions) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.ValidationError("data is required")
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = json.RawMessage(s)
	}
	return c.upsert(ctx, "upsert_data", data, opts)
}

func (c *Client) upsert(ctx context.Context, op string, payload interface{}, opts UpsertOptions) (map[string]interface{}, error) {
	var body []byte
	switch p := payload.(type) {
	case json.RawMessage:
		body = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, errors.ValidationErrorf("failed to marshal upsert: %v", err)
		}
		body = b
	}

	atomic := "nonatomic"
	if opts.Atomic {
		atomic = "atomic"
	}
	params := url.Values{}
	if opts.NewVertexOnly {
		params.Set("new_vertex_only", "true")
	}
	if opts.VertexMustExist {
		params.Set("vertex_must_exist", "true")
	}
	if opts.UpdateVertexOnly {
		params.Set("update_vertex_only", "true")
	}

	raw, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.restppURL + "/graph/" + url.PathEscape(c.graph),
		params: params,
		body:   body,
		header: map[string]string{"gsql-atomic-level": atomic},
	})
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	if err := decodeResults(raw, &results); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph %s: decoding response", op)
	}
	if len(results) == 0 {
		return map[string]interface{}{}, nil
	}
	return results[0], nil
}

func (c *Client) GetVertices(ctx context.Context, vertexType string, opts query.ReadOptions) ([]Record, error) {
	path, err := query.VertexPath(c.graph, vertexType)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, request{op: "get_vertices", method: http.MethodGet, url: c.restppURL + path, params: opts.Values()})
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := decodeResults(raw, &out); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph get_vertices: decoding response")
	}
	return out, nil
}

func (c *Client) DelVertices(ctx context.Context, vertexType string, opts query.ReadOptions) (int, error) {
	path, err := query.VertexPath(c.graph, vertexType)
	if err != nil {
		return 0, err
	}
	raw, err := c.do(ctx, request{op: "delete_vertices", method: http.MethodDelete, url: c.restppURL + path, params: opts.Values()})
	if err != nil {
		return 0, err
	}
	var out map[string]interface{}
	if err := decodeResults(raw, &out); err != nil {
		return 0, errors.DatabaseErrorf(err, "tigergraph delete_vertices: decoding response")
	}
	return intField(out, "deleted_vertices")
}

func (c *Client) GetEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) ([]Record, error) {
	path, err := query.EdgePath(c.graph, sel)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, request{op: "get_edges", method: http.MethodGet, url: c.restppURL + path, params: opts.Values()})
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := decodeResults(raw, &out); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph get_edges: decoding response")
	}
	return out, nil
}

// DelEdges deletes the selected edges and returns deleted counts by edge type.
func (c *Client) DelEdges(ctx context.Context, sel query.EdgeSelector, opts query.ReadOptions) (map[string]int, error) {
	path, err := query.EdgePath(c.graph, sel)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, request{op: "delete_edges", method: http.MethodDelete, url: c.restppURL + path, params: opts.Values()})
	if err != nil {
		return nil, err
	}
	var results []map[string]interface{}
	if err := decodeResults(raw, &results); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph delete_edges: decoding response")
	}
	out := make(map[string]int, len(results))
	for _, r := range results {
		et, ok := r["e_type"].(string)
		if !ok {
			continue
		}
		n, err := intField(r, "deleted_edges")
		if err != nil {
			return nil, err
		}
		out[et] += n
	}
	return out, nil
}

// GetEdgesByType returns every edge of edgeType. The edge type must have a
// single source vertex type.
func (c *Client) GetEdgesByType(ctx context.Context, edgeType string) ([]Record, error) {
	et, err := c.GetEdgeType(ctx, edgeType)
	if err != nil {
		return nil, err
	}
	source, err := et.SourceVertexType()
	if err != nil {
		return nil, err
	}
	gsql, err := query.EdgesByType(c.graph, edgeType, source)
	if err != nil {
		return nil, err
	}

	raw, err := c.do(ctx, request{
		op:          "edges_by_type",
		method:      http.MethodPost,
		url:         c.gsqlURL + "/gsqlserver/interpreted_query",
		body:        []byte(gsql),
		contentType: "text/plain",
		gsql:        true,
	})
	if err != nil {
		return nil, err
	}
	var results []struct {
		Edges []Record `json:"edges"`
	}
	if err := decodeResults(raw, &results); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph edges_by_type: decoding response")
	}
	if len(results) == 0 {
		return []Record{}, nil
	}
	return results[0].Edges, nil
}

// GetSchema fetches the schema and refreshes the cached copy.
func (c *Client) GetSchema(ctx context.Context) (*Schema, error) {
	raw, err := c.do(ctx, request{
		op:     "get_schema",
		method: http.MethodGet,
		url:    c.gsqlURL + "/gsqlserver/gsql/schema",
		params: url.Values{"graph": {c.graph}},
		gsql:   true,
	})
	if err != nil {
		return nil, err
	}
	var s Schema
	if err := decodeResults(raw, &s); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph get_schema: decoding response")
	}

	c.mu.Lock()
	c.schema = &s
	c.mu.Unlock()
	return &s, nil
}

// cachedSchema returns the last fetched schema, fetching it on first use.
func (c *Client) cachedSchema(ctx context.Context) (*Schema, error) {
	c.mu.RLock()
	s := c.schema
	c.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	return c.GetSchema(ctx)
}

// GetVertexStats returns attribute statistics keyed by vertex type. No
// types, or "*", means every vertex type.
func (c *Client) GetVertexStats(ctx context.Context, vertexTypes ...string) (map[string]interface{}, error) {
	types, err := c.expandTypes(ctx, vertexTypes, c.GetVertexTypes)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(types))
	for _, vt := range types {
		stats, err := c.builtinStats(ctx, "vertex_stats", map[string]string{"function": "stat_vertex_attr", "type": vt})
		if err != nil {
			return nil, err
		}
		out[vt] = stats
	}
	return out, nil
}

// GetEdgeStats returns attribute statistics keyed by edge type.
func (c *Client) GetEdgeStats(ctx context.Context, edgeTypes ...string) (map[string]interface{}, error) {
	types, err := c.expandTypes(ctx, edgeTypes, c.GetEdgeTypes)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(types))
	for _, et := range types {
		stats, err := c.builtinStats(ctx, "edge_stats", map[string]string{
			"function": "stat_edge_attr", "type": et, "from_type": "*", "to_type": "*",
		})
		if err != nil {
			return nil, err
		}
		out[et] = stats
	}
	return out, nil
}

func (c *Client) expandTypes(ctx context.Context, types []string, all func(context.Context) ([]string, error)) ([]string, error) {
	if len(types) == 0 || (len(types) == 1 && types[0] == "*") {
		return all(ctx)
	}
	return types, nil
}

func (c *Client) builtinStats(ctx context.Context, op string, body map[string]string) (interface{}, error) {
	payload, _ := json.Marshal(body)
	raw, err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		url:    c.restppURL + "/builtins/" + url.PathEscape(c.graph),
		body:   payload,
	})
	if err != nil {
		return nil, err
	}
	var results []struct {
		Attributes interface{} `json:"attributes"`
	}
	if err := decodeResults(raw, &results); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph %s: decoding response", op)
	}
	if len(results) == 0 {
		return map[string]interface{}{}, nil
	}
	return results[0].Attributes, nil
}

func (c *Client) RunInstalledQuery(ctx context.Context, name string, params url.Values) (interface{}, error) {
	if name == "" {
		return nil, errors.ValidationError("query name is required")
	}
	raw, err := c.do(ctx, request{
		op:     "run_query",
		method: http.MethodGet,
		url:    c.restppURL + "/query/" + url.PathEscape(c.graph) + "/" + url.PathEscape(name),
		params: params,
	})
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := decodeResults(raw, &out); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph run_query: decoding response")
	}
	return out, nil
}

// RunLoadingJobWithData runs a loading job, feeding it data under the
// job's file tag.
func (c *Client) RunLoadingJobWithData(ctx context.Context, job LoadJob) (interface{}, error) {
	if job.Job == "" || job.FileTag == "" {
		return nil, errors.ValidationError("job and file tag are required")
	}
	if len(job.Data) == 0 {
		return nil, errors.ValidationError("data is empty")
	}
	params := url.Values{"tag": {job.Job}, "filename": {job.FileTag}}
	if job.Sep != "" {
		params.Set("sep", job.Sep)
	}
	if job.EOL != "" {
		params.Set("eol", job.EOL)
	}

	raw, err := c.do(ctx, request{
		op:          "load",
		method:      http.MethodPost,
		url:         c.restppURL + "/ddl/" + url.PathEscape(c.graph),
		params:      params,
		body:        job.Data,
		contentType: "text/plain",
	})
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := decodeResults(raw, &out); err != nil {
		return nil, errors.DatabaseErrorf(err, "tigergraph load: decoding response")
	}
	return out, nil
}

type request struct {
	op          string
	method      string
	url         string
	params      url.Values
	body        []byte
	contentType string
	header      map[string]string
	gsql        bool // GSQL server endpoint, Basic auth when a password is known
}

// do sends one request and returns the raw response body. Non-2xx statuses
// and bodies with "error": true become typed errors.
func (c *Client) do(ctx context.Context, r request) (raw []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.BackendTiger, r.op, start, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.NetworkError(err, "rate limiter")
	}

	target := r.url
	if len(r.params) > 0 {
		target += "?" + r.params.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, errors.InternalErrorf("failed to create request: %v", err)
	}

	creds := c.Credentials()
	switch {
	case r.gsql && creds.Password != "":
		req.SetBasicAuth(creds.Username, creds.Password)
	case creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}

	c.logger.WithFields(logrus.Fields{"op": r.op, "url": r.url}).Debug("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NetworkErrorf(err, "tigergraph %s failed", r.op)
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkErrorf(err, "tigergraph %s: reading response", r.op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var env struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return nil, errors.DatabaseError(fmt.Errorf("tigergraph %s", r.op), msg)
	}
	return raw, nil
}

func statusError(status int, body []byte) error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return errors.NotFoundError(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ForbiddenError(msg)
	case http.StatusConflict:
		return errors.ConflictErrorf("%s", msg)
	default:
		return errors.DatabaseError(fmt.Errorf("status %d", status), msg)
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}

// decodeResults decodes the "results" member of a REST++ envelope.
func decodeResults(raw []byte, out interface{}) error {
	var env struct {
		Results json.RawMessage `json:"results"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return err
	}
	if len(env.Results) == 0 || string(env.Results) == "null" {
		return nil
	}
	dec = json.NewDecoder(bytes.NewReader(env.Results))
	dec.UseNumber()
	return dec.Decode(out)
}

// secretFrom reads a secret from a JSON response ({"results":{"secret"}},
// {"secret"} or "value" variants) or from the GSQL text
// "The secret: <s> has been created".
func secretFrom(raw []byte) string {
	var parsed struct {
		Secret  string          `json:"secret"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Secret != "" {
			return parsed.Secret
		}
		var inner struct {
			Secret string `json:"secret"`
			Value  string `json:"value"`
		}
		if json.Unmarshal(parsed.Results, &inner) == nil {
			if inner.Secret != "" {
				return inner.Secret
			}
			return inner.Value
		}
		var s string
		if json.Unmarshal(parsed.Results, &s) == nil {
			return s
		}
		return ""
	}

	text := string(raw)
	if i := strings.Index(text, "secret: "); i >= 0 {
		fields := strings.Fields(text[i+len("secret: "):])
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// intField reads a count from a REST++ result. A missing key is zero.
func intField(m map[string]interface{}, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.DatabaseErrorf(err, "tigergraph returned a malformed %s: %s", key, n)
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.DatabaseErrorf(fmt.Errorf("%v is not a whole number", n), "tigergraph returned a malformed %s: %v", key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, errors.DatabaseErrorf(fmt.Errorf("unexpected type %T", v), "tigergraph returned a malformed %s: %v", key, v)
}
