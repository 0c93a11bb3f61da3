package orient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
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
	"github.com/rohankatakam/graphrest/internal/orient/query"
)

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	RateLimit  float64 // Requests per second, 0 = unlimited
	Burst      int
	Logger     *logrus.Logger
	HTTPClient *http.Client // Overrides Timeout when set
}

// Client is an OrientDB HTTP API client for one server. It is safe for
// concurrent use; the open database is shared by every caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry

	mu       sync.RWMutex
	user     string
	password string
	database string
}

// NewClient creates a client for the server at host:port. host may carry
// a scheme; plain http is assumed otherwise.
func NewClient(host string, port int, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
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

	base := ServerAddress(host, port)
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logging.Component(logger, "orient").WithField("server", base),
	}
}

// ServerAddress renders the base URL for host and port.
func ServerAddress(host string, port int) string {
	scheme := "http"
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if _, _, err := net.SplitHostPort(host); err == nil {
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Database returns the open database, or "" before OpenDatabase
func (c *Client) Database() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.database
}

func (c *Client) Connect(ctx context.Context, user, password string) error {
	if user == "" {
		return errors.ValidationError("user is required")
	}
	c.mu.Lock()
	c.user, c.password = user, password
	c.mu.Unlock()
	return nil
}

func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	if _, _, ok := c.credentials(); !ok {
		return nil, errors.NotConnectedError("please connect to the server first")
	}

	var out struct {
		Databases []string `json:"databases"`
	}
	if err := c.do(ctx, "list_databases", http.MethodGet, "/listDatabases", nil, &out); err != nil {
		return nil, err
	}
	return out.Databases, nil
}

func (c *Client) OpenDatabase(ctx context.Context, db, user, password string) error {
	if db == "" {
		return errors.ValidationError("database is required")
	}
	if user == "" {
		return errors.ValidationError("user is required")
	}

	// The shared client keeps its previous credentials until the server
	// accepts the new ones.
	if err := c.doAs(ctx, user, password, "open_database", http.MethodGet, "/connect/"+url.PathEscape(db), nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.user, c.password = user, password
	c.database = db
	c.mu.Unlock()

	c.logger.WithField("database", db).Info("database opened")
	return nil
}

func (c *Client) Command(ctx context.Context, sql string) ([]Record, error) {
	return c.sql(ctx, "command", sql)
}

func (c *Client) Query(ctx context.Context, sql string) ([]Record, error) {
	return c.sql(ctx, "query", sql)
}

func (c *Client) sql(ctx context.Context, op, sql string) ([]Record, error) {
	db, err := c.openDatabase()
	if err != nil {
		return nil, err
	}

	c.logger.WithField("sql", sql).Debug(op)

	body := map[string]string{"command": sql}
	var out struct {
		Result []Record `json:"result"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/command/"+url.PathEscape(db)+"/sql", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *Client) CreateRecord(ctx context.Context, class string, fields map[string]interface{}) (Record, error) {
	db, err := c.openDatabase()
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["@class"] = class

	var out Record
	if err := c.do(ctx, "create_record", http.MethodPost, "/document/"+url.PathEscape(db), doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadRecord(ctx context.Context, rid string) (Record, error) {
	r, err := query.ParseRID(rid)
	if err != nil {
		return nil, err
	}
	db, err := c.openDatabase()
	if err != nil {
		return nil, err
	}

	var out Record
	if err := c.do(ctx, "load_record", http.MethodGet, "/document/"+url.PathEscape(db)+"/"+r.Path(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Schema(ctx context.Context) ([]Record, error) {
	return c.Query(ctx, "SELECT * FROM metadata:schema")
}

func (c *Client) Close(ctx context.Context) error {
	if _, _, ok := c.credentials(); !ok {
		return nil
	}
	// The server answers a logout with 401, so the status is not checked
	err := c.do(ctx, "disconnect", http.MethodGet, "/disconnect", nil, nil)
	if err != nil && !errors.IsType(err, errors.ErrorTypeForbidden) {
		c.logger.WithError(err).Warn("disconnect failed")
	}

	c.mu.Lock()
	c.database = ""
	c.mu.Unlock()
	return nil
}

func (c *Client) credentials() (string, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.password, c.user != ""
}

func (c *Client) openDatabase() (string, error) {
	db := c.Database()
	if db == "" {
		return "", errors.NotConnectedError("no database is open, call /database/ first")
	}
	return db, nil
}

// do sends one request with the stored credentials and decodes a JSON
// response into out when out is non-nil and the response has a body.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	user, password, _ := c.credentials()
	return c.doAs(ctx, user, password, op, method, path, body, out)
}

// doAs is do with explicit Basic credentials. An empty user sends none.
func (c *Client) doAs(ctx context.Context, user, password, op, method, path string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream(metrics.BackendOrient, op, start, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.NetworkError(err, "rate limiter")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.ValidationErrorf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.InternalErrorf("failed to create request: %v", err)
	}
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkErrorf(err, "orientdb %s failed", op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NetworkErrorf(err, "orientdb %s: reading response", op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.DatabaseErrorf(err, "orientdb %s: decoding response", op)
	}
	return nil
}

// statusError maps an upstream status to a typed error carrying the
// server's message.
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

// errorMessage extracts the first error content from an OrientDB error body
// ({"errors":[{"code":500,"content":"..."}]}) or falls back to the raw text.
func errorMessage(body []byte) string {
	var parsed struct {
		Errors []struct {
			Content string `json:"content"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return strings.TrimSpace(parsed.Errors[0].Content)
	}
	return strings.TrimSpace(string(body))
}
