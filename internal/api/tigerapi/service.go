// Package tigerapi serves the TigerGraph façade under /api: graph, vertex
// and edge routes over connections registered by POST /api/graph/connect.
package tigerapi

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/api"
	"github.com/rohankatakam/graphrest/internal/audit"
	"github.com/rohankatakam/graphrest/internal/config"
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/metrics"
	"github.com/rohankatakam/graphrest/internal/registry"
	"github.com/rohankatakam/graphrest/internal/storage"
	"github.com/rohankatakam/graphrest/internal/tiger"
)

// ServiceName labels logs, metrics and audit events
const ServiceName = "tiger"

// Request headers selecting the connection
const (
	HeaderConnID = "X-conn-id"
	HeaderHost   = "X-host"
	HeaderGraph  = "X-graph-name"
)

const errConnectFirst = "please reach /connect first"

// Dialer creates a client for one graph
type Dialer func(host, graph string, creds tiger.Credentials) tiger.Conn

// Service holds the TigerGraph routes and their shared state.
type Service struct {
	cfg     *config.Config
	clients *registry.Registry[tiger.Conn]
	store   storage.Store
	dial    Dialer
	audit   *audit.Log
	logger  *logrus.Entry
}

// NewRegistry returns a client registry that publishes its size. The same
// client may sit under both its connection id and its host/graph key, so
// eviction only logs.
func NewRegistry(cfg config.RegistryConfig, logger *logrus.Logger) *registry.Registry[tiger.Conn] {
	entry := logger.WithField("registry", ServiceName)
	return registry.New[tiger.Conn](
		registry.WithTTL[tiger.Conn](cfg.TTL),
		registry.WithLogger[tiger.Conn](entry),
		registry.WithEvict[tiger.Conn](func(key string, c tiger.Conn) {
			entry.WithFields(logrus.Fields{"key": key, "graph": c.Graph()}).Debug("connection released")
		}),
		registry.WithSizeHook[tiger.Conn](func(n int) {
			metrics.SetConnections(ServiceName, n)
		}),
	)
}

// New creates the service. auditLog may be nil.
func New(cfg *config.Config, clients *registry.Registry[tiger.Conn], store storage.Store, auditLog *audit.Log, logger *logrus.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		clients: clients,
		store:   store,
		audit:   auditLog,
		logger:  logging.Component(logger, ServiceName),
	}
	s.dial = func(host, graph string, creds tiger.Credentials) tiger.Conn {
		return tiger.NewClient(host, graph, creds, tiger.Options{
			RESTPPPort:    cfg.Tiger.RESTPPPort,
			GSQLPort:      cfg.Tiger.GSQLPort,
			Timeout:       cfg.Tiger.Timeout,
			TokenLifetime: cfg.Tiger.TokenLifetime,
			RateLimit:     cfg.Upstream.RateLimit,
			Burst:         cfg.Upstream.Burst,
			Logger:        logger,
		})
	}
	return s
}

// WithDialer replaces how new clients are created.
func (s *Service) WithDialer(d Dialer) *Service {
	s.dial = d
	return s
}

// Handler returns the complete HTTP handler with middleware.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	api.Mount(mux, ServiceName, s.clients.Len)
	s.routes(mux)

	return api.Chain(mux,
		api.WithRequestID,
		api.WithLogging(ServiceName, s.logger),
		api.WithCORS(s.cfg.Server.CORSOrigins, HeaderConnID, HeaderHost, HeaderGraph),
		api.WithRecover(s.logger),
	)
}

func (s *Service) routes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withConn(h))
	}

	mux.HandleFunc("POST /api/graph/connect", s.connect)
	mux.HandleFunc("DELETE /api/graph/connect", s.disconnect)
	handle("GET /api/graph/schema", s.schema)
	handle("POST /api/graph/load", s.load)
	handle("POST /api/graph/upsert", s.upsert)
	handle("GET /api/graph/query", s.runQuery)

	handle("POST /api/vertices/{$}", s.upsertVertices)
	handle("GET /api/vertices/{$}", s.getVertices)
	handle("DELETE /api/vertices/{$}", s.deleteVertices)
	handle("GET /api/vertices/types", s.vertexTypes)
	handle("GET /api/vertices/attrs", s.vertexAttrs)
	handle("GET /api/vertices/stats", s.vertexStats)

	handle("POST /api/edges/{$}", s.upsertEdges)
	handle("GET /api/edges/{$}", s.getEdges)
	handle("DELETE /api/edges/{$}", s.deleteEdges)
	handle("GET /api/edges/types", s.edgeTypes)
	handle("GET /api/edges/attrs", s.edgeAttrs)
	handle("GET /api/edges/stats", s.edgeStats)
}

type connKey struct{}

// ConnFrom returns the connection resolved for the request.
func ConnFrom(ctx context.Context) tiger.Conn {
	c, _ := ctx.Value(connKey{}).(tiger.Conn)
	return c
}

func (s *Service) withConn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.resolve(r)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), connKey{}, conn)))
	})
}

// resolve finds the connection by X-conn-id, restoring it from the store
// when this process has not seen it, or else by X-host and X-graph-name.
func (s *Service) resolve(r *http.Request) (tiger.Conn, error) {
	if id := r.Header.Get(HeaderConnID); id != "" {
		return s.clients.GetOrCreate(r.Context(), id, func(ctx context.Context) (tiger.Conn, error) {
			return s.restore(ctx, id)
		})
	}

	host := r.Header.Get(HeaderHost)
	if host == "" {
		host = s.cfg.Tiger.DefaultHost
	}
	graph := r.Header.Get(HeaderGraph)
	if graph == "" {
		graph = s.cfg.Tiger.DefaultGraph
	}
	if conn, ok := s.clients.Get(tiger.Key(host, graph)); ok {
		return conn, nil
	}
	return nil, errors.NotConnectedError(errConnectFirst)
}

func (s *Service) restore(ctx context.Context, id string) (tiger.Conn, error) {
	if s.store == nil {
		return nil, errors.NotConnectedError(errConnectFirst)
	}
	d, err := s.store.Get(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotConnectedError(errConnectFirst)
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "failed to load connection")
	}

	s.logger.WithFields(logrus.Fields{"conn_id": id, "graph": d.Graph}).Info("connection restored")
	return s.dial(d.Host, d.Graph, tiger.Credentials{
		Username: d.Username,
		Secret:   d.Secret,
		Token:    d.Token,
	}), nil
}

// Warm registers a client for every stored descriptor, so connections
// made before a restart resolve by id and by host/graph. Descriptors are
// listed oldest first; the newest one for a host/graph owns that key.
func (s *Service) Warm(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	descriptors, err := s.store.List(ctx)
	if err != nil {
		return 0, errors.DatabaseError(err, "failed to list connections")
	}
	for _, d := range descriptors {
		conn := s.dial(d.Host, d.Graph, tiger.Credentials{
			Username: d.Username,
			Secret:   d.Secret,
			Token:    d.Token,
		})
		s.clients.Put(d.ID, conn)
		s.clients.Put(tiger.Key(d.Host, d.Graph), conn)
	}
	if len(descriptors) > 0 {
		s.logger.WithField("connections", len(descriptors)).Info("connections restored")
	}
	return len(descriptors), nil
}

func (s *Service) record(r *http.Request, op, target, detail string) {
	err := s.audit.Record(audit.MutationEvent{
		Service:   ServiceName,
		Operation: op,
		Target:    target,
		Detail:    detail,
		RequestID: api.RequestID(r.Context()),
	})
	if err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
}
