// Package orientapi serves the OrientDB façade: database, class, vertex and
// edge routes over a per-server client chosen from request headers.
package orientapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/api"
	"github.com/rohankatakam/graphrest/internal/audit"
	"github.com/rohankatakam/graphrest/internal/config"
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/metrics"
	"github.com/rohankatakam/graphrest/internal/orient"
	"github.com/rohankatakam/graphrest/internal/registry"
)

// ServiceName labels logs, metrics and audit events
const ServiceName = "orient"

// Request headers selecting the OrientDB server
const (
	HeaderHost   = "X-orient-host"
	HeaderPort   = "X-orient-port"
	HeaderUserID = "X-user-id"
)

// Dialer creates an unconnected client for one server
type Dialer func(host string, port int) orient.Conn

// Service holds the OrientDB routes and their shared state.
type Service struct {
	cfg     *config.Config
	clients *registry.Registry[orient.Conn]
	dial    Dialer
	audit   *audit.Log
	logger  *logrus.Entry
}

// NewRegistry returns a client registry that closes evicted clients and
// publishes its size.
func NewRegistry(cfg config.RegistryConfig, logger *logrus.Logger) *registry.Registry[orient.Conn] {
	return registry.New[orient.Conn](
		registry.WithTTL[orient.Conn](cfg.TTL),
		registry.WithLogger[orient.Conn](logger.WithField("registry", ServiceName)),
		registry.WithEvict[orient.Conn](func(key string, c orient.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c.Close(ctx)
		}),
		registry.WithSizeHook[orient.Conn](func(n int) {
			metrics.SetConnections(ServiceName, n)
		}),
	)
}

// New creates the service. auditLog may be nil.
func New(cfg *config.Config, clients *registry.Registry[orient.Conn], auditLog *audit.Log, logger *logrus.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		clients: clients,
		audit:   auditLog,
		logger:  logging.Component(logger, ServiceName),
	}
	s.dial = func(host string, port int) orient.Conn {
		return orient.NewClient(host, port, orient.Options{
			Timeout:   cfg.Orient.Timeout,
			RateLimit: cfg.Upstream.RateLimit,
			Burst:     cfg.Upstream.Burst,
			Logger:    logger,
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
		api.WithCORS(s.cfg.Server.CORSOrigins, HeaderHost, HeaderPort, HeaderUserID),
		api.WithRecover(s.logger),
	)
}

func (s *Service) routes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withConn(h))
	}

	handle("POST /database/all", s.connectHost)
	handle("POST /database/{$}", s.connectDatabase)

	handle("POST /class/{$}", s.createClass)
	handle("PUT /class/{$}", s.updateClass)
	handle("DELETE /class/{$}", s.deleteClass)
	handle("GET /class/{$}", s.getClass)
	handle("GET /class/all", s.allClasses)
	handle("GET /class/{name}", s.getClass)

	handle("POST /vertex/{$}", s.createVertex)
	handle("PUT /vertex/{$}", s.updateVertex)
	handle("DELETE /vertex/{$}", s.deleteVertex)
	handle("GET /vertex/{$}", s.getVertices)
	handle("GET /vertex/{rid}", s.getVertex)

	handle("POST /edge/{$}", s.createEdge)
	handle("PUT /edge/{$}", s.updateEdge)
	handle("DELETE /edge/{$}", s.deleteEdge)
	handle("GET /edge/{$}", s.getEdges)
}

type connKey struct{}

// ConnFrom returns the client resolved for the request.
func ConnFrom(ctx context.Context) orient.Conn {
	c, _ := ctx.Value(connKey{}).(orient.Conn)
	return c
}

// withConn resolves the client for the request's headers, creating and
// registering one on first use.
func (s *Service) withConn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, port, err := s.target(r, "", 0)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		conn, err := s.conn(r.Context(), r.Header.Get(HeaderUserID), host, port)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), connKey{}, conn)))
	})
}

// target picks the server from explicit values, then headers, then the
// configured defaults.
func (s *Service) target(r *http.Request, host string, port int) (string, int, error) {
	if host == "" {
		host = r.Header.Get(HeaderHost)
	}
	if host == "" {
		host = s.cfg.Orient.DefaultHost
	}
	if port == 0 {
		if raw := r.Header.Get(HeaderPort); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil || p < 1 || p > 65535 {
				return "", 0, errors.ValidationErrorf("invalid %s header: %q", HeaderPort, raw)
			}
			port = p
		}
	}
	if port == 0 {
		port = s.cfg.Orient.DefaultPort
	}
	return host, port, nil
}

// Key is the registry key for a server, scoped to userID when present.
func Key(userID, host string, port int) string {
	key := net.JoinHostPort(host, strconv.Itoa(port))
	if userID != "" {
		key = userID + "@" + key
	}
	return key
}

func (s *Service) conn(ctx context.Context, userID, host string, port int) (orient.Conn, error) {
	return s.clients.GetOrCreate(ctx, Key(userID, host, port), func(ctx context.Context) (orient.Conn, error) {
		return s.dial(host, port), nil
	})
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
