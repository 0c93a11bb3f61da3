package tigerapi

import (
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/api"
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/storage"
	"github.com/rohankatakam/graphrest/internal/tiger"
	"github.com/rohankatakam/graphrest/internal/tiger/query"
)

func (s *Service) connect(w http.ResponseWriter, r *http.Request) {
	var body Connect
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	host := tiger.NormalizeHost(body.Host)
	conn := s.dial(host, body.GraphName, tiger.Credentials{
		Username: body.Username,
		Password: body.Password,
		Secret:   body.Secret,
	})

	ctx := r.Context()
	secret := body.Secret
	if secret == "" {
		var err error
		if secret, err = conn.CreateSecret(ctx, ""); err != nil {
			api.WriteError(w, err)
			return
		}
	}
	token, err := conn.GetToken(ctx, secret)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	id := uuid.NewString()
	s.clients.Put(id, conn)
	s.clients.Put(tiger.Key(host, body.GraphName), conn)

	if s.store != nil {
		err := s.store.Save(ctx, &storage.Descriptor{
			ID:        id,
			Host:      host,
			Graph:     body.GraphName,
			Username:  body.Username,
			Secret:    secret,
			Token:     token,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.WithError(err).WithField("conn_id", id).Warn("failed to persist connection")
		}
	}

	s.logger.WithFields(logrus.Fields{"conn_id": id, "host": host, "graph": body.GraphName}).Info("connected")
	s.record(r, "graph.connect", tiger.Key(host, body.GraphName), id)
	api.WriteJSON(w, http.StatusOK, map[string]string{"connection_id": id})
}

// disconnect forgets the connection named by X-conn-id.
func (s *Service) disconnect(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderConnID)
	if id == "" {
		api.WriteError(w, errors.ValidationErrorf("%s header is required", HeaderConnID))
		return
	}

	conn, known := s.clients.Get(id)
	if conn != nil {
		key := tiger.Key(conn.Host(), conn.Graph())
		if alias, ok := s.clients.Get(key); ok && alias == conn {
			s.clients.Delete(key)
		}
		s.clients.Delete(id)
	}
	if s.store != nil {
		if _, err := s.store.Get(r.Context(), id); err == nil {
			known = true
		} else if !stderrors.Is(err, storage.ErrNotFound) {
			api.WriteError(w, errors.DatabaseError(err, "failed to load connection"))
			return
		}
		if err := s.store.Delete(r.Context(), id); err != nil {
			api.WriteError(w, errors.DatabaseError(err, "failed to delete connection"))
			return
		}
	}
	if !known {
		api.WriteError(w, errors.NotFoundErrorf("connection %s not found", id))
		return
	}

	s.record(r, "graph.disconnect", id, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) schema(w http.ResponseWriter, r *http.Request) {
	result, err := ConnFrom(r.Context()).GetSchema(r.Context())
	respond(w, result, err)
}

// load runs a loading job over an uploaded file. Form fields: file, job,
// tag, and optional sep and eol.
func (s *Service) load(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.MaxBodySize)
	if err := r.ParseMultipartForm(api.MaxBodySize); err != nil {
		api.WriteError(w, errors.ValidationErrorf("invalid multipart form: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		api.WriteError(w, errors.ValidationError("file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		api.WriteError(w, errors.ValidationErrorf("failed to read file: %v", err))
		return
	}

	job := tiger.LoadJob{
		Job:     r.FormValue("job"),
		FileTag: r.FormValue("tag"),
		Data:    data,
		Sep:     r.FormValue("sep"),
		EOL:     r.FormValue("eol"),
	}
	result, err := ConnFrom(r.Context()).RunLoadingJobWithData(r.Context(), job)
	if err == nil {
		s.record(r, "graph.load", job.Job, "")
	}
	respond(w, result, err)
}

func (s *Service) upsert(w http.ResponseWriter, r *http.Request) {
	var body UpsertJob
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	result, err := ConnFrom(r.Context()).UpsertData(r.Context(), body.Data, body.options())
	if err == nil {
		s.record(r, "graph.upsert", ConnFrom(r.Context()).Graph(), "")
	}
	respond(w, result, err)
}

// runQuery runs the installed query named by ?query=. Every other query
// parameter is passed to it.
func (s *Service) runQuery(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	name := params.Get("query")
	if name == "" {
		api.WriteError(w, errors.ValidationError("query is required"))
		return
	}
	params.Del("query")
	result, err := ConnFrom(r.Context()).RunInstalledQuery(r.Context(), name, params)
	respond(w, result, err)
}

func (s *Service) upsertVertices(w http.ResponseWriter, r *http.Request) {
	var body UpsertVertices
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	n, err := ConnFrom(r.Context()).UpsertVertices(r.Context(), body.VertexType, body.Vertices)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "vertex.upsert", body.VertexType, "")
	api.WriteJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

func (s *Service) getVertices(w http.ResponseWriter, r *http.Request) {
	vertexType := r.URL.Query().Get("vertex_type")
	if vertexType == "" {
		api.WriteError(w, errors.ValidationError("vertex_type is required"))
		return
	}
	opts, err := readOptions(r.URL.Query())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	result, err := ConnFrom(r.Context()).GetVertices(r.Context(), vertexType, opts)
	respond(w, result, err)
}

func (s *Service) deleteVertices(w http.ResponseWriter, r *http.Request) {
	var body DeleteVertex
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	n, err := ConnFrom(r.Context()).DelVertices(r.Context(), body.VertexType, query.ReadOptions{Where: body.Where})
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "vertex.delete", body.VertexType, body.Where)
	api.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// vertexTypes lists vertex type names, or describes one with ?vertex_type=.
func (s *Service) vertexTypes(w http.ResponseWriter, r *http.Request) {
	conn := ConnFrom(r.Context())
	if name := r.URL.Query().Get("vertex_type"); name != "" {
		result, err := conn.GetVertexType(r.Context(), name)
		respond(w, result, err)
		return
	}
	result, err := conn.GetVertexTypes(r.Context())
	respond(w, result, err)
}

func (s *Service) vertexAttrs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("vertex_type")
	if name == "" {
		api.WriteError(w, errors.ValidationError("vertex_type is required"))
		return
	}
	result, err := ConnFrom(r.Context()).GetVertexAttrs(r.Context(), name)
	respond(w, result, err)
}

func (s *Service) vertexStats(w http.ResponseWriter, r *http.Request) {
	types := r.URL.Query()["vertex_type"]
	if len(types) == 0 {
		api.WriteError(w, errors.ValidationError("vertex_type is required"))
		return
	}
	result, err := ConnFrom(r.Context()).GetVertexStats(r.Context(), types...)
	respond(w, result, err)
}

func (s *Service) upsertEdges(w http.ResponseWriter, r *http.Request) {
	var body UpsertEdges
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	n, err := ConnFrom(r.Context()).UpsertEdges(r.Context(), body.EdgeType, body.Edges)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "edge.upsert", body.EdgeType, "")
	api.WriteJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

// getEdges reads edges by=type (every edge of edge_type) or by=source
// (edges leaving source_vertex_type/source_vertex_id).
func (s *Service) getEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	by := q.Get("by")
	if by == "" {
		by = "type"
	}
	conn := ConnFrom(r.Context())

	switch {
	case by == "type" && q.Get("edge_type") != "":
		result, err := conn.GetEdgesByType(r.Context(), q.Get("edge_type"))
		respond(w, result, err)
	case by == "source" && q.Get("source_vertex_type") != "" && q.Get("source_vertex_id") != "":
		opts, err := readOptions(q)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		sel := query.EdgeSelector{
			SourceVertexType: q.Get("source_vertex_type"),
			SourceVertexID:   q.Get("source_vertex_id"),
			EdgeType:         q.Get("edge_type"),
			TargetVertexType: q.Get("target_vertex_type"),
			TargetVertexID:   q.Get("target_vertex_id"),
		}
		result, err := conn.GetEdges(r.Context(), sel, opts)
		respond(w, result, err)
	default:
		api.WriteError(w, errors.ValidationError("by parameter should be 'type' or 'source'"))
	}
}

func (s *Service) deleteEdges(w http.ResponseWriter, r *http.Request) {
	var body DeleteEdge
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	result, err := ConnFrom(r.Context()).DelEdges(r.Context(), body.selector(), query.ReadOptions{Where: body.Where})
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "edge.delete", body.SourceVertexType+"/"+body.SourceVertexID, body.Where)
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Service) edgeTypes(w http.ResponseWriter, r *http.Request) {
	conn := ConnFrom(r.Context())
	var (
		result interface{}
		err    error
	)
	if name := r.URL.Query().Get("edge_type"); name != "" {
		result, err = conn.GetEdgeType(r.Context(), name)
	} else {
		result, err = conn.GetEdgeTypes(r.Context())
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"detail": result})
}

func (s *Service) edgeAttrs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("edge_type")
	if name == "" {
		api.WriteError(w, errors.ValidationError("edge_type is required"))
		return
	}
	result, err := ConnFrom(r.Context()).GetEdgeAttrs(r.Context(), name)
	respond(w, result, err)
}

func (s *Service) edgeStats(w http.ResponseWriter, r *http.Request) {
	types := r.URL.Query()["edge_type"]
	if len(types) == 0 {
		api.WriteError(w, errors.ValidationError("edge_type is required"))
		return
	}
	result, err := ConnFrom(r.Context()).GetEdgeStats(r.Context(), types...)
	respond(w, result, err)
}

func respond(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func readOptions(q url.Values) (query.ReadOptions, error) {
	opts := query.ReadOptions{
		Select: q.Get("select"),
		Where:  q.Get("where"),
		Sort:   q.Get("sort"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, errors.ValidationErrorf("invalid limit: %q", raw)
		}
		opts.Limit = n
	}
	return opts, nil
}

