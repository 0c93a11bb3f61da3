package orientapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rohankatakam/graphrest/internal/api"
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/orient"
)

func (s *Service) connectHost(w http.ResponseWriter, r *http.Request) {
	var body ConnectHost
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	conn, err := s.bodyConn(r, body)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	if err := conn.Connect(r.Context(), body.User, body.Password); err != nil {
		api.WriteError(w, err)
		return
	}
	dbs, err := conn.ListDatabases(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: "databases", Method: "list", Result: dbs})
}

func (s *Service) connectDatabase(w http.ResponseWriter, r *http.Request) {
	var body ConnectDatabase
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	conn, err := s.bodyConn(r, body.ConnectHost)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	if err := conn.OpenDatabase(r.Context(), body.Database, body.User, body.Password); err != nil {
		api.WriteError(w, err)
		return
	}
	schema, err := conn.Schema(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{
		Detail: fmt.Sprintf("database %s", body.Database),
		Method: "connect",
		Result: schema,
	})
}

// bodyConn returns the request's client unless the body names another
// server.
func (s *Service) bodyConn(r *http.Request, body ConnectHost) (orient.Conn, error) {
	if body.Host == "" && body.Port == 0 {
		return ConnFrom(r.Context()), nil
	}
	host, port, err := s.target(r, body.Host, body.Port)
	if err != nil {
		return nil, err
	}
	return s.conn(r.Context(), r.Header.Get(HeaderUserID), host, port)
}

func (s *Service) createClass(w http.ResponseWriter, r *http.Request) {
	var body ClassCreate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewClassManager(ConnFrom(r.Context()))
	if err := m.Create(r.Context(), body.ClassName, body.Extends, body.Abstract); err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "class.create", body.ClassName, "")
	api.WriteJSON(w, http.StatusCreated, api.Envelope{
		Detail: fmt.Sprintf("class %s", body.ClassName),
		Method: "create",
		Result: true,
	})
}

func (s *Service) updateClass(w http.ResponseWriter, r *http.Request) {
	var body ClassUpdate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewClassManager(ConnFrom(r.Context()))
	applied, err := m.Update(r.Context(), body.ClassName, body.Properties)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "class.update", body.ClassName, "")
	api.WriteJSON(w, http.StatusOK, api.Envelope{
		Detail: fmt.Sprintf("class %s", body.ClassName),
		Method: "update",
		Result: applied,
	})
}

func (s *Service) deleteClass(w http.ResponseWriter, r *http.Request) {
	m := orient.NewClassManager(ConnFrom(r.Context()))
	api.WriteError(w, m.Delete(r.Context(), r.URL.Query().Get("class_name")))
}

// getClass serves both /class/?class_name= and /class/{name}.
func (s *Service) getClass(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		name = r.URL.Query().Get("class_name")
	}
	if name == "" {
		api.WriteError(w, errors.ValidationError("class_name is required"))
		return
	}
	m := orient.NewClassManager(ConnFrom(r.Context()))
	result, err := m.Retrieve(r.Context(), name)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: fmt.Sprintf("class %s", name), Method: "retrieve", Result: result})
}

func (s *Service) allClasses(w http.ResponseWriter, r *http.Request) {
	m := orient.NewClassManager(ConnFrom(r.Context()))
	result, err := m.Retrieve(r.Context(), "")
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: "all database classes", Method: "retrieve", Result: result})
}

func (s *Service) createVertex(w http.ResponseWriter, r *http.Request) {
	var body VertexCreate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewVertexManager(ConnFrom(r.Context()))
	rec, err := m.Create(r.Context(), body.ClassName, body.Data)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "vertex.create", body.ClassName, "")
	api.WriteJSON(w, http.StatusCreated, api.Envelope{
		Detail: fmt.Sprintf("%s vertex", body.ClassName),
		Method: "create",
		Result: rec,
	})
}

func (s *Service) updateVertex(w http.ResponseWriter, r *http.Request) {
	var body VertexUpdate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewVertexManager(ConnFrom(r.Context()))

	var (
		result interface{}
		target string
		filter string
		err    error
	)
	if body.RID != "" {
		target = body.RID
		result, err = m.Update(r.Context(), body.RID, body.Data)
	} else {
		target, filter = body.ClassName, body.Filter
		result, err = m.UpdateWhere(r.Context(), body.ClassName, body.Filter, body.Data)
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "vertex.update", target, filter)
	detail := "vertex " + target
	if filter != "" {
		detail += " WHERE " + filter
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: detail, Method: "update", Result: result})
}

func (s *Service) deleteVertex(w http.ResponseWriter, r *http.Request) {
	var body VertexDelete
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewVertexManager(ConnFrom(r.Context()))

	target, filter := body.RID, ""
	var err error
	if body.RID != "" {
		err = m.Delete(r.Context(), body.RID)
	} else {
		target, filter = body.ClassName, body.Filter
		_, err = m.DeleteWhere(r.Context(), body.ClassName, body.Filter)
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "vertex.delete", target, filter)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) getVertices(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class_name")
	if class == "" {
		api.WriteError(w, errors.ValidationError("class_name is required"))
		return
	}
	m := orient.NewVertexManager(ConnFrom(r.Context()))
	result, err := m.Retrieve(r.Context(), class, r.URL.Query().Get("vertex_filter"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: fmt.Sprintf("%s vertices", class), Method: "retrieve", Result: result})
}

// getVertex loads one record. The leading '#' of the rid is optional so
// clients need not escape it.
func (s *Service) getVertex(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	if !strings.HasPrefix(rid, "#") {
		rid = "#" + rid
	}
	m := orient.NewVertexManager(ConnFrom(r.Context()))
	rec, err := m.Get(r.Context(), rid)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: "vertex " + rid, Method: "retrieve", Result: rec})
}

func (s *Service) createEdge(w http.ResponseWriter, r *http.Request) {
	var body EdgeCreate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewEdgeManager(ConnFrom(r.Context()))
	rec, err := m.Create(r.Context(), body.ClassName, body.OutRID, body.InRID, body.Data)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "edge.create", body.ClassName, "")
	api.WriteJSON(w, http.StatusCreated, api.Envelope{
		Detail: fmt.Sprintf("%s edge from %s to %s", body.ClassName, body.OutRID, body.InRID),
		Method: "create",
		Result: rec,
	})
}

func (s *Service) updateEdge(w http.ResponseWriter, r *http.Request) {
	var body EdgeUpdate
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewEdgeManager(ConnFrom(r.Context()))
	rec, err := m.Update(r.Context(), body.RID, body.Data)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "edge.update", body.RID, "")
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: "edge " + body.RID, Method: "update", Result: rec})
}

func (s *Service) deleteEdge(w http.ResponseWriter, r *http.Request) {
	var body EdgeDelete
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, err)
		return
	}
	m := orient.NewEdgeManager(ConnFrom(r.Context()))
	if err := m.Delete(r.Context(), body.RID); err != nil {
		api.WriteError(w, err)
		return
	}
	s.record(r, "edge.delete", body.RID, "")
	w.WriteHeader(http.StatusNoContent)
}

// getEdges matches edges of class_name. data is an optional JSON object of
// edge properties to match.
func (s *Service) getEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	class := q.Get("class_name")
	if class == "" {
		api.WriteError(w, errors.ValidationError("class_name is required"))
		return
	}
	var data map[string]interface{}
	if raw := q.Get("data"); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			api.WriteError(w, errors.ValidationErrorf("data must be a JSON object: %v", err))
			return
		}
	}

	m := orient.NewEdgeManager(ConnFrom(r.Context()))
	result, err := m.Retrieve(r.Context(), class, q.Get("out_filter"), q.Get("in_filter"), data)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Envelope{Detail: "retrieve edges", Method: "retrieve", Result: result})
}
