// Package api holds the HTTP plumbing shared by the OrientDB and TigerGraph
// services: JSON helpers, middleware, health and the server lifecycle.
package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/rohankatakam/graphrest/internal/errors"
)

// MaxBodySize caps request bodies read by DecodeJSON
const MaxBodySize = 10 << 20

// Envelope is the response body of OrientDB operations
type Envelope struct {
	Detail string      `json:"detail"`
	Method string      `json:"method,omitempty"`
	Result interface{} `json:"result"`
}

// Validator is implemented by request bodies that check their own fields.
type Validator interface {
	Validate() error
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"detail": message} with the status matching err. The
// logging middleware logs err with its context.
func WriteError(w http.ResponseWriter, err error) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}
	WriteJSON(w, errors.HTTPStatus(err), map[string]string{"detail": Detail(err)})
}

// Detail is the client-facing message of err. Typed errors expose their
// message without the wrapped cause.
func Detail(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// DecodeJSON reads the request body into v and runs v.Validate when v
// implements Validator.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.ValidationError("request body is required")
		}
		return errors.ValidationErrorf("invalid JSON body: %v", err)
	}
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}
