// Package orient talks to an OrientDB server over its HTTP API and runs the
// class, vertex and edge operations the façade exposes.
package orient

import (
	"context"
)

// Record is one OrientDB document as returned by the HTTP API, including
// the @rid, @class and @version metadata fields.
type Record map[string]interface{}

// Session is the database-scoped subset of a connection used by the
// managers and the schema validator.
type Session interface {
	// Command runs a statement that may change data
	Command(ctx context.Context, sql string) ([]Record, error)

	// Query runs a read-only statement
	Query(ctx context.Context, sql string) ([]Record, error)

	// CreateRecord stores a new document of the given class
	CreateRecord(ctx context.Context, class string, fields map[string]interface{}) (Record, error)

	// LoadRecord fetches one document by rid
	LoadRecord(ctx context.Context, rid string) (Record, error)
}

// Conn is a full server connection: server login, database selection and
// the database-scoped Session.
type Conn interface {
	Session

	// Connect stores server credentials for later calls
	Connect(ctx context.Context, user, password string) error

	// ListDatabases lists databases visible to the server user
	ListDatabases(ctx context.Context) ([]string, error)

	// OpenDatabase selects db for every later Session call
	OpenDatabase(ctx context.Context, db, user, password string) error

	// Schema returns the raw metadata:schema of the open database
	Schema(ctx context.Context) ([]Record, error)

	// Close logs out and forgets the open database
	Close(ctx context.Context) error
}
