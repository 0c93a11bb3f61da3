package orient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/orient/query"
)

// ClassManager runs class schema operations
type ClassManager struct {
	session Session
}

func NewClassManager(session Session) *ClassManager {
	return &ClassManager{session: session}
}

// Create creates a class. An existing class is a conflict.
func (m *ClassManager) Create(ctx context.Context, name, extends string, abstract bool) error {
	cmd, err := query.CreateClass(name, extends, abstract)
	if err != nil {
		return err
	}
	if _, err := m.session.Command(ctx, cmd); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return errors.ConflictErrorf("class %s already exists", name)
		}
		return err
	}
	return nil
}

// Update applies changes one command at a time and returns the commands
// that ran. It stops at the first failure.
func (m *ClassManager) Update(ctx context.Context, name string, changes query.ClassChanges) ([]string, error) {
	commands, err := query.UpdateClass(name, changes)
	if err != nil {
		return nil, err
	}
	for i, cmd := range commands {
		if _, err := m.session.Command(ctx, cmd); err != nil {
			return commands[:i], err
		}
	}
	return commands, nil
}

// Delete is always forbidden
func (m *ClassManager) Delete(ctx context.Context, name string) error {
	return query.DeleteClass(name)
}

// Retrieve returns one class, or all classes when name is empty.
func (m *ClassManager) Retrieve(ctx context.Context, name string) ([]Record, error) {
	q, err := query.RetrieveClass(name)
	if err != nil {
		return nil, err
	}
	records, err := m.session.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	if name != "" {
		if len(records) == 0 {
			return nil, errors.NotFoundErrorf("class %s not found", name).WithContext("class", name)
		}
		return records, nil
	}

	// SELECT classes returns one row holding the whole list
	if len(records) == 0 {
		return []Record{}, nil
	}
	var all struct {
		Classes []Record `json:"classes"`
	}
	if err := decodeRecord(records[0], &all); err != nil {
		return nil, errors.DatabaseError(err, "failed to decode class list")
	}
	return all.Classes, nil
}

// VertexManager runs vertex operations, validating creates against the schema
type VertexManager struct {
	session   Session
	validator *SchemaValidator
}

func NewVertexManager(session Session) *VertexManager {
	return &VertexManager{session: session, validator: NewSchemaValidator(session)}
}

func (m *VertexManager) Create(ctx context.Context, class string, data map[string]interface{}) (Record, error) {
	if err := m.validator.ValidateCreate(ctx, class, data); err != nil {
		return nil, err
	}
	return m.session.CreateRecord(ctx, class, data)
}

// Update merges data into the vertex at rid and returns it.
func (m *VertexManager) Update(ctx context.Context, rid string, data map[string]interface{}) (Record, error) {
	cmd, err := query.UpdateVertex(rid, data)
	if err != nil {
		return nil, err
	}
	records, err := m.session.Command(ctx, cmd)
	return firstRecord(records, err, rid)
}

// UpdateWhere merges data into every vertex of class matching where.
func (m *VertexManager) UpdateWhere(ctx context.Context, class, where string, data map[string]interface{}) ([]Record, error) {
	cmd, err := query.UpdateVertexWhere(class, where, data)
	if err != nil {
		return nil, err
	}
	return m.session.Command(ctx, cmd)
}

// Delete removes the vertex at rid together with its edges.
func (m *VertexManager) Delete(ctx context.Context, rid string) error {
	cmd, err := query.DeleteVertex(rid)
	if err != nil {
		return err
	}
	n, err := count(m.session.Command(ctx, cmd))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFoundErrorf("vertex %s not found", rid).WithContext("rid", rid)
	}
	return nil
}

// DeleteWhere removes every vertex of class matching where and returns
// how many were deleted.
func (m *VertexManager) DeleteWhere(ctx context.Context, class, where string) (int64, error) {
	cmd, err := query.DeleteVertexWhere(class, where)
	if err != nil {
		return 0, err
	}
	return count(m.session.Command(ctx, cmd))
}

func (m *VertexManager) Retrieve(ctx context.Context, class, where string) ([]Record, error) {
	q, err := query.RetrieveVertex(class, where)
	if err != nil {
		return nil, err
	}
	return m.session.Query(ctx, q)
}

// Get loads one vertex document by rid
func (m *VertexManager) Get(ctx context.Context, rid string) (Record, error) {
	return m.session.LoadRecord(ctx, rid)
}

// EdgeManager runs edge operations, validating creates against the schema
type EdgeManager struct {
	session   Session
	validator *SchemaValidator
}

func NewEdgeManager(session Session) *EdgeManager {
	return &EdgeManager{session: session, validator: NewSchemaValidator(session)}
}

// Create links out to in with an edge of class. The edge's in and out
// properties count as supplied for the mandatory check.
func (m *EdgeManager) Create(ctx context.Context, class, outRID, inRID string, data map[string]interface{}) (Record, error) {
	if err := m.validator.ValidateCreate(ctx, class, data, "in", "out"); err != nil {
		return nil, err
	}
	cmd, err := query.CreateEdge(class, outRID, inRID, data)
	if err != nil {
		return nil, err
	}
	records, err := m.session.Command(ctx, cmd)
	return firstRecord(records, err, class)
}

func (m *EdgeManager) Update(ctx context.Context, rid string, data map[string]interface{}) (Record, error) {
	cmd, err := query.UpdateEdge(rid, data)
	if err != nil {
		return nil, err
	}
	records, err := m.session.Command(ctx, cmd)
	return firstRecord(records, err, rid)
}

func (m *EdgeManager) Delete(ctx context.Context, rid string) error {
	cmd, err := query.DeleteEdge(rid)
	if err != nil {
		return err
	}
	n, err := count(m.session.Command(ctx, cmd))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFoundErrorf("edge %s not found", rid).WithContext("rid", rid)
	}
	return nil
}

func (m *EdgeManager) Retrieve(ctx context.Context, class, outFilter, inFilter string, data map[string]interface{}) ([]Record, error) {
	q, err := query.RetrieveEdge(class, outFilter, inFilter, data)
	if err != nil {
		return nil, err
	}
	return m.session.Query(ctx, q)
}

// firstRecord returns the first record of a command result, or not found
// naming target when the command matched nothing.
func firstRecord(records []Record, err error, target string) (Record, error) {
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NotFoundErrorf("%s not found", target).WithContext("target", target)
	}
	return records[0], nil
}

// count reads the affected-row count a DELETE returns. OrientDB reports it
// as {"count": n} or, for some commands, {"value": n}. An empty result means
// nothing matched.
func count(records []Record, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	for _, key := range []string{"count", "value"} {
		v, ok := records[0][key]
		if !ok {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return 0, errors.DatabaseErrorf(err, "unexpected %s %v in delete result", key, v).
				WithContext("result", records[0])
		}
		return n, nil
	}
	return 0, errors.DatabaseError(fmt.Errorf("no count in %v", records[0]), "unexpected delete result").
		WithContext("result", records[0])
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return integral(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case float64:
		return integral(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("count has type %T", v)
	}
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("count %v is not a whole number", f)
	}
	return int64(f), nil
}
