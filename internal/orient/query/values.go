// Package query builds OrientDB SQL and MATCH statements from request input.
// Builders are pure: they validate identifiers and render literals but never
// talk to a database.
package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rohankatakam/graphrest/internal/errors"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	ridPattern        = regexp.MustCompile(`^#(-?\d+):(-?\d+)$`)
	bareTokenPattern  = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// emptyFilter matches every record
const emptyFilter = "1=1"

// isValidIdentifier checks class, property and attribute names
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func checkIdentifier(kind, s string) error {
	if !isValidIdentifier(s) {
		return errors.ValidationErrorf("invalid %s: %q (must be alphanumeric + underscore)", kind, s)
	}
	return nil
}

// RID is an OrientDB record id, #cluster:position.
type RID struct {
	Cluster  int64
	Position int64
}

// ParseRID parses "#12:0".
func ParseRID(s string) (RID, error) {
	m := ridPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return RID{}, errors.ValidationErrorf("invalid rid: %q (want #cluster:position)", s)
	}
	cluster, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return RID{}, errors.ValidationErrorf("invalid rid cluster: %q", s)
	}
	pos, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return RID{}, errors.ValidationErrorf("invalid rid position: %q", s)
	}
	return RID{Cluster: cluster, Position: pos}, nil
}

func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.Cluster, r.Position)
}

// Path is the form used in REST document URLs, without the leading '#'.
func (r RID) Path() string {
	return fmt.Sprintf("%d:%d", r.Cluster, r.Position)
}

// Literal renders v as an OrientDB SQL literal.
func Literal(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quote(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return "", errors.ValidationErrorf("value %v cannot be rendered: %v", v, err)
		}
		return string(b), nil
	default:
		return "", errors.ValidationErrorf("unsupported value type %T", v)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// attributeValue renders the value of an ALTER CLASS or ALTER PROPERTY
// clause. Bare tokens (names, numbers, booleans) stay unquoted.
func attributeValue(v interface{}) (string, error) {
	if s, ok := v.(string); ok && bareTokenPattern.MatchString(s) {
		return s, nil
	}
	return Literal(v)
}

// filter falls back to the match-all condition.
func filter(f string) string {
	if strings.TrimSpace(f) == "" {
		return emptyFilter
	}
	return f
}

func sortedKeys(data map[string]interface{}) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assignments renders "k = v" pairs in key order.
func assignments(data map[string]interface{}) ([]string, error) {
	out := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		if err := checkIdentifier("property name", k); err != nil {
			return nil, err
		}
		lit, err := Literal(data[k])
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s = %s", k, lit))
	}
	return out, nil
}

// mergeDocument renders data as the JSON document of an UPDATE ... MERGE.
func mergeDocument(data map[string]interface{}) (string, error) {
	if len(data) == 0 {
		return "", errors.ValidationError("data must not be empty")
	}
	for k := range data {
		if err := checkIdentifier("property name", k); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(data) // map keys are emitted sorted
	if err != nil {
		return "", errors.ValidationErrorf("data cannot be encoded: %v", err)
	}
	return string(b), nil
}
