package query

import (
	"fmt"
	"strings"
)

// CreateEdge returns CREATE EDGE <class> FROM <from> TO <to> [SET k = v, ...].
func CreateEdge(class, from, to string, data map[string]interface{}) (string, error) {
	if err := checkIdentifier("class name", class); err != nil {
		return "", err
	}
	fromRID, err := ParseRID(from)
	if err != nil {
		return "", err
	}
	toRID, err := ParseRID(to)
	if err != nil {
		return "", err
	}

	q := fmt.Sprintf("CREATE EDGE %s FROM %s TO %s", class, fromRID, toRID)
	if len(data) == 0 {
		return q, nil
	}
	sets, err := assignments(data)
	if err != nil {
		return "", err
	}
	return q + " SET " + strings.Join(sets, ", "), nil
}

// UpdateEdge returns UPDATE EDGE <rid> MERGE <json> RETURN AFTER.
func UpdateEdge(rid string, data map[string]interface{}) (string, error) {
	r, err := ParseRID(rid)
	if err != nil {
		return "", err
	}
	doc, err := mergeDocument(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE EDGE %s MERGE %s RETURN AFTER", r, doc), nil
}

// DeleteEdge returns DELETE EDGE <rid>.
func DeleteEdge(rid string) (string, error) {
	r, err := ParseRID(rid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE EDGE %s", r), nil
}

// RetrieveEdge matches edges of class between vertices filtered by
// outFilter and inFilter. When data is set the edge itself is matched on
// those property values.
func RetrieveEdge(class, outFilter, inFilter string, data map[string]interface{}) (string, error) {
	if err := checkIdentifier("class name", class); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MATCH {Class:V, as:a, where:(%s)}", filter(outFilter))

	if len(data) == 0 {
		fmt.Fprintf(&sb, "-%s-", class)
	} else {
		conds, err := assignments(data)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, ".outE('%s'){as:e, where:(%s)}.inV()", class, strings.Join(conds, " AND "))
	}

	fmt.Fprintf(&sb, "{Class:V, as:b, where:(%s)} RETURN $pathelements", filter(inFilter))
	return sb.String(), nil
}
