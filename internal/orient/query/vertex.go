package query

import (
	"fmt"
)

// UpdateVertex returns UPDATE <rid> MERGE <json> RETURN AFTER.
func UpdateVertex(rid string, data map[string]interface{}) (string, error) {
	r, err := ParseRID(rid)
	if err != nil {
		return "", err
	}
	doc, err := mergeDocument(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s MERGE %s RETURN AFTER", r, doc), nil
}

// UpdateVertexWhere merges data into every vertex of class matching where.
func UpdateVertexWhere(class, where string, data map[string]interface{}) (string, error) {
	if err := checkIdentifier("class name", class); err != nil {
		return "", err
	}
	doc, err := mergeDocument(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s MERGE %s RETURN AFTER WHERE %s", class, doc, filter(where)), nil
}

// DeleteVertex returns DELETE VERTEX <rid>.
func DeleteVertex(rid string) (string, error) {
	r, err := ParseRID(rid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE VERTEX %s", r), nil
}

// DeleteVertexWhere deletes every vertex of class matching where.
func DeleteVertexWhere(class, where string) (string, error) {
	if err := checkIdentifier("class name", class); err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE VERTEX %s WHERE %s", class, filter(where)), nil
}

// RetrieveVertex returns a MATCH over class filtered by where.
func RetrieveVertex(class, where string) (string, error) {
	if err := checkIdentifier("class name", class); err != nil {
		return "", err
	}
	return fmt.Sprintf("MATCH {class:%s, as:c, where:(%s)} RETURN $pathelements", class, filter(where)), nil
}
