package query

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/graphrest/internal/errors"
)

// PropertyTypes are the types accepted when creating a property
var PropertyTypes = []string{"BOOLEAN", "INTEGER", "FLOAT", "DATETIME", "STRING"}

// ClassAttributes are the attributes accepted by ALTER CLASS
var ClassAttributes = []string{
	"NAME", "SHORTNAME", "SUPERCLASS", "SUPERCLASSES", "OVERSIZE", "ADDCLUSTER",
	"REMOVECLUSTER", "STRICTMODE", "CLUSTERSELECTION", "CUSTOM", "ABSTRACT",
}

// ErrClassDelete is returned for every class delete
const ErrClassDelete = "Classes can't be deleted temporarily."

// PropertyCreate adds a property to a class
type PropertyCreate struct {
	Property string `json:"property"`
	Type     string `json:"type"`
}

// PropertyUpdate alters one attribute of an existing property
type PropertyUpdate struct {
	Property  string      `json:"property"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

// ClassChanges is the body of a class update
type ClassChanges struct {
	Create []PropertyCreate        `json:"create,omitempty"`
	Update []PropertyUpdate        `json:"update,omitempty"`
	Alter  map[string]interface{} `json:"alter,omitempty"`
}

// Empty reports whether there is nothing to apply.
func (c ClassChanges) Empty() bool {
	return len(c.Create) == 0 && len(c.Update) == 0 && len(c.Alter) == 0
}

// CreateClass returns CREATE CLASS <name> [EXTENDS <parent>] [ABSTRACT].
func CreateClass(name, extends string, abstract bool) (string, error) {
	if err := checkIdentifier("class name", name); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("CREATE CLASS ")
	sb.WriteString(name)
	if extends != "" {
		if err := checkIdentifier("superclass", extends); err != nil {
			return "", err
		}
		sb.WriteString(" EXTENDS ")
		sb.WriteString(extends)
	}
	if abstract {
		sb.WriteString(" ABSTRACT")
	}
	return sb.String(), nil
}

// UpdateClass returns the commands that apply changes, in order: property
// creates, property alters, then class alters sorted by attribute.
func UpdateClass(name string, changes ClassChanges) ([]string, error) {
	if err := checkIdentifier("class name", name); err != nil {
		return nil, err
	}
	if changes.Empty() {
		return nil, errors.ValidationError("properties must contain create, update or alter")
	}

	var commands []string

	for i, p := range changes.Create {
		if p.Property == "" || p.Type == "" {
			return nil, errors.ValidationErrorf(`create[%d] should implement {"property": "name", "type": "STRING"}`, i)
		}
		if err := checkIdentifier("property name", p.Property); err != nil {
			return nil, err
		}
		typ := strings.ToUpper(p.Type)
		if !contains(PropertyTypes, typ) {
			return nil, errors.ValidationErrorf("type %q not supported (want one of %s)", p.Type, strings.Join(PropertyTypes, ", "))
		}
		commands = append(commands, fmt.Sprintf("CREATE PROPERTY %s.%s %s", name, p.Property, typ))
	}

	for i, p := range changes.Update {
		if p.Property == "" || p.Attribute == "" || p.Value == nil {
			return nil, errors.ValidationErrorf(`update[%d] should implement {"property": "name", "attribute": "MANDATORY", "value": "true"}`, i)
		}
		if err := checkIdentifier("property name", p.Property); err != nil {
			return nil, err
		}
		if err := checkIdentifier("property attribute", p.Attribute); err != nil {
			return nil, err
		}
		value, err := attributeValue(p.Value)
		if err != nil {
			return nil, err
		}
		commands = append(commands, fmt.Sprintf("ALTER PROPERTY %s.%s %s %s", name, p.Property, strings.ToUpper(p.Attribute), value))
	}

	for _, attr := range sortedKeys(changes.Alter) {
		upper := strings.ToUpper(attr)
		if !contains(ClassAttributes, upper) {
			return nil, errors.ValidationErrorf("class attribute %q not supported", attr)
		}
		value, err := attributeValue(changes.Alter[attr])
		if err != nil {
			return nil, err
		}
		commands = append(commands, fmt.Sprintf("ALTER CLASS %s %s %s", name, upper, value))
	}

	return commands, nil
}

// DeleteClass always fails: classes are not deletable through the API.
func DeleteClass(name string) error {
	return errors.ForbiddenError(ErrClassDelete)
}

// RetrieveClass selects one class from the schema, or the whole class list
// when name is empty.
func RetrieveClass(name string) (string, error) {
	if name == "" {
		return "SELECT classes FROM metadata:schema", nil
	}
	if err := checkIdentifier("class name", name); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (SELECT expand(classes) FROM metadata:schema) WHERE name='%s'", name), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
