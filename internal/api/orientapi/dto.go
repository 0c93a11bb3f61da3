package orientapi

import (
	"github.com/rohankatakam/graphrest/internal/errors"
	"github.com/rohankatakam/graphrest/internal/orient/query"
)

// ConnectHost logs in to a server. Host and port override the headers.
type ConnectHost struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

func (c *ConnectHost) Validate() error {
	if c.User == "" {
		return errors.ValidationError("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.ValidationErrorf("invalid port: %d", c.Port)
	}
	return nil
}

// ConnectDatabase opens one database on a server
type ConnectDatabase struct {
	ConnectHost
	Database string `json:"database"`
}

func (c *ConnectDatabase) Validate() error {
	if err := c.ConnectHost.Validate(); err != nil {
		return err
	}
	if c.Database == "" {
		return errors.ValidationError("database is required")
	}
	return nil
}

type ClassCreate struct {
	ClassName string `json:"class_name"`
	Extends   string `json:"extends"`
	Abstract  bool   `json:"abstract"`
}

func (c *ClassCreate) Validate() error {
	if c.ClassName == "" {
		return errors.ValidationError("class_name is required")
	}
	return nil
}

type ClassUpdate struct {
	ClassName  string             `json:"class_name"`
	Properties query.ClassChanges `json:"properties"`
}

func (c *ClassUpdate) Validate() error {
	if c.ClassName == "" {
		return errors.ValidationError("class_name is required")
	}
	if c.Properties.Empty() {
		return errors.ValidationError("properties must contain create, update or alter entries")
	}
	return nil
}

type VertexCreate struct {
	ClassName string                 `json:"class_name"`
	Data      map[string]interface{} `json:"data"`
}

func (v *VertexCreate) Validate() error {
	if v.ClassName == "" {
		return errors.ValidationError("class_name is required")
	}
	if v.Data == nil {
		return errors.ValidationError("data is required")
	}
	return nil
}

// selector picks vertices either by rid or by class and filter.
type selector struct {
	RID       string `json:"rid"`
	ClassName string `json:"class_name"`
	Filter    string `json:"filter"`
}

func (s selector) validate() error {
	if s.RID != "" {
		return nil
	}
	if s.ClassName == "" || s.Filter == "" {
		return errors.ValidationError("rid, or class_name with filter, is required")
	}
	return nil
}

type VertexUpdate struct {
	selector
	Data map[string]interface{} `json:"data"`
}

func (v *VertexUpdate) Validate() error {
	if err := v.selector.validate(); err != nil {
		return err
	}
	if len(v.Data) == 0 {
		return errors.ValidationError("data is required")
	}
	return nil
}

type VertexDelete struct {
	selector
}

func (v *VertexDelete) Validate() error {
	return v.selector.validate()
}

type EdgeCreate struct {
	ClassName string                 `json:"class_name"`
	InRID     string                 `json:"in_rid"`
	OutRID    string                 `json:"out_rid"`
	Data      map[string]interface{} `json:"data"`
}

func (e *EdgeCreate) Validate() error {
	switch {
	case e.ClassName == "":
		return errors.ValidationError("class_name is required")
	case e.InRID == "":
		return errors.ValidationError("in_rid is required")
	case e.OutRID == "":
		return errors.ValidationError("out_rid is required")
	}
	return nil
}

type EdgeUpdate struct {
	RID  string                 `json:"rid"`
	Data map[string]interface{} `json:"data"`
}

func (e *EdgeUpdate) Validate() error {
	if e.RID == "" {
		return errors.ValidationError("rid is required")
	}
	if len(e.Data) == 0 {
		return errors.ValidationError("data is required")
	}
	return nil
}

type EdgeDelete struct {
	RID string `json:"rid"`
}

func (e *EdgeDelete) Validate() error {
	if e.RID == "" {
		return errors.ValidationError("rid is required")
	}
	return nil
}
