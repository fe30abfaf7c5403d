// Package schema provides the declarative parameter validator attached to
// command definitions, and renders JSON-Schema documents for the tool
// catalog.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Prop describes a single parameter.
type Prop struct {
	Type        string // string, number, integer, boolean, array, object
	Description string
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	Items       *Prop
}

// Object validates a JSON object against typed properties and a required
// list. Unknown fields are always accepted and passed through.
type Object struct {
	Props    map[string]Prop
	Required []string
}

// Passthrough returns a schema that accepts any object shape. Used for
// plugin commands that declare no explicit schema.
func Passthrough() *Object {
	return &Object{}
}

// Min returns a float pointer for bound declarations.
func Min(v float64) *float64 { return &v }

// Max returns a float pointer for bound declarations.
func Max(v float64) *float64 { return &v }

// Validate checks params against the schema and reports every violation in
// a single error, not just the first.
func (o *Object) Validate(params map[string]any) error {
	if o == nil {
		return nil
	}

	var problems []string
	for _, name := range o.Required {
		if _, ok := params[name]; !ok {
			problems = append(problems, name+": required")
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := o.Props[name]
		if !ok {
			continue
		}
		if msg := checkValue(name, prop, params[name]); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func checkValue(path string, prop Prop, value any) string {
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return path + ": expected string"
		}
		if len(prop.Enum) > 0 && !enumHas(prop.Enum, s) {
			return fmt.Sprintf("%s: must be one of %s", path, strings.Join(prop.Enum, ", "))
		}
	case "number", "integer":
		n, ok := asFloat(value)
		if !ok {
			return path + ": expected " + prop.Type
		}
		if prop.Type == "integer" && n != math.Trunc(n) {
			return path + ": expected integer"
		}
		if prop.Minimum != nil && n < *prop.Minimum {
			return fmt.Sprintf("%s: must be >= %v", path, *prop.Minimum)
		}
		if prop.Maximum != nil && n > *prop.Maximum {
			return fmt.Sprintf("%s: must be <= %v", path, *prop.Maximum)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return path + ": expected boolean"
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return path + ": expected array"
		}
		if prop.Items != nil {
			for i, item := range items {
				if msg := checkValue(fmt.Sprintf("%s[%d]", path, i), *prop.Items, item); msg != "" {
					return msg
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return path + ": expected object"
		}
	}
	return ""
}

// Document renders the schema as a JSON-Schema-shaped document for the tool
// catalog.
func (o *Object) Document() map[string]any {
	properties := map[string]any{}
	if o != nil {
		for name, prop := range o.Props {
			properties[name] = prop.document()
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if o != nil && len(o.Required) > 0 {
		required := make([]any, len(o.Required))
		for i, name := range o.Required {
			required[i] = name
		}
		doc["required"] = required
	}
	return doc
}

func (p Prop) document() map[string]any {
	doc := map[string]any{"type": p.Type}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			enum[i] = v
		}
		doc["enum"] = enum
	}
	if p.Minimum != nil {
		doc["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		doc["maximum"] = *p.Maximum
	}
	if p.Items != nil {
		doc["items"] = p.Items.document()
	}
	return doc
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func enumHas(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}
