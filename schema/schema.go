// Package schema validates JSON-compatible values against structural schemas.
//
// A Schema checks a value produced by encoding/json decoding into `any`
// (nil, bool, float64, string, []any, map[string]any). Validation is structural:
// an object passes when every declared field is present with a matching shape,
// extra fields are ignored.
//
//	point := schema.Object(
//		schema.Field("lng", schema.Number()),
//		schema.Field("lat", schema.Number()),
//	)
//	err := schema.Validate(point, map[string]any{"lng": -122.33, "lat": 47.61})
package schema

import (
	"fmt"
	"math"
	"strings"
)

// Schema is a structural validator for one value shape.
type Schema interface {
	// check validates v found at path. It returns nil or a *ValidationError.
	check(path string, v any) *ValidationError
	// String describes the shape, e.g. "{lng: number, lat: number}".
	String() string
}

// ValidationError names the offending path and the reason the value was rejected.
type ValidationError struct {
	Path   string // Dotted path from the root, "" for the root value
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: at %s: %s", e.Path, e.Reason)
}

// Validate checks v against s.
func Validate(s Schema, v any) error {
	if verr := s.check("", v); verr != nil {
		return verr
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func mismatch(path string, want Schema, v any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", want, describe(v))}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

type stringSchema struct{}

// String matches any JSON string.
func String() Schema { return stringSchema{} }

func (stringSchema) check(path string, v any) *ValidationError {
	if _, ok := v.(string); !ok {
		return mismatch(path, stringSchema{}, v)
	}
	return nil
}

func (stringSchema) String() string { return "string" }

type numberSchema struct{}

// Number matches any finite JSON number.
func Number() Schema { return numberSchema{} }

func (numberSchema) check(path string, v any) *ValidationError {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return mismatch(path, numberSchema{}, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &ValidationError{Path: path, Reason: "number is not finite"}
	}
	return nil
}

func (numberSchema) String() string { return "number" }

type nullSchema struct{}

// JSONNull matches only JSON null.
func JSONNull() Schema { return nullSchema{} }

func (nullSchema) check(path string, v any) *ValidationError {
	if v != nil {
		return mismatch(path, nullSchema{}, v)
	}
	return nil
}

func (nullSchema) String() string { return "null" }

// FieldSchema is one named member of an object schema.
type FieldSchema struct {
	Name   string
	Schema Schema
}

// Field declares a required object member.
func Field(name string, s Schema) FieldSchema {
	return FieldSchema{Name: name, Schema: s}
}

type objectSchema struct {
	fields []FieldSchema
}

// Object matches a JSON object carrying every listed field. Fields are checked
// in declaration order and the first failure is reported.
func Object(fields ...FieldSchema) Schema {
	return objectSchema{fields: fields}
}

func (o objectSchema) check(path string, v any) *ValidationError {
	m, ok := v.(map[string]any)
	if !ok {
		return mismatch(path, o, v)
	}
	for _, f := range o.fields {
		fv, present := m[f.Name]
		if !present {
			return &ValidationError{Path: join(path, f.Name), Reason: "missing required field"}
		}
		if verr := f.Schema.check(join(path, f.Name), fv); verr != nil {
			return verr
		}
	}
	return nil
}

func (o objectSchema) String() string {
	parts := make([]string, 0, len(o.fields))
	for _, f := range o.fields {
		parts = append(parts, f.Name+": "+f.Schema.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type unionSchema struct {
	members []Schema
}

// Union matches a value accepted by any member. When every member rejects the
// value, the error from the member that got deepest into it is reported.
func Union(members ...Schema) Schema {
	return unionSchema{members: members}
}

// NullOr matches null or a value matching s.
func NullOr(s Schema) Schema {
	return Union(JSONNull(), s)
}

func (u unionSchema) check(path string, v any) *ValidationError {
	var best *ValidationError
	for _, m := range u.members {
		verr := m.check(path, v)
		if verr == nil {
			return nil
		}
		if best == nil || len(verr.Path) > len(best.Path) {
			best = verr
		}
	}
	if best == nil || best.Path == path {
		return mismatch(path, u, v)
	}
	return best
}

func (u unionSchema) String() string {
	parts := make([]string, 0, len(u.members))
	for _, m := range u.members {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, " | ")
}
