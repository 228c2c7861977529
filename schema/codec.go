package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Null is the Go type of a value that is always JSON null.
type Null struct{}

func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (*Null) UnmarshalJSON([]byte) error {
	return nil
}

// Codec binds a Schema to the Go type T carried by it.
//
// Decode validates before converting, so T never observes a payload that fails
// the schema. Encode converts first and validates the resulting JSON, which is
// how a handler's return value is checked before it leaves the process.
type Codec[T any] struct {
	schema Schema
}

// Of returns a Codec for values of type T shaped like s.
func Of[T any](s Schema) Codec[T] {
	return Codec[T]{schema: s}
}

// Schema returns the schema the codec validates against.
func (c Codec[T]) Schema() Schema {
	return c.schema
}

// Decode validates raw and converts it into T. An empty raw is treated as null.
func (c Codec[T]) Decode(raw json.RawMessage) (T, error) {
	var out T
	v, err := parse(raw)
	if err != nil {
		return out, err
	}
	if err := Validate(c.schema, v); err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ValidationError{Reason: fmt.Sprintf("cannot decode into %T: %v", out, err)}
	}
	return out, nil
}

// Encode converts v into JSON and validates the result.
func (c Codec[T]) Encode(v T) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot encode %T: %v", v, err)}
	}
	parsed, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(c.schema, parsed); err != nil {
		return nil, err
	}
	return raw, nil
}

func parse(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return v, nil
}
