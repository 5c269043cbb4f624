package models

import (
	"encoding/json"
	"fmt"
)

// JSONB is a free-form JSON object stored in a jsonb column
type JSONB map[string]interface{}

// Clone returns a shallow copy of the top-level keys
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	c := make(JSONB, len(j))
	for k, v := range j {
		c[k] = v
	}
	return c
}

// Merge returns a copy of j with the given keys overwritten
func (j JSONB) Merge(other JSONB) JSONB {
	c := j.Clone()
	if c == nil {
		c = JSONB{}
	}
	for k, v := range other {
		c[k] = v
	}
	return c
}

// String returns the value under key when it is a string
func (j JSONB) String(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}

// Bytes marshals the object for a jsonb column; nil stays NULL
func (j JSONB) Bytes() ([]byte, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}
	return b, nil
}

// ParseJSONB unmarshals a jsonb column value
func ParseJSONB(b []byte) (JSONB, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var j JSONB
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jsonb: %w", err)
	}
	return j, nil
}
