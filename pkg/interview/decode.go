package interview

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by [DecodeAnalysis] when the payload is valid JSON
// but not an object.
var ErrNotObject = errors.New("interview: analysis payload is not a JSON object")

// DecodeAnalysis decodes a backend analysis payload field by field. Each field
// is decoded independently: a missing, null or wrongly typed field takes its
// default instead of failing the whole document. Only a payload that is not
// a JSON object at all is an error. The result is always normalized.
func DecodeAnalysis(data []byte) (Analysis, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Analysis{}, fmt.Errorf("interview: decode analysis: %w", err)
	}
	if fields == nil {
		return Analysis{}, ErrNotObject
	}

	a := Analysis{
		Intent:        stringField(fields, "intent"),
		Context:       stringField(fields, "context"),
		Answer:        stringField(fields, "answer"),
		Suggestions:   listField(fields, "suggestions"),
		Hints:         listField(fields, "hints"),
		TalkingPoints: listField(fields, "talkingPoints"),
	}
	return a.Normalize(), nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func listField(fields map[string]json.RawMessage, key string) []string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}
