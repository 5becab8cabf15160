package engine

import (
	"encoding/json"
	"fmt"
)

// FlattenSeparator joins nested keys of a flattened document.
const FlattenSeparator = "."

// Flatten collapses nested maps into a single level map keyed by dotted paths.
// Lists are kept as values.
func Flatten(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, doc map[string]interface{}) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + FlattenSeparator + k
		}
		if nested, ok := v.(map[string]interface{}); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// ToDocument converts a value into a generic JSON document.
func ToDocument(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// FlattenProfile returns the flattened document of the profile's persisted fields.
func FlattenProfile(p *Profile) (map[string]interface{}, error) {
	doc, err := ToDocument(p.Snapshot())
	if err != nil {
		return nil, err
	}
	return Flatten(doc), nil
}
