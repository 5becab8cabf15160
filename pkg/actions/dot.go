package actions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tracklane/tracklane/pkg/engine"
)

// Reference prefixes understood by the dot accessor.
const (
	RefProfile = "profile@"
	RefEvent   = "event@"
	RefSession = "session@"
	RefPayload = "payload@"
)

// DotAccessor resolves dot references against the documents of a run.
type DotAccessor struct {
	docs map[string]interface{}
}

// NewDotAccessor snapshots the given documents. Any of them may be nil.
func NewDotAccessor(profile *engine.Profile, session *engine.Session, event *engine.Event, payload interface{}) (*DotAccessor, error) {
	d := &DotAccessor{docs: make(map[string]interface{}, 4)}

	if profile != nil {
		doc, err := engine.ToDocument(profile.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		d.docs[RefProfile] = doc
	}
	if session != nil {
		doc, err := engine.ToDocument(session)
		if err != nil {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		d.docs[RefSession] = doc
	}
	if event != nil {
		doc, err := engine.ToDocument(event)
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		d.docs[RefEvent] = doc
	}

	p, err := normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	d.docs[RefPayload] = p

	return d, nil
}

// IsReference reports whether s starts with a known prefix.
func IsReference(s string) bool {
	_, _, ok := splitReference(s)
	return ok
}

// Get resolves ref. A string without a known prefix is returned as is. An empty
// path after the prefix returns the whole document.
func (d *DotAccessor) Get(ref string) (interface{}, error) {
	prefix, path, ok := splitReference(ref)
	if !ok {
		return ref, nil
	}

	doc, exists := d.docs[prefix]
	if !exists {
		return nil, fmt.Errorf("%s is not available", strings.TrimSuffix(prefix, "@"))
	}
	if path == "" {
		return doc, nil
	}

	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %s not found in %s", path, strings.TrimSuffix(prefix, "@"))
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid index %s in %s", part, ref)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("field %s not found in %s", path, strings.TrimSuffix(prefix, "@"))
		}
	}
	return cur, nil
}

// Resolve returns v with every string reference replaced by its value. Maps and
// lists are resolved recursively.
func (d *DotAccessor) Resolve(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return d.Get(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			r, err := d.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			r, err := d.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func splitReference(s string) (prefix, path string, ok bool) {
	for _, p := range []string{RefProfile, RefEvent, RefSession, RefPayload} {
		if rest, found := strings.CutPrefix(s, p); found {
			return p, rest, true
		}
	}
	return "", "", false
}

// normalize converts v into the generic form decoded JSON has.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
