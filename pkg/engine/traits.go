package engine

import (
	"reflect"
)

// MergeTraits returns the deep union of base and other. Maps are merged key by key,
// a scalar in other replaces the one in base and lists are unioned with the order
// of base kept and unseen items of other appended. Neither input is modified.
func MergeTraits(base, other map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(other))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range other {
		cur, ok := out[k]
		if !ok {
			out[k] = cloneValue(v)
			continue
		}
		out[k] = mergeValue(cur, v)
	}
	return out
}

func mergeValue(cur, next interface{}) interface{} {
	switch n := next.(type) {
	case map[string]interface{}:
		if c, ok := cur.(map[string]interface{}); ok {
			return MergeTraits(c, n)
		}
	case []interface{}:
		if c, ok := cur.([]interface{}); ok {
			return unionList(c, n)
		}
	}
	return cloneValue(next)
}

func unionList(base, other []interface{}) []interface{} {
	out := make([]interface{}, 0, len(base)+len(other))
	for _, v := range base {
		out = append(out, cloneValue(v))
	}
	for _, v := range other {
		if !containsValue(out, v) {
			out = append(out, cloneValue(v))
		}
	}
	return out
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return MergeTraits(nil, t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
