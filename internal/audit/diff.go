package audit

import (
	"slices"

	"github.com/tidwall/gjson"
)

// ChangedFields returns the top-level keys whose values differ between two
// JSON objects, sorted. A key present on only one side counts as changed.
func ChangedFields(before, after []byte) []string {
	b := topLevel(before)
	a := topLevel(after)

	var changed []string
	for k, av := range a {
		if bv, ok := b[k]; !ok || !equal(av, bv) {
			changed = append(changed, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

// Field extracts one top-level value from a JSON payload.
func Field(payload []byte, name string) gjson.Result {
	return topLevel(payload)[name]
}

func topLevel(raw []byte) map[string]gjson.Result {
	out := make(map[string]gjson.Result)
	if len(raw) == 0 {
		return out
	}
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value
		return true
	})
	return out
}

func equal(a, b gjson.Result) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case gjson.Number:
		return a.Raw == b.Raw || a.Num == b.Num
	case gjson.JSON:
		return gjson.Get(a.Raw, "@ugly").Raw == gjson.Get(b.Raw, "@ugly").Raw
	}
	return a.Raw == b.Raw
}
