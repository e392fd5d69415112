package parallel

import "github.com/rcliao/ctxrt/internal/value"

// mergeValues combines the successful results of an "all" episode, given in
// path declaration order. Scalars become a list, lists are concatenated, maps
// are shallow-merged with later paths winning; anything mixed degenerates to
// a list of the raw results.
func mergeValues(vals []value.Value) value.Value {
	allLists, allMaps := true, true
	for _, v := range vals {
		allLists = allLists && v.Kind == value.KindList
		allMaps = allMaps && v.Kind == value.KindMap
	}

	switch {
	case len(vals) == 0:
		return value.List()
	case allLists:
		var out []value.Value
		for _, v := range vals {
			out = append(out, v.AsList()...)
		}
		return value.ListOf(out)
	case allMaps:
		m := value.NewMap()
		for _, v := range vals {
			src := v.AsMap()
			for _, k := range src.Keys {
				m.Set(k, src.Entries[k])
			}
		}
		return value.MapOf(m)
	}
	out := make([]value.Value, len(vals))
	copy(out, vals)
	return value.ListOf(out)
}
