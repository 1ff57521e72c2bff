package logstore

import "fmt"

// SinceQuery matches records with @timestamp at least the given relative
// expression ago, e.g. SinceQuery("5m").
func SinceQuery(window string) map[string]any {
	return map[string]any{
		"range": map[string]any{
			"@timestamp": map[string]any{
				"gte": "now-" + window,
			},
		},
	}
}

// SinceMinutesQuery is SinceQuery for a whole number of minutes.
func SinceMinutesQuery(minutes int) map[string]any {
	return SinceQuery(fmt.Sprintf("%dm", minutes))
}

// MatchQuery matches a single field against a value.
func MatchQuery(field, value string) map[string]any {
	return map[string]any{
		"match": map[string]any{field: value},
	}
}

// BoolMust combines clauses under a bool/must conjunction. With no clauses
// it degrades to match_all.
func BoolMust(clauses ...map[string]any) map[string]any {
	if len(clauses) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{
		"bool": map[string]any{
			"must": clauses,
		},
	}
}
