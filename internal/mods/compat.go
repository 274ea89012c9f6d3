package mods

import "strings"

// Conflict report entry prefixes.
const (
	ReportRequired   = "Required:"
	ReportDisallowed = "Disallowed:"
	ReportForbidden  = "Forbidden:"
)

// CheckCompatibility compares a client's declared mod ids against m and returns
// every mismatch. Ids compare case-insensitively. An empty report means the
// client may join.
//
// Required ids missing from declared are reported as Required:<id>. Declared ids
// outside Required and Optional are reported as Disallowed:<id>. Declared ids in
// Forbidden are reported as Forbidden:<id>.
func CheckCompatibility(declared []string, m Manifest) []string {
	have := make(map[string]bool, len(declared))
	for _, id := range declared {
		have[normalize(id)] = true
	}
	allowed := toSet(m.Required, m.Optional)
	forbidden := toSet(m.Forbidden)

	var report []string
	for _, id := range m.Required {
		if !have[normalize(id)] {
			report = append(report, ReportRequired+id)
		}
	}

	seen := make(map[string]bool, len(declared))
	var banned []string
	for _, id := range declared {
		key := normalize(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		if !allowed[key] {
			report = append(report, ReportDisallowed+id)
		}
		if forbidden[key] {
			banned = append(banned, ReportForbidden+id)
		}
	}
	return append(report, banned...)
}

func toSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, id := range list {
			set[normalize(id)] = true
		}
	}
	return set
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
