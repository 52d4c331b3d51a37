package schema

import "strings"

// byte-order marks seen at the start of exchange CSVs, raw and decoded as Latin-1
var bomMarkers = []string{"\ufeff", "\u00ef\u00bb\u00bf"}

// CleanHeader strips BOMs, embedded quote characters and surrounding whitespace.
func CleanHeader(h string) string {
	for _, b := range bomMarkers {
		h = strings.ReplaceAll(h, b, "")
	}
	h = strings.ReplaceAll(h, `"`, "")
	return strings.TrimSpace(h)
}

// Mapping is the result of column resolution for one dataset.
type Mapping struct {
	// Headers are the cleaned headers, in column order.
	Headers []string
	// Columns maps each resolved field to its column index.
	Columns map[Field]int
}

// Header returns the cleaned raw header resolved for f.
func (m Mapping) Header(f Field) (string, bool) {
	i, ok := m.Columns[f]
	if !ok {
		return "", false
	}
	return m.Headers[i], true
}

// Resolve maps raw headers to canonical fields. It fails only when a required field
// (Symbol, DeliveryPercent) has no plausible column.
func Resolve(header []string, candidates Candidates) (Mapping, error) {
	m := Mapping{
		Headers: make([]string, len(header)),
		Columns: make(map[Field]int, len(Fields)),
	}
	for i, h := range header {
		m.Headers[i] = CleanHeader(h)
	}

	claimed := make([]bool, len(header))
	for _, f := range Fields {
		rule := candidates[f]
		idx := resolveField(m.Headers, claimed, rule)
		if idx < 0 {
			if f.Required() {
				return m, &SchemaResolutionError{
					Field:   f,
					Tried:   rule.describe(),
					Headers: append([]string(nil), m.Headers...),
				}
			}
			continue
		}
		claimed[idx] = true
		m.Columns[f] = idx
	}
	return m, nil
}

func resolveField(headers []string, claimed []bool, rule Rule) int {
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}

	for _, name := range rule.Exact {
		want := strings.ToUpper(CleanHeader(name))
		for i, h := range upper {
			if !claimed[i] && h == want {
				return i
			}
		}
	}

	if len(rule.AllOf) > 0 {
		for i, h := range upper {
			if claimed[i] || excluded(h, rule.Exclude) {
				continue
			}
			if matchesAllGroups(h, rule.AllOf) {
				return i
			}
		}
	}

	for i, h := range upper {
		if claimed[i] || excluded(h, rule.Exclude) {
			continue
		}
		if containsAny(h, rule.AnyOf) {
			return i
		}
	}
	return -1
}

func matchesAllGroups(h string, groups [][]string) bool {
	for _, g := range groups {
		if !containsAny(h, g) {
			return false
		}
	}
	return true
}

func containsAny(h string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(h, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

func excluded(h string, markers []string) bool {
	return containsAny(h, markers)
}
