package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed candidates.yaml
var defaultCandidatesYAML []byte

// Rule is the ordered candidate list for one canonical field.
type Rule struct {
	Exact   []string   `yaml:"exact"`
	AllOf   [][]string `yaml:"all_of"`
	AnyOf   []string   `yaml:"any_of"`
	Exclude []string   `yaml:"exclude"`
}

// Candidates maps each canonical field to its resolution rule.
type Candidates map[Field]Rule

// DefaultCandidates returns a fresh copy of the built-in candidate table.
func DefaultCandidates() Candidates {
	c, err := ParseCandidates(defaultCandidatesYAML)
	if err != nil {
		panic(fmt.Sprintf("schema: embedded candidates: %v", err))
	}
	return c
}

// ParseCandidates decodes a YAML candidate table.
func ParseCandidates(data []byte) (Candidates, error) {
	var c Candidates
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	for f := range c {
		if !knownField(f) {
			return nil, fmt.Errorf("parse candidates: unknown field %q", f)
		}
	}
	return c, nil
}

// LoadCandidates reads a YAML candidate file and widens the default table with it.
func LoadCandidates(path string) (Candidates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates file: %w", err)
	}
	extra, err := ParseCandidates(data)
	if err != nil {
		return nil, err
	}
	return DefaultCandidates().Widen(extra), nil
}

// Widen returns a table where extra exact names take precedence over c's and extra
// markers are tried after c's. Exclusions are unioned.
func (c Candidates) Widen(extra Candidates) Candidates {
	out := make(Candidates, len(c))
	for f, r := range c {
		out[f] = r
	}
	for f, x := range extra {
		base := out[f]
		out[f] = Rule{
			Exact:   appendUnique(append([]string(nil), x.Exact...), base.Exact...),
			AllOf:   append(append([][]string(nil), base.AllOf...), x.AllOf...),
			AnyOf:   appendUnique(append([]string(nil), base.AnyOf...), x.AnyOf...),
			Exclude: appendUnique(append([]string(nil), base.Exclude...), x.Exclude...),
		}
	}
	return out
}

// describe lists what was tried, for diagnostics.
func (r Rule) describe() []string {
	var tried []string
	for _, e := range r.Exact {
		tried = append(tried, "exact:"+e)
	}
	if len(r.AllOf) > 0 {
		groups := make([]string, len(r.AllOf))
		for i, g := range r.AllOf {
			groups[i] = "(" + strings.Join(g, "|") + ")"
		}
		tried = append(tried, "all_of:"+strings.Join(groups, "+"))
	}
	for _, m := range r.AnyOf {
		tried = append(tried, "contains:"+m)
	}
	return tried
}

func knownField(f Field) bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, src ...string) []string {
	seen := make(map[string]bool, len(dst)+len(src))
	for _, s := range dst {
		seen[strings.ToUpper(s)] = true
	}
	for _, s := range src {
		if !seen[strings.ToUpper(s)] {
			seen[strings.ToUpper(s)] = true
			dst = append(dst, s)
		}
	}
	return dst
}
