package instruct

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchKind selects a MatchItem's predicate, per spec §3/§4.6.2.
type MatchKind int

const (
	Eq MatchKind = iota
	Contains
	NotContains
	Regex
)

func (k MatchKind) String() string {
	switch k {
	case Eq:
		return "eq"
	case Contains:
		return "contains"
	case NotContains:
		return "not_contains"
	case Regex:
		return "regex"
	default:
		return "unknown"
	}
}

// MarshalYAML and UnmarshalYAML render MatchKind as its lowercase name
// ("eq", "contains", "not_contains", "regex") in graph files, rather than
// the bare int, so hand-authored graphs stay readable.
func (k MatchKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k *MatchKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "eq":
		*k = Eq
	case "contains":
		*k = Contains
	case "not_contains":
		*k = NotContains
	case "regex":
		*k = Regex
	default:
		return fmt.Errorf("instruct: unknown match kind %q", s)
	}
	return nil
}

// MatchItem is a pure value — no captured closures — so evaluation is a
// plain function of (item, output), per spec §9 "Match closures".
type MatchItem struct {
	Value string    `yaml:"value"`
	Kind  MatchKind `yaml:"kind"`
}

// Evaluate applies one MatchItem to output. Regex uses Go's regexp
// package, which is RE2: ^ and $ are NOT multi-line-anchored unless the
// pattern carries the (?m) flag, resolving spec §9's open question on
// regex dialect.
func Evaluate(item MatchItem, output string) bool {
	switch item.Kind {
	case Eq:
		return output == item.Value
	case Contains:
		return strings.Contains(strings.ToLower(output), strings.ToLower(item.Value))
	case NotContains:
		return !strings.Contains(strings.ToLower(output), strings.ToLower(item.Value))
	case Regex:
		re, err := regexp.Compile(item.Value)
		if err != nil {
			return false
		}
		return re.MatchString(output)
	default:
		return false
	}
}

// matches reports whether every item in items evaluates true against
// output — a child is "matched" iff all of its matchers hold, per spec
// §4.6.2.
func matches(items []MatchItem, output string) bool {
	for _, item := range items {
		if !Evaluate(item, output) {
			return false
		}
	}
	return true
}

// firstMatch returns the first child (in declaration order) whose Pre
// matchers all hold against output.
func firstMatch(children []*ExecuteNode, output string) (*ExecuteNode, bool) {
	for _, child := range children {
		if matches(child.Node.Pre, output) {
			return child, true
		}
	}
	return nil, false
}
