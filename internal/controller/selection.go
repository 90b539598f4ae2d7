package controller

import (
	"sort"
	"strings"
)

// Selection names the scenarios a run should execute. The zero value
// selects nothing, which is a valid run.
type Selection struct {
	all   bool
	names []string
}

// SelectNone selects no scenarios.
func SelectNone() Selection {
	return Selection{}
}

// SelectAll selects every configured scenario.
func SelectAll() Selection {
	return Selection{all: true}
}

// SelectNames selects the given scenarios. Duplicates and blank names are
// dropped.
func SelectNames(names ...string) Selection {
	seen := make(map[string]bool, len(names))
	s := Selection{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		s.names = append(s.names, name)
	}
	return s
}

// ParseSelection parses a selector such as the SCENARIO environment
// variable: empty selects nothing, "all" or "*" selects everything, and
// anything else is a comma-separated list of names.
func ParseSelection(raw string) Selection {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return SelectNone()
	case "all", "*":
		return SelectAll()
	default:
		return SelectNames(strings.Split(raw, ",")...)
	}
}

// All reports whether every scenario is selected.
func (s Selection) All() bool {
	return s.all
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return !s.all && len(s.names) == 0
}

// Names returns the explicitly selected names in selection order.
func (s Selection) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Selection) String() string {
	switch {
	case s.all:
		return "all"
	case len(s.names) == 0:
		return "none"
	default:
		return strings.Join(s.names, ",")
	}
}

// resolve maps the selection onto the configured names.
func (s Selection) resolve(configured map[string]ScenarioSpec) ([]string, []string) {
	if s.all {
		names := make([]string, 0, len(configured))
		for name := range configured {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	var found, missing []string
	for _, name := range s.names {
		if _, ok := configured[name]; ok {
			found = append(found, name)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing
}
