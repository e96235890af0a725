package describe

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileSet maps profile names to their parameter values, parsed from a
// profiles document.
type ProfileSet map[string]map[string]any

// ParseProfiles decodes a YAML document of the form:
//
//	profiles:
//	  dev:
//	    region: eu
//	  prod:
//	    region: us
func ParseProfiles(data []byte) (ProfileSet, error) {
	var doc struct {
		Profiles map[string]map[string]any `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	set := make(ProfileSet, len(doc.Profiles))
	for name, params := range doc.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("profiles document contains an empty profile name")
		}
		set[name] = params
	}
	return set, nil
}

// Params returns the parameter values of one profile. An empty profile name
// selects no profile parameters; an unknown name is an error naming the
// available profiles.
func (s ProfileSet) Params(name string) (map[string]any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	params, ok := s[name]
	if !ok {
		names := make([]string, 0, len(s))
		for n := range s {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown profile %q (have %s)", name, strings.Join(names, ", "))
	}
	return params, nil
}
