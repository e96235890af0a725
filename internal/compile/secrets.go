package compile

import (
	"regexp"
	"strings"

	"github.com/strata-labs/strata-go/internal/domain"
)

// Secret-declared paths may only carry indirect references: the runner
// injects the named value from its own environment at startup.
var indirectRefPattern = regexp.MustCompile(`^\$\{(secret|env):[A-Za-z_][A-Za-z0-9_]*\}$`)

func scanSecretPaths(stepID string, cfg domain.Metadata, secretPaths []string) error {
	for _, path := range secretPaths {
		value, ok := valueAtPath(cfg, strings.Split(path, "."))
		if !ok {
			continue
		}
		if isIndirectSecretRef(value) {
			continue
		}
		return &domain.SecretInlineForbiddenError{StepID: stepID, Path: path}
	}
	return nil
}

func isIndirectSecretRef(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if strings.TrimSpace(s) == "" {
		return true
	}
	return indirectRefPattern.MatchString(s)
}

func valueAtPath(cfg domain.Metadata, segments []string) (any, bool) {
	var current any = cfg
	for _, segment := range segments {
		switch m := current.(type) {
		case domain.Metadata:
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]any:
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}
