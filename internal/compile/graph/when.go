package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamLookup resolves one parameter by name. The bool reports presence.
type ParamLookup func(name string) (any, bool, error)

// NewWhenEvaluator builds a WhenEvaluator over resolved parameters.
// Supported forms: `params.name == literal`, `params.name != literal`, and
// bare `params.name` (truthy). Anything else is rejected at compile time.
func NewWhenEvaluator(lookup ParamLookup) WhenEvaluator {
	return func(expr string) (bool, error) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return true, nil
		}

		if op, ok := splitComparison(expr); ok {
			left, right := op.left, op.right
			value, err := lookupParamRef(lookup, left)
			if err != nil {
				return false, err
			}
			literal := parseLiteral(right)
			equal := literalEquals(value, literal)
			if op.negated {
				return !equal, nil
			}
			return equal, nil
		}

		value, err := lookupParamRef(lookup, expr)
		if err != nil {
			return false, err
		}
		return truthy(value), nil
	}
}

type comparison struct {
	left    string
	right   string
	negated bool
}

func splitComparison(expr string) (comparison, bool) {
	if i := strings.Index(expr, "!="); i >= 0 {
		return comparison{
			left:    strings.TrimSpace(expr[:i]),
			right:   strings.TrimSpace(expr[i+2:]),
			negated: true,
		}, true
	}
	if i := strings.Index(expr, "=="); i >= 0 {
		return comparison{
			left:  strings.TrimSpace(expr[:i]),
			right: strings.TrimSpace(expr[i+2:]),
		}, true
	}
	return comparison{}, false
}

func lookupParamRef(lookup ParamLookup, ref string) (any, error) {
	name, ok := strings.CutPrefix(ref, "params.")
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("unsupported when expression operand %q", ref)
	}
	value, found, err := lookup(strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("when condition references unresolved parameter %q", name)
	}
	return value, nil
}

func parseLiteral(s string) any {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func literalEquals(value, literal any) bool {
	return asComparable(value) == asComparable(literal)
}

// asComparable folds the small value vocabulary onto strings so a profile's
// `region: eu` compares equal to the literal "eu" regardless of source type.
func asComparable(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}
