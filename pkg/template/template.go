// Package template reshapes a StandardizedOutput through a user
// supplied JSON template. String leaves may carry {placeholder} or
// {path.to.field} markers; an extraction-rules map binds each
// placeholder to a natural-language rule interpreted by a heuristic
// matcher. Processing is pure and deterministic.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/covey-team/covey/pkg/models"
)

var (
	// ErrInvalidTemplate is returned for a non-object or empty template
	// root.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidRules is returned for malformed extraction rules.
	ErrInvalidRules = errors.New("invalid extraction rules")
)

var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Parse validates the template tree and returns every placeholder name
// found in its string leaves, in first-seen order.
func Parse(tmpl map[string]any) ([]string, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: root must be an object", ErrInvalidTemplate)
	}
	if len(tmpl) == 0 {
		return nil, fmt.Errorf("%w: root object is empty", ErrInvalidTemplate)
	}

	var names []string
	seen := make(map[string]bool)
	walkStrings(tmpl, func(s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	})
	return names, nil
}

func walkStrings(node any, visit func(string)) {
	switch v := node.(type) {
	case string:
		visit(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkStrings(v[k], visit)
		}
	case []any:
		for _, item := range v {
			walkStrings(item, visit)
		}
	}
}

// ValidateRules checks that every field name and rule is a non-empty
// string. Rules with no matching placeholder are allowed.
func ValidateRules(rules map[string]string) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: no rules given", ErrInvalidRules)
	}
	for name, rule := range rules {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidRules)
		}
		if strings.TrimSpace(rule) == "" {
			return fmt.Errorf("%w: empty rule for field %q", ErrInvalidRules, name)
		}
	}
	return nil
}

// Substitute walks the template and replaces every placeholder in
// string leaves with the stringified extracted value. Non-string leaves
// pass through verbatim. The input tree is not mutated.
func Substitute(tmpl map[string]any, values map[string]any) map[string]any {
	out := substituteNode(tmpl, values)
	return out.(map[string]any)
}

func substituteNode(node any, values map[string]any) any {
	switch v := node.(type) {
	case string:
		return substituteString(v, values)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = substituteNode(item, values)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substituteNode(item, values)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, values map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		value, outcome := resolve(values, name)
		switch outcome {
		case resolved:
			return stringify(value)
		case missing:
			return fmt.Sprintf("[Missing: %s]", name)
		case invalidPath:
			return fmt.Sprintf("[Invalid path: %s]", name)
		default:
			return fmt.Sprintf("[Error accessing: %s]", name)
		}
	})
}

type resolution int

const (
	resolved resolution = iota
	missing
	invalidPath
	accessError
)

// resolve walks a dotted path through the extracted values. The first
// segment must name an extracted field; later segments index nested
// objects.
func resolve(values map[string]any, name string) (any, resolution) {
	segments := strings.Split(name, ".")

	current, ok := values[segments[0]]
	if !ok {
		return nil, missing
	}

	for _, seg := range segments[1:] {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, invalidPath
			}
			current = next
		case map[string]string:
			next, ok := v[seg]
			if !ok {
				return nil, invalidPath
			}
			current = next
		default:
			return nil, invalidPath
		}
	}

	if err, isErr := current.(error); isErr {
		return nil, accessErrorFor(err)
	}
	return current, resolved
}

func accessErrorFor(error) resolution {
	return accessError
}

// stringify renders an extracted value for interpolation. Lists join
// with ", ".
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Format runs the full pipeline: parse, validate, extract, substitute.
func Format(tmpl map[string]any, rules map[string]string, out *models.StandardizedOutput) (map[string]any, error) {
	if _, err := Parse(tmpl); err != nil {
		return nil, err
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return Substitute(tmpl, Extract(rules, out)), nil
}
