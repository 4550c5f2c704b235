// Package template resolves {{token}} placeholders against a variable
// context built from the triggering subject and prior node outputs.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/praxishq/automation/pkg/models"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([\w.\-]+)\s*\}\}`)

// Warning records a token that could not be resolved. Unresolved tokens are
// substituted with an empty string instead of failing the whole payload; a
// partially filled webhook body beats a dropped one.
type Warning struct {
	Token string `json:"token"`
}

// Resolve substitutes every {{token}} occurrence in the template with the
// looked-up value coerced to string. Missing tokens resolve to "" and are
// reported as warnings; Resolve never fails.
func Resolve(template string, vars *models.VariableContext) (string, []Warning) {
	var warnings []Warning

	resolved := tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		token := tokenPattern.FindStringSubmatch(match)[1]

		value, ok := vars.Lookup(token)
		if !ok {
			warnings = append(warnings, Warning{Token: token})

			return ""
		}

		return Stringify(value)
	})

	return resolved, warnings
}

// ResolveConfig recursively walks a node config structure and resolves every
// string leaf, so placeholders work inside nested headers, bodies and
// parameter maps, not just flat strings.
func ResolveConfig(config map[string]any, vars *models.VariableContext) (map[string]any, []Warning) {
	var warnings []Warning

	resolved, childWarnings := resolveValue(config, vars)
	warnings = append(warnings, childWarnings...)

	result, _ := resolved.(map[string]any)

	return result, warnings
}

func resolveValue(value any, vars *models.VariableContext) (any, []Warning) {
	switch v := value.(type) {
	case string:
		return Resolve(v, vars)
	case map[string]any:
		resolved := make(map[string]any, len(v))

		var warnings []Warning

		for key, child := range v {
			childResolved, childWarnings := resolveValue(child, vars)
			resolved[key] = childResolved
			warnings = append(warnings, childWarnings...)
		}

		return resolved, warnings
	case []any:
		resolved := make([]any, len(v))

		var warnings []Warning

		for i, child := range v {
			childResolved, childWarnings := resolveValue(child, vars)
			resolved[i] = childResolved
			warnings = append(warnings, childWarnings...)
		}

		return resolved, warnings
	default:
		return value, nil
	}
}

// Resolve on a map[string]string convenience form used for headers.
func ResolveStringMap(values map[string]string, vars *models.VariableContext) (map[string]string, []Warning) {
	resolved := make(map[string]string, len(values))

	var warnings []Warning

	for key, value := range values {
		r, w := Resolve(value, vars)
		resolved[key] = r
		warnings = append(warnings, w...)
	}

	return resolved, warnings
}

// Stringify coerces a context value to its string form for substitution.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(encoded)
	}
}
