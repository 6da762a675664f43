// Package interpolate renders {{key}} placeholders from a workflow instance context.
package interpolate

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render replaces every {{key}} token in template with the value of key in context.
// Tokens whose key is absent (or nil) are left untouched.
func Render(template string, context map[string]any) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}

	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		key := placeholder.FindStringSubmatch(token)[1]

		value, ok := context[key]
		if !ok || value == nil {
			return token
		}

		return Stringify(value)
	})
}

// Stringify formats a context value the way it appears to template authors:
// integral numbers without a fraction, sequences joined by commas, objects as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case json.Number:
		return v.String()
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = Stringify(item)
		}

		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
