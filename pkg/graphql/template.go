package graphql

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// argsPattern matches {{args.fieldName}} patterns.
	argsPattern = regexp.MustCompile(`\{\{\s*args\.([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	// varsPattern matches {{vars.fieldName}} patterns.
	varsPattern = regexp.MustCompile(`\{\{\s*vars\.([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	// builtinPattern matches {{uuid}}, {{now}} and {{timestamp}}.
	builtinPattern = regexp.MustCompile(`\{\{\s*(uuid|now|timestamp)\s*\}\}`)
)

// applyVariables substitutes {{args.x}} / {{vars.x}} references and the
// built-in {{uuid}}, {{now}} and {{timestamp}} values in data. Maps and slices
// are copied, other values are returned as-is.
func applyVariables(data interface{}, args map[string]interface{}) interface{} {
	switch v := data.(type) {
	case nil:
		return nil

	case string:
		return substitute(v, args)

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[key] = applyVariables(val, args)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = applyVariables(val, args)
		}
		return result

	default:
		return data
	}
}

func substitute(s string, args map[string]interface{}) string {
	lookup := func(pattern *regexp.Regexp) func(string) string {
		return func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			if len(parts) < 2 {
				return match
			}
			if val, ok := args[parts[1]]; ok {
				return fmt.Sprintf("%v", val)
			}
			return match
		}
	}

	s = argsPattern.ReplaceAllStringFunc(s, lookup(argsPattern))
	s = varsPattern.ReplaceAllStringFunc(s, lookup(varsPattern))
	return builtinPattern.ReplaceAllStringFunc(s, func(match string) string {
		switch builtinPattern.FindStringSubmatch(match)[1] {
		case "uuid":
			return uuid.NewString()
		case "now":
			return time.Now().UTC().Format(time.RFC3339)
		case "timestamp":
			return strconv.FormatInt(time.Now().Unix(), 10)
		}
		return match
	})
}
