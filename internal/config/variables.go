package config

import (
	"strings"

	"github.com/wesleyorama2/surge/internal/request"
)

// ProcessVariables replaces {{name}} placeholders in input. Unknown
// placeholders are left as-is.
func ProcessVariables(input string, vars map[string]string) string {
	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// ProcessVariablesInMap applies ProcessVariables to every value of input.
func ProcessVariablesInMap(input map[string]string, vars map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	result := make(map[string]string, len(input))
	for key, value := range input {
		result[key] = ProcessVariables(value, vars)
	}
	return result
}

// MergeVariables merges variable maps in order, later maps taking
// precedence.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for key, value := range m {
			result[key] = value
		}
	}
	return result
}

// ResolvedRequest returns the request with variables substituted into
// its URL, headers and body.
func (c *RunConfig) ResolvedRequest() request.Template {
	tpl := c.Request
	if len(c.Variables) == 0 {
		return tpl
	}
	tpl.URL = ProcessVariables(tpl.URL, c.Variables)
	tpl.Headers = ProcessVariablesInMap(tpl.Headers, c.Variables)
	tpl.Body = ProcessVariables(tpl.Body, c.Variables)
	return tpl
}
