package expressions

import (
	"regexp"
	"strings"
)

// templatePattern matches {{ expression }} patterns
var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Template substitutes {{ expression }} placeholders. It never fails: an expression
// that does not compile or resolves to nothing renders as "".
type Template struct {
	evaluator *Evaluator
}

// NewTemplate creates a new template processor
func NewTemplate(evaluator *Evaluator) *Template {
	return &Template{
		evaluator: evaluator,
	}
}

// Render replaces every placeholder in text with its value from data.
func (t *Template) Render(text string, data map[string]any) string {
	if !HasTemplates(text) {
		return text
	}

	return templatePattern.ReplaceAllStringFunc(text, func(match string) string {
		submatch := templatePattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return ""
		}
		return t.lookup(strings.TrimSpace(submatch[1]), data)
	})
}

func (t *Template) lookup(expression string, data map[string]any) string {
	// keys that are not valid JMESPath identifiers (leading digits, dashes) are plain lookups
	if value, ok := data[expression]; ok {
		return Stringify(value)
	}

	value, err := t.evaluator.EvaluateString(expression, data)
	if err != nil {
		return ""
	}
	return value
}

// HasTemplates checks if a string contains template expressions
func HasTemplates(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractExpressions extracts all expressions from a template string
func ExtractExpressions(template string) []string {
	matches := templatePattern.FindAllStringSubmatch(template, -1)
	expressions := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) >= 2 {
			expressions = append(expressions, strings.TrimSpace(match[1]))
		}
	}

	return expressions
}
