package param

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// RenderTemplate substitutes every `{name}` placeholder in tmpl with
// values[name], by literal string replacement. Every placeholder found in
// tmpl must have a matching entry in values; an unresolved placeholder is an
// error (§6 "Format template").
func RenderTemplate(tmpl string, values map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return v
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("param: unresolved template placeholder(s) %s in %q", strings.Join(missing, ", "), tmpl)
	}

	return out, nil
}
