package config

import (
	"strings"
	"text/template"
	"unicode/utf8"
)

// TemplateFuncs returns the functions available to renderer templates.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"truncate": func(s string, maxLen int) string {
			if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
				return s
			}
			r := []rune(s)
			if maxLen <= 3 {
				return string(r[:maxLen])
			}
			return string(r[:maxLen-3]) + "..."
		},
		"oneline": func(s string) string {
			return strings.Join(strings.Fields(s), " ")
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}

// ParseTemplate parses a renderer template with TemplateFuncs available.
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(TemplateFuncs()).Option("missingkey=error").Parse(text)
}
