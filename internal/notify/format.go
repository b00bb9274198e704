package notify

import "strings"

// FormatMode turns a raw mode identifier into a display name, e.g.
// "deep-research" into "Deep Research". Empty input means "Agent".
func FormatMode(raw string) string {
	if raw == "" {
		return "Agent"
	}
	var parts []string
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	}) {
		parts = append(parts, capitalize(tok))
	}
	return strings.Join(parts, " ")
}

// FormatModelID turns a model identifier into a display name. Adjacent
// all-digit tokens are merged as a version, so "claude-3-5-sonnet"
// becomes "Claude 3.5 Sonnet". Empty input means "Assistant".
func FormatModelID(raw string) string {
	if raw == "" {
		return "Assistant"
	}

	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '-' || r == '_'
	})

	var parts []string
	for i := 0; i < len(tokens); i++ {
		if allDigits(tokens[i]) && i+1 < len(tokens) && allDigits(tokens[i+1]) {
			parts = append(parts, tokens[i]+"."+tokens[i+1])
			i++
			continue
		}
		parts = append(parts, tokens[i])
	}

	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
