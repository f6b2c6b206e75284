package config

import (
	"os"
	"strings"
)

// ParseEnvFile reads KEY=VALUE lines. Blank lines, comments and lines
// without '=' are ignored; an "export " prefix and matching quotes are
// stripped.
func ParseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		eqIdx := strings.IndexByte(s, '=')
		if eqIdx < 0 {
			continue
		}
		key := strings.TrimSpace(s[:eqIdx])
		vars[key] = stripQuotes(strings.TrimSpace(s[eqIdx+1:]))
	}
	return vars, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
