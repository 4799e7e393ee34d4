package config

import (
	"os"
	"regexp"
)

// matches ${NAME} and ${NAME:-fallback}
var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// substituteEnvVars expands ${NAME} references. Unset variables keep the
// reference unless a fallback is given.
func substituteEnvVars(content []byte) []byte {
	return envVarRegex.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := envVarRegex.FindSubmatchIndex(match)
		name := string(match[groups[2]:groups[3]])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[4] >= 0 {
			return match[groups[4]:groups[5]]
		}
		return match
	})
}
