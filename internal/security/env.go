package security

import "strings"

// sensitiveEnvMarkers flag environment variable names whose values
// must never be returned to a caller (CWE-200).
var sensitiveEnvMarkers = []string{
	"KEY", "SECRET", "TOKEN", "PASSWORD", "PASSWD",
	"CREDENTIAL", "AUTH", "PRIVATE", "CERT", "DSN",
}

// IsSensitiveEnv reports whether an environment variable name looks
// like it holds a secret. Matching is by substring on the upper-cased
// name, so GEMINI_API_KEY, DbPassword, and npm_auth_token all match.
func IsSensitiveEnv(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range sensitiveEnvMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
