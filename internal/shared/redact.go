package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches secret-bearing text that could leak the shared
// session secret or telephony credentials into logs or audit events.
var secretPatterns = []*regexp.Regexp{
	// Key/token assignments: apiKey=..., secret: "...", auth_token=...
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|shared[_-]?secret|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{12,})"?`),
	// Bearer tokens in Authorization headers.
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{12,})`),
	// UUID-shaped tokens after auth-related prefixes.
	regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
}

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
// Applied to every string that reaches the audit sink or log output.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactMap returns a copy of m with secret-looking keys and values redacted.
func RedactMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = RedactValue(k, v)
	}
	return out
}

// RedactValue redacts the value when the key name looks secret-bearing,
// otherwise applies pattern-based redaction to the value itself.
func RedactValue(key, value string) string {
	keyLower := strings.ToLower(key)
	for _, sensitive := range []string{"api_key", "apikey", "secret", "token", "password", "credential"} {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return Redact(value)
}
