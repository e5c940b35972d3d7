package audit

import "strings"

// Redacted replaces the value of any sensitive field before persistence.
const Redacted = "[REDACTED]"

// sensitiveFragments match field names case-insensitively by substring, so
// variants like "api_key", "apiKey", and "refresh_token" are all caught.
var sensitiveFragments = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"ssn",
	"credit_card",
	"creditcard",
	"cvv",
	"private_key",
	"privatekey",
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of data with every sensitive field's value replaced
// by the redaction marker. Nested maps and lists are walked recursively; the
// input is never mutated. Sanitize is idempotent.
func Sanitize(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		if isSensitive(key) {
			out[key] = Redacted
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Sanitize(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
