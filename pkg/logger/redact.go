package logger

import "strings"

const redactedValue = "[REDACTED]"

var sensitiveKeyFragments = []string{
	"private_key",
	"privatekey",
	"encrypted_key",
	"encryptedkey",
	"encryption_key",
	"secret",
	"password",
	"authorization",
	"mnemonic",
}

// Redact returns a copy of fields with sensitive values masked.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
