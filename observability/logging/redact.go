package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked wherever they appear as log attribute keys.
var sensitiveKeys = map[string]struct{}{
	"signature":     {},
	"passphrase":    {},
	"password":      {},
	"privatekey":    {},
	"private_key":   {},
	"secret":        {},
	"jwt":           {},
	"authorization": {},
	"token_secret":  {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// SensitiveKeys returns a sorted copy of the masked log keys.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Redact masks the value of a sensitive attribute and leaves others alone.
func Redact(attr slog.Attr) slog.Attr {
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
