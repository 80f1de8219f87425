package log

import (
	"strings"
)

// sensitiveKeywords covers DMS credentials as well as generic secrets.
var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "secret", "authorization",
	"credential", "private_key",
	"dealer_code", "dealercode",
	"ssn", "encryption_key",
}

// SanitizeField checks if the key contains sensitive keywords and masks the value
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "email") {
		return sanitizeEmail(value)
	}

	if strings.Contains(lowerKey, "phone") {
		return sanitizePhone(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken shows only the first and last 4 characters of long secrets
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeEmail keeps the first 3 characters of the local part and the domain
func sanitizeEmail(value string) string {
	local, domain, ok := strings.Cut(value, "@")
	if !ok || strings.Contains(domain, "@") {
		return strings.Repeat("*", len(value))
	}

	if len(local) <= 3 {
		if len(local) == 0 {
			return "@" + domain
		}
		return string(local[0]) + strings.Repeat("*", len(local)-1) + "@" + domain
	}

	return local[:3] + "***@" + domain
}

// sanitizePhone keeps the last 4 digits
func sanitizePhone(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
