package util

import (
	"strings"
	"unicode"
)

// SanitizeIdentifier trims and strips control characters from externally
// supplied device/user/session identifiers before they reach storage keys.
func SanitizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// IsDecimalDigits reports whether s is non-empty and all ASCII digits.
func IsDecimalDigits(s string) bool {
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

func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	for _, c := range badChars {
		if strings.Contains(strings.ToLower(s), c) {
			return true
		}
	}
	return false
}
