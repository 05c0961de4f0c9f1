// Package validate holds the pure predicates used on request input. Every
// function accepts arbitrary decoded JSON and never panics.
package validate

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)^(https?://)?` + // scheme
	`((([a-z\d]([a-z\d-]*[a-z\d])*)\.)+[a-z]{2,}|` + // domain name
	`((\d{1,3}\.){3}\d{1,3}))` + // or IPv4 address
	`(:\d+)?(/[-a-z\d%_.~+]*)*` + // port and path
	`(\?[;&a-z\d%_.~+=-]*)?` + // query
	`(#[-a-z\d_]*)?$`) // fragment

var shortIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// IsValidURL reports whether v is a string shaped like an HTTP(S) URL, with
// or without the scheme.
func IsValidURL(v any) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}
	return urlPattern.MatchString(s)
}

// IsString reports whether v is a string, empty or not.
func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}

// IsNonEmptyString reports whether v is a string with non-space content.
func IsNonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

// IsValidShortID reports whether every character of v is URL safe.
// The empty string passes; callers treat a blank shortID as absent.
func IsValidShortID(v any) bool {
	s, ok := v.(string)
	return ok && shortIDPattern.MatchString(s)
}

// HasScheme reports whether s already starts with http:// or https://.
func HasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// NormalizeDestination prepends http:// when s carries no scheme.
func NormalizeDestination(s string) string {
	if HasScheme(s) {
		return s
	}
	return "http://" + s
}
