// Package hostmatch matches request hosts against configured host patterns.
//
// A pattern is either a literal host name or a single-level wildcard of the
// form "*.example.com". The wildcard matches every host ending in
// ".example.com" but not "example.com" itself.
package hostmatch

import "strings"

// Matches reports whether host matches the pattern. Both are compared lowercased.
func Matches(host, pattern string) bool {
	if host == "" || pattern == "" {
		return false
	}
	host, pattern = strings.ToLower(host), strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) && host != pattern[2:]
	}
	return host == pattern
}

// MatchesAny reports whether host matches at least one of the patterns.
func MatchesAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(host, p) {
			return true
		}
	}
	return false
}

// StripPort removes a trailing ":port" from a Host header value.
func StripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		// [::1]:8080
		if i := strings.LastIndex(host, "]"); i != -1 {
			return host[:i+1]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i != -1 && strings.Count(host, ":") == 1 {
		return host[:i]
	}
	return host
}
