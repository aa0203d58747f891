package cache

import "strings"

// lowerName normalizes a DNS name for case-insensitive keying, per the
// invariant that Example.COM. and example.com. resolve to the same row.
func lowerName(name string) string {
	return strings.ToLower(name)
}
