package utils

import "strings"

// DomainSuffixes returns the proper suffixes of a canonical DNS name,
// ordered most-specific first, each retaining the trailing dot.
//
// For "a.b.c." it returns ["a.b.c.", "b.c.", "c."]. The empty suffix
// (the root) is never returned — callers fall back to root servers
// themselves when no suffix yields a delegation.
func DomainSuffixes(name string) []string {
	name = CanonicalDNSName(name)
	if name == "" || name == "." {
		return nil
	}

	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	suffixes := make([]string, 0, len(labels))
	for i := range labels {
		suffixes = append(suffixes, strings.Join(labels[i:], ".")+".")
	}
	return suffixes
}
