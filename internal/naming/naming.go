// Package naming maps organization display names to storage-safe partition keys.
package naming

import (
	"regexp"
	"strings"
)

const (
	// Prefix namespaces every tenant partition so the registry collections and
	// tenant data can share one database without clashing.
	Prefix = "org_"

	// Fallback replaces a name with no alphanumeric characters at all.
	// Distinct symbol-only names therefore collide; the uniqueness check on
	// storage_key turns that into a conflict instead of a shared partition.
	Fallback = "org_default"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize derives the storage key for a display name. Every key carries
// Prefix, so a name that itself starts with "org" still gets its own key:
// "Org Acme" is org_org_acme, never org_acme.
func Normalize(display string) string {
	s := strings.ToLower(strings.TrimSpace(display))
	s = nonAlnum.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return Prefix + Fallback
	}
	return Prefix + s
}

// IsStorageKey reports whether key has the shape Normalize produces.
func IsStorageKey(key string) bool {
	rest, ok := strings.CutPrefix(key, Prefix)
	return ok && Normalize(rest) == key
}
