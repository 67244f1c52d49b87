package types

import (
	"strings"
	"unicode"
)

// Slugify converts a human-readable name into a lowercase identifier slug.
// Runs of non-alphanumeric characters collapse into a single hyphen and
// leading/trailing hyphens are trimmed, so two names that differ only in
// case, spacing, or punctuation map to the same slug.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}

// IsValidSlug reports whether id is a well-formed slug: non-empty, lowercase
// ASCII alphanumerics and single hyphens, no leading/trailing hyphen.
func IsValidSlug(id string) bool {
	if id == "" {
		return false
	}
	prevHyphen := true // disallow a leading hyphen
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			prevHyphen = false
		case r == '-':
			if prevHyphen {
				return false
			}
			prevHyphen = true
		default:
			return false
		}
	}
	return !prevHyphen
}

// ValidateSlug returns a VALIDATION_FAILED error when id is not a legal slug.
func ValidateSlug(id string) error {
	if !IsValidSlug(id) {
		return NewError(VALIDATION_FAILED, "invalid identifier slug: "+id)
	}
	return nil
}
