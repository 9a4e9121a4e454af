// Package naming turns free-form project names into filesystem-safe folder
// name fragments.
package naming

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxLength bounds the slug portion of a folder name.
	DefaultMaxLength = 60
	// Fallback is used when nothing usable survives sanitization.
	Fallback = "project"
)

// separators are turned into word breaks before anything else is dropped.
const separators = `-_,:/\()[]{}.;|&+<>*?`

// Slug sanitizes name into ASCII letters, digits and underscores, at most
// maxLen characters long. A non-positive maxLen selects DefaultMaxLength.
func Slug(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r) || strings.ContainsRune(separators, r):
			b.WriteByte(' ')
		}
	}

	slug := strings.Join(strings.Fields(b.String()), "_")
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "_")
	}
	if slug == "" {
		return Fallback
	}
	return slug
}

// FolderName joins a sequence number and a project name into the
// "{sequence}-{slug}" folder convention.
func FolderName(sequence int, name string, maxLen int) string {
	return fmt.Sprintf("%d-%s", sequence, Slug(name, maxLen))
}
