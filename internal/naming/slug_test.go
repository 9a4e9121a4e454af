package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "plain words", input: "Fowler Kia Windsor", want: "Fowler_Kia_Windsor"},
		{name: "separators become breaks", input: "Phase 2 - Site/Civil (Rev.3)", want: "Phase_2_Site_Civil_Rev_3"},
		{name: "accents folded", input: "Café Résumé Ñandú", want: "Cafe_Resume_Nandu"},
		{name: "symbols dropped", input: "Tom's #1 @ Main St.", want: "Toms_1_Main_St"},
		{name: "collapses whitespace", input: "  Big\t\tBox   Store  ", want: "Big_Box_Store"},
		{name: "empty falls back", input: "", want: Fallback},
		{name: "only symbols falls back", input: "@@##!!", want: Fallback},
		{name: "non latin falls back", input: "東京タワー", want: Fallback},
		{name: "truncates without trailing underscore", input: "abcd efgh", maxLen: 5, want: "abcd"},
		{name: "path traversal neutralized", input: "../../etc/passwd", want: "etc_passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Slug(tt.input, tt.maxLen))
		})
	}
}

func TestSlugDefaultLength(t *testing.T) {
	t.Parallel()

	got := Slug(strings.Repeat("a", 200), 0)
	assert.Len(t, got, DefaultMaxLength)
}

func TestFolderName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3-Fowler_Kia_Windsor", FolderName(3, "Fowler Kia Windsor", 0))
	assert.Equal(t, "12-project", FolderName(12, "", 0))
}
