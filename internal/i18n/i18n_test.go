package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestLocaleTag(t *testing.T) {
	tests := []struct {
		lcAll, lang string
		expected    language.Tag
	}{
		{"", "", language.English},
		{"", "C", language.English},
		{"", "de_DE.UTF-8", language.German},
		{"en_GB.UTF-8", "de_DE.UTF-8", language.English},
		{"", "fr_FR", language.English},
	}
	for _, tt := range tests {
		base, _ := localeTag(tt.lcAll, tt.lang).Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "LC_ALL=%q LANG=%q", tt.lcAll, tt.lang)
	}
}
