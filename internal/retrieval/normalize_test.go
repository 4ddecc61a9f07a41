package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold_Umlauts(t *testing.T) {
	assert.Equal(t, "okostrom", Fold("ökostrom"))
	assert.Equal(t, "stuck", Fold("stück"))
	assert.Equal(t, "cafe", Fold("café"))
}

func TestFold_Ligatures(t *testing.T) {
	assert.Equal(t, "strasse", Fold("straße"))
	assert.Equal(t, "oeuvre", Fold("œuvre"))
	assert.Equal(t, "o", Fold("ø"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "grunstrom aus wasserkraft", Normalize("  Grünstrom   aus\tWasserkraft "))
	assert.Equal(t, "", Normalize("   "))
}

func TestTokenize_PunctuationAsWhitespace(t *testing.T) {
	assert.Equal(t, []string{"diesel", "b7", "fuel"}, Tokenize("Diesel (B7), fuel!"))
	assert.Empty(t, Tokenize("..."))
}
