package competitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"WWW.Example.FR":      "example.fr",
		"shop.example.fr":     "example.fr",
		"store.example.fr":    "example.fr",
		"m.example.fr":        "example.fr",
		"mobile.example.fr":   "example.fr",
		"www.shop.example.fr": "shop.example.fr",
		"  example.fr ":       "example.fr",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestIsMarketplace_ExactMatchOnly(t *testing.T) {
	assert.True(t, IsMarketplace("amazon.fr"))
	assert.True(t, IsMarketplace("www.amazon.fr"))
	assert.True(t, IsMarketplace("leroy-merlin.fr"))
	assert.False(t, IsMarketplace("amazon.fr.evil.com"))
	assert.False(t, IsMarketplace("notamazon.fr"))
	assert.False(t, IsMarketplace("example.fr"))
}

func TestAuthorityScore(t *testing.T) {
	// 10*2 + (30-5) + 0.5*20 + 0
	assert.InDelta(t, 55.0, AuthorityScore(10, 5, 0.5, false), 1e-9)
	// every component capped: 50 + 29 + 20 + 10 -> 100
	assert.InDelta(t, 100.0, AuthorityScore(40, 1, 1, true), 1e-9)
	// position beyond 30 contributes nothing
	assert.InDelta(t, 2.0, AuthorityScore(1, 100, 0, false), 1e-9)
}

func TestAuthorityScore_Monotonic(t *testing.T) {
	for _, marketplace := range []bool{false, true} {
		prev := -1.0
		for appearances := 0; appearances <= 40; appearances++ {
			score := AuthorityScore(appearances, 8, 0.4, marketplace)
			assert.GreaterOrEqual(t, score, prev)
			prev = score
		}

		prev = 101.0
		for pos := 1.0; pos <= 60; pos += 0.5 {
			score := AuthorityScore(5, pos, 0.4, marketplace)
			assert.LessOrEqual(t, score, prev)
			prev = score
		}
	}
}

func TestSuggestName(t *testing.T) {
	assert.Equal(t, "Rival", SuggestName("rival.fr", []string{"Rival"}))
	assert.Equal(t, "Fnac", SuggestName("fnac.com", []string{"Fnac Marketplace", "Fnac"}))
	assert.Equal(t, "Abc", SuggestName("x.fr", []string{"Xyz", "Abc"}))
	assert.Equal(t, "Maisonchic", SuggestName("maisonchic.fr", nil))
	assert.Equal(t, "Localhost", SuggestName("localhost", []string{""}))
	// counted in characters: "Électro" has 7 but takes 8 bytes
	assert.Equal(t, "Électro", SuggestName("electro.fr", []string{"Electros", "Électro"}))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("example.fr", "example.fr"))
	assert.True(t, Matches("www.example.fr", "example.fr"))
	assert.True(t, Matches("boutique.example.fr", "www.example.fr"))
	assert.False(t, Matches("notexample.fr", "example.fr"))
	assert.False(t, Matches("example.fr", ""))
}
