package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_BulkKeywords(t *testing.T) {
	volume := -1
	in := BulkKeywordsInput{Keywords: []KeywordInput{
		{Keyword: "volet roulant"},
		{Keyword: "", SearchVolume: &volume},
	}}

	err := Validate(in)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "BulkKeywordsInput.Keywords[1].Keyword")
	assert.Contains(t, verr.Fields, "BulkKeywordsInput.Keywords[1].SearchVolume")
	assert.NotContains(t, verr.Fields, "BulkKeywordsInput.Keywords[0].Keyword")
}

func TestValidate_EmptyBulkRejected(t *testing.T) {
	err := Validate(BulkKeywordsInput{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestKeywordInput_Normalize(t *testing.T) {
	k := KeywordInput{Keyword: "  store banne  "}
	k.Normalize()
	assert.Equal(t, "store banne", k.Keyword)
	assert.Equal(t, DefaultLocation, k.Location)
	assert.Equal(t, DefaultLanguage, k.Language)
}

func TestValidate_ProjectInput(t *testing.T) {
	require.NoError(t, Validate(ProjectInput{Name: "Somfy", ReferenceSite: "example.fr"}))
	require.Error(t, Validate(ProjectInput{}))
	require.Error(t, Validate(ProjectInput{Name: "x", ReferenceSite: "not a host"}))
}

func TestCompetitor_DisplayName(t *testing.T) {
	assert.Equal(t, "Brand", Competitor{Name: "n", BrandName: "Brand"}.DisplayName())
	assert.Equal(t, "n", Competitor{Name: "n"}.DisplayName())
}
