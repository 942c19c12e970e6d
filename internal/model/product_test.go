package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Category
	}{
		{"Concealer", CategoryConcealer},
		{"concealer", CategoryConcealer},
		{"  Lip Gloss ", CategoryLipGloss},
		{"Serums", CategorySerum},
		{"setting spray", CategorySettingSpray},
		{"Perfume", CategoryOther},
		{"", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseCategory(tt.in))
		})
	}
}

func TestParseResourceType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ResourceTikTok, ParseResourceType("TikTok", ""))
	assert.Equal(t, ResourceYouTube, ParseResourceType("video review", "https://www.youtube.com/watch?v=abc"))
	assert.Equal(t, ResourceYouTube, ParseResourceType("", "https://youtu.be/abc"))
	assert.Equal(t, ResourceReddit, ParseResourceType("", "https://www.Reddit.com/r/MakeupAddiction/x"))
	assert.Equal(t, ResourceInstagram, ParseResourceType("post", "https://instagram.com/p/1"))
	assert.Equal(t, ResourceArticle, ParseResourceType("blog", "https://allure.com/dupes"))
}

func TestLoadingFlagValid(t *testing.T) {
	t.Parallel()

	assert.True(t, LoadingIngredients.Valid())
	assert.True(t, LoadingReviews.Valid())
	assert.True(t, LoadingResources.Valid())
	assert.False(t, LoadingFlag("name").Valid())
}

func TestCoarseIdentification_Validate(t *testing.T) {
	t.Parallel()

	c := &CoarseIdentification{
		OriginalName:  " Shape Tape Concealer ",
		OriginalBrand: "Tarte",
		Dupes: []CandidateDupe{
			{Name: "Infallible Full Wear", Brand: "L'Oréal", MatchScore: 95},
			{Name: "", Brand: "Nameless"},
			{Name: "Shape Tape Concealer", Brand: "tarte"},
			{Name: "Fit Me", Brand: "Maybelline", MatchScore: 140},
			{Name: "A", Brand: "B"},
			{Name: "C", Brand: "D"},
			{Name: "E", Brand: "F"},
			{Name: "G", Brand: "H"},
		},
	}

	require.NoError(t, c.Validate())
	assert.Equal(t, "Shape Tape Concealer", c.OriginalName)
	require.Len(t, c.Dupes, MaxCandidateDupes)
	assert.Equal(t, "Infallible Full Wear", c.Dupes[0].Name)
	assert.Equal(t, float64(100), c.Dupes[1].MatchScore)
}

func TestCoarseIdentification_ValidateMissingBrand(t *testing.T) {
	t.Parallel()

	c := &CoarseIdentification{OriginalName: "Shape Tape"}
	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, KindIdentification, KindOf(err))
}

func TestDetailedAnalysis_Validate(t *testing.T) {
	t.Parallel()

	neg := -3.0
	d := &DetailedAnalysis{
		Original: ProductAnalysis{Name: "Shape Tape", Brand: "Tarte"},
		Dupes:    []DupeAnalysis{{ProductAnalysis: ProductAnalysis{ID: " abc "}, MatchScore: &neg}},
	}
	require.NoError(t, d.Validate())
	assert.Equal(t, "abc", d.Dupes[0].ID)
	assert.Equal(t, 0.0, *d.Dupes[0].MatchScore)

	empty := &DetailedAnalysis{}
	assert.Equal(t, KindEnrichment, KindOf(empty.Validate()))
}

func TestJobRequest(t *testing.T) {
	t.Parallel()

	r := &JobRequest{
		OriginalProductID: " orig ",
		DupeProductIDs:    []string{"d1", " ", "d2"},
		DupeInfo: []DupeInfo{
			{ID: "d1", Name: "One", MatchScore: 80},
			{ID: "d2", Name: "Two", MatchScore: 92},
		},
	}
	require.NoError(t, r.Validate())
	assert.Equal(t, "orig", r.OriginalProductID)
	assert.Equal(t, []string{"d1", "d2"}, r.DupeProductIDs)

	top, ok := r.TopDupe()
	require.True(t, ok)
	assert.Equal(t, "d2", top.ID)
	assert.Equal(t, "One", r.Dupe("d1").Name)
	assert.Equal(t, DupeInfo{ID: "zz"}, r.Dupe("zz"))

	bad := &JobRequest{}
	assert.Equal(t, KindValidation, KindOf(bad.Validate()))
}

func TestKindOf_Wrapped(t *testing.T) {
	t.Parallel()

	err := eris.Wrap(PersistenceError("insert product", errors.New("boom")), "dupes: persist")
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
