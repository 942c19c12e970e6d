package dupes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dupe-finder/internal/model"
)

func TestSavings(t *testing.T) {
	tests := []struct {
		name     string
		original *float64
		dupe     *float64
		want     *float64
	}{
		{"half price", f64(32), f64(16), f64(50)},
		{"rounds half up", f64(32), f64(12), f64(63)},
		{"rounds down", f64(30), f64(11), f64(63)},
		{"more expensive", f64(10), f64(15), f64(-50)},
		{"free dupe", f64(20), f64(0), f64(100)},
		{"missing original", nil, f64(10), nil},
		{"missing dupe", f64(10), nil, nil},
		{"zero original", f64(0), f64(10), nil},
		{"negative dupe", f64(10), f64(-1), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Savings(tt.original, tt.dupe)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.0001)
		})
	}
}

func TestUpdateFromAnalysis(t *testing.T) {
	assert.True(t, updateFromAnalysis(nil).Empty())

	yes := true
	u := updateFromAnalysis(&model.ProductAnalysis{
		Category:    "concealers",
		Texture:     "  ",
		Finish:      "matte",
		Price:       f64(9.99),
		CrueltyFree: &yes,
		SkinTypes:   []string{"oily"},
	})
	require.NotNil(t, u.Category)
	assert.Equal(t, model.CategoryConcealer, *u.Category)
	assert.Nil(t, u.Texture)
	require.NotNil(t, u.Finish)
	assert.Equal(t, "matte", *u.Finish)
	assert.Equal(t, []string{"oily"}, u.SkinTypes)
	assert.Nil(t, u.FreeOf)
}

func TestSameBrand(t *testing.T) {
	assert.True(t, sameBrand("", "Tarte"))
	assert.True(t, sameBrand("TARTE Cosmetics", "Tarte"))
	assert.False(t, sameBrand("Maybelline", "Tarte"))
}
