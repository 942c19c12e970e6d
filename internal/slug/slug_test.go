package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Shape Tape Concealer", "shape-tape-concealer"},
		{"L'Oréal", "loreal"},
		{"  Too   Faced  ", "too-faced"},
		{"Rare Beauty by Selena Gomez", "rare-beauty-by-selena-gomez"},
		{"Bare & Natural", "bare-and-natural"},
		{"SPF 50+ Sunscreen", "spf-50-sunscreen"},
		{"Kiehl’s", "kiehls"},
		{"!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Make(tt.in))
		})
	}
}

func TestProduct(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tarte-shape-tape-concealer", Product("Tarte", "Shape Tape Concealer"))
	assert.Equal(t, "loreal-infallible-full-wear", Product("L'Oréal", "Infallible Full Wear"))
	assert.Equal(t, "tarte-shape-tape", Product("Tarte", "Tarte Shape Tape"))
	assert.Equal(t, "shape-tape", Product("", "Shape Tape"))
	assert.Equal(t, "tarte", Product("Tarte", ""))
}

func TestProduct_Deterministic(t *testing.T) {
	t.Parallel()

	first := Product("Charlotte Tilbury", "Pillow Talk Lipstick")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Product("Charlotte Tilbury", "Pillow Talk Lipstick"))
	}
}
