package runes

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/runes-oracle/internal/config"
)

func TestCatalogLoads(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24, c.Len())

	keys := make(map[string]bool)
	symmetric := 0
	for _, r := range c.runes {
		assert.NotEmpty(t, r.Name)
		assert.False(t, keys[r.Key], "duplicate rune %s", r.Key)
		keys[r.Key] = true
		if !r.Reversible {
			symmetric++
		}
	}
	assert.Equal(t, 8, symmetric)
}

func TestDrawIsDistinct(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		drawn, err := c.Draw(5)
		require.NoError(t, err)
		require.Len(t, drawn, 5)

		seen := make(map[string]bool)
		for _, d := range drawn {
			assert.False(t, seen[d.Key])
			seen[d.Key] = true
			if !d.Reversible {
				assert.False(t, d.Reversed, "%s cannot be reversed", d.Key)
			}
		}
	}
}

func TestDrawBounds(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	_, err = c.Draw(0)
	assert.Error(t, err)
	_, err = c.Draw(25)
	assert.Error(t, err)

	all, err := c.Draw(24)
	require.NoError(t, err)
	assert.Len(t, all, 24)
}

func TestCastAssignsPositions(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	sizes := map[string]int{
		config.KindOneRune:    1,
		config.KindThreeRunes: 3,
		config.KindFourRunes:  4,
		config.KindFate:       3,
		config.KindField:      5,
	}
	for kind, n := range sizes {
		spread, drawn, err := c.Cast(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, spread.Kind)
		require.Len(t, drawn, n)
		for i, d := range drawn {
			assert.Equal(t, spread.Positions[i], d.Position)
		}
	}

	_, _, err = c.Cast("twelve_runes")
	assert.Error(t, err)
}

func TestDrawnTitle(t *testing.T) {
	d := Drawn{Rune: Rune{Key: "fehu", Name: "Феху", Reversible: true}}
	assert.Equal(t, "Феху", d.Title())

	d.Reversed = true
	assert.Equal(t, "Феху (перевёрнутая)", d.Title())
}

func TestDrawIsSeedable(t *testing.T) {
	a, err := Load()
	require.NoError(t, err)
	b, err := Load()
	require.NoError(t, err)
	a.rng = rand.New(rand.NewPCG(1, 2))
	b.rng = rand.New(rand.NewPCG(1, 2))

	da, err := a.Draw(3)
	require.NoError(t, err)
	db, err := b.Draw(3)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}
