package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	m, err := c.Mimo("m4")
	require.NoError(t, err)
	assert.Equal(t, "Super Mimo", m.Name)
	assert.Equal(t, int64(500), m.Price)

	_, err = c.Mimo("m9")
	assert.ErrorIs(t, err, ErrUnknownMimo)

	assert.NoError(t, c.CheckCrisexAmount(200))
	assert.ErrorIs(t, c.CheckCrisexAmount(201), ErrInvalidAmount)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
mimos:
  - id: rose
    name: Rosa
    icon: "🌹"
    price: 25
crisex_amounts: [10, 20]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Mimos, 1)
	assert.Equal(t, int64(25), c.Mimos[0].Price)
	assert.Equal(t, "💰", c.CrisexGiftIcon)
	assert.NoError(t, c.CheckCrisexAmount(20))
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no mimos":       "crisex_amounts: [10]",
		"zero price":     "mimos: [{id: a, name: A, price: 0}]",
		"duplicate":      "mimos: [{id: a, name: A, price: 1}, {id: a, name: B, price: 2}]",
		"negative crisex": "mimos: [{id: a, name: A, price: 1}]\ncrisex_amounts: [-5]",
		"not yaml":       "mimos: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.Mimos, 5)
}
