package domains

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	r, err := Load("/nonexistent/path/that/does/not/exist.yml")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, r.All(), 9)
	assert.Equal(t, "dog", r.FallbackGuess("animal"))
}

func TestLoadEmptyPath(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().All(), r.All())
}

func TestBuiltinFallbacks(t *testing.T) {
	r := Default()

	tests := map[string]string{
		"animal":     "dog",
		"food":       "pizza",
		"movie":      "Avatar",
		"book":       "Harry Potter",
		"sport":      "soccer",
		"country":    "France",
		"car":        "Toyota",
		"technology": "smartphone",
		"game":       "chess",
		"instrument": "popular instrument",
	}
	for domain, want := range tests {
		t.Run(domain, func(t *testing.T) {
			assert.Equal(t, want, r.FallbackGuess(domain))
		})
	}
}

func TestLoadValidYAML(t *testing.T) {
	const yamlContent = `
domains:
  - name: Instrument
    label: Musical instrument
    fallback_guess: piano
    aliases: [instruments]
  - name: movie
    label: Film
    fallback_guess: Titanic
`
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	r, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Len(t, r.All(), 10)

	d, ok := r.Get("instrument")
	require.True(t, ok)
	assert.Equal(t, "instrument", d.Name)
	assert.Equal(t, "Musical instrument", d.Label)
	assert.Equal(t, "piano", r.FallbackGuess("instruments"))

	// File entries replace built-ins of the same name.
	assert.Equal(t, "Titanic", r.FallbackGuess("movie"))

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte(":\tinvalid:\tyaml:\t[unclosed"), 0600))

	r, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestLoadRejectsNamelessEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yml")
	require.NoError(t, os.WriteFile(path, []byte("domains:\n  - label: Nothing\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	r := Default()

	assert.Equal(t, "animal", r.Canonical("  Animal "))
	assert.Equal(t, "animal", r.Canonical("ANIMALS"))
	assert.Equal(t, "movie", r.Canonical("film"))
	assert.Equal(t, "board game", r.Canonical("Board Game"))
}

func TestAllKeepsDefinitionOrder(t *testing.T) {
	all := Default().All()
	assert.Equal(t, "animal", all[0].Name)
	assert.Equal(t, "game", all[len(all)-1].Name)
}
