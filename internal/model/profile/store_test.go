package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedContainsDefault(t *testing.T) {
	store := NewMemoryStore(Seed())

	def, ok := store.FindByID(DefaultID)
	require.True(t, ok)
	assert.Nil(t, def.Temperature, "default profile must not override configured sampling")
	assert.Empty(t, def.SystemInstruction)
}

func TestFindByIDMissing(t *testing.T) {
	store := NewMemoryStore(nil)

	_, ok := store.FindByID("nope")
	assert.False(t, ok)
	assert.Empty(t, store.List())
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())

	items := store.List()
	items[0].Name = "mutated"

	again := store.List()
	assert.Equal(t, "Gemini Chat", again[0].Name)
}
