package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/models"
)

func TestSpecFor(t *testing.T) {
	spec, ok := SpecFor("dall-e-3")
	require.True(t, ok)
	assert.Equal(t, "openai", spec.Provider)
	assert.Equal(t, models.MediaImage, spec.MediaType)
	assert.Equal(t, 10, spec.Cost)

	spec, ok = SpecFor("kling-video")
	require.True(t, ok)
	assert.Equal(t, "fal", spec.Provider)
	assert.Equal(t, models.MediaVideo, spec.MediaType)
	assert.Equal(t, 50, spec.Cost)

	_, ok = SpecFor("imagen-9")
	assert.False(t, ok)
}

func TestCostOf(t *testing.T) {
	spec, _ := SpecFor("flux-schnell")
	assert.Equal(t, 3, CostOf(spec, 1))
	assert.Equal(t, 12, CostOf(spec, 4))
	assert.Equal(t, 3, CostOf(spec, 0), "zero count prices as one output")
}

func TestCatalogEntriesAreComplete(t *testing.T) {
	for _, id := range Models() {
		spec, ok := SpecFor(id)
		require.True(t, ok, id)
		assert.NotEmpty(t, spec.Provider, id)
		assert.NotEmpty(t, spec.MediaType, id)
		assert.Greater(t, spec.Cost, 0, id)
	}
}
