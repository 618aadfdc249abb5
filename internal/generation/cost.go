package generation

import (
	"sort"

	"github.com/velro-ai/velro/internal/models"
)

// ModelSpec describes one generation model the platform sells.
type ModelSpec struct {
	Provider  string
	MediaType string
	Cost      int // credits per output
}

// catalog is the source of truth for model pricing and routing. Adding a
// model here and to the provider's Models() list is all a rollout takes.
var catalog = map[string]ModelSpec{
	"dall-e-3":     {Provider: "openai", MediaType: models.MediaImage, Cost: 10},
	"dall-e-2":     {Provider: "openai", MediaType: models.MediaImage, Cost: 5},
	"flux-dev":     {Provider: "fal", MediaType: models.MediaImage, Cost: 8},
	"flux-schnell": {Provider: "fal", MediaType: models.MediaImage, Cost: 3},
	"flux-pro":     {Provider: "fal", MediaType: models.MediaImage, Cost: 12},
	"kling-video":  {Provider: "fal", MediaType: models.MediaVideo, Cost: 50},
}

// SpecFor looks up a model's pricing entry.
func SpecFor(model string) (ModelSpec, bool) {
	spec, ok := catalog[model]
	return spec, ok
}

// CostOf prices a request: per-output cost times output count.
func CostOf(spec ModelSpec, count int) int {
	if count < 1 {
		count = 1
	}
	return spec.Cost * count
}

// Models lists every sellable model id.
func Models() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
