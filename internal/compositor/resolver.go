package compositor

import (
	"sort"

	"github.com/bobarin/framecast/internal/models"
)

// Resolution is the asset state at a query time.
type Resolution struct {
	Current  *models.CompositionAsset
	Previous *models.CompositionAsset
	// Blend is 0 at the start of Current's transition window and 1 once
	// Previous is no longer visible.
	Blend float64
}

// InTransition reports whether Previous still contributes pixels.
func (r Resolution) InTransition() bool {
	return r.Current != nil && r.Previous != nil && r.Blend < 1
}

// AssetResolver maps a time to the current and preceding asset. Assets
// must be sorted by start time (see models.Composition.Normalize).
type AssetResolver struct {
	assets     []models.CompositionAsset
	transition float64
}

func NewAssetResolver(assets []models.CompositionAsset, transitionSeconds float64) *AssetResolver {
	return &AssetResolver{assets: assets, transition: transitionSeconds}
}

// ActiveAsset returns the last asset with StartTime <= t and the one
// before it.
func (r *AssetResolver) ActiveAsset(t float64) Resolution {
	n := sort.Search(len(r.assets), func(i int) bool {
		return r.assets[i].StartTime > t
	})
	idx := n - 1
	if idx < 0 {
		return Resolution{}
	}

	res := Resolution{Current: &r.assets[idx], Blend: 1}
	if idx > 0 {
		res.Previous = &r.assets[idx-1]
	}
	if r.transition > 0 {
		res.Blend = clamp01((t - res.Current.StartTime) / r.transition)
	}
	return res
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
