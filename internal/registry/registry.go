// Package registry maps location identifiers to their static configuration:
// area, stay duration, sensor scaling factor and place category.
//
// A Registry is built once from configuration and is read-only afterwards, so
// it can be shared by concurrent batch workers without locking.
package registry

import (
	"fmt"
	"sort"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Registry is an immutable set of location profiles keyed by ID.
type Registry struct {
	profiles map[string]models.LocationProfile
}

// New validates the profiles and builds a registry. Duplicate IDs are rejected.
func New(profiles []models.LocationProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]models.LocationProfile, len(profiles))}
	for i := range profiles {
		p := profiles[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile at index %d: %w", i, err)
		}
		if _, exists := r.profiles[p.ID]; exists {
			return nil, fmt.Errorf("duplicate location ID %q", p.ID)
		}
		r.profiles[p.ID] = p
	}
	return r, nil
}

// Lookup returns the profile for id, or an error wrapping
// models.ErrNotConfigured when the location has no entry.
func (r *Registry) Lookup(id string) (models.LocationProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return models.LocationProfile{}, fmt.Errorf("%w: %s", models.ErrNotConfigured, id)
	}
	return p, nil
}

// IDs returns all configured location IDs in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Profiles returns a copy of every profile ordered by ID.
func (r *Registry) Profiles() []models.LocationProfile {
	ids := r.IDs()
	out := make([]models.LocationProfile, len(ids))
	for i, id := range ids {
		out[i] = r.profiles[id]
	}
	return out
}

// Len returns the number of configured locations.
func (r *Registry) Len() int {
	return len(r.profiles)
}
