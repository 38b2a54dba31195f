package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// placesFile is the on-disk layout of a places table:
//
//	places:
//	  - id: seoul-forest
//	    name: 서울숲공원
//	    category: park
//	    area_m2: 480994
//	    stay_hours: 3
//	    scaling_factor: 100
type placesFile struct {
	Places []models.LocationProfile `yaml:"places"`
}

// LoadFile reads a YAML places table. Categories are normalized to lower case.
func LoadFile(path string) ([]models.LocationProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading places file: %w", err)
	}

	var f placesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing places file: %w", err)
	}
	if len(f.Places) == 0 {
		return nil, fmt.Errorf("places file %s defines no places", path)
	}

	for i := range f.Places {
		c, err := models.ParseCategory(string(f.Places[i].Category))
		if err != nil {
			return nil, fmt.Errorf("place %q: %w", f.Places[i].ID, err)
		}
		f.Places[i].Category = c
	}
	return f.Places, nil
}
