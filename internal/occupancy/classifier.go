package occupancy

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Classify maps an estimated population to a congestion label.
//
// A population of zero is always spacious. Otherwise the per-capita area
// (areaM2 / population) is compared against the category's bands from most to
// least spacious; each band includes its lower bound.
//
// Negative or NaN populations, non-positive or non-finite areas and unknown
// categories return an error wrapping models.ErrInvalidInput.
func Classify(population, areaM2 float64, category models.Category) (models.Label, error) {
	bands, ok := category.Bands()
	if !ok {
		return 0, fmt.Errorf("%w: unknown category %q", models.ErrInvalidInput, category)
	}
	if math.IsNaN(population) || population < 0 {
		return 0, fmt.Errorf("%w: population %v must be a non-negative number", models.ErrInvalidInput, population)
	}
	if math.IsNaN(areaM2) || math.IsInf(areaM2, 0) || areaM2 <= 0 {
		return 0, fmt.Errorf("%w: area %v must be a positive number", models.ErrInvalidInput, areaM2)
	}

	if population == 0 {
		return models.LabelSpacious, nil
	}

	return labelFor(areaM2/population, bands), nil
}

func labelFor(perCapita float64, b models.Bands) models.Label {
	switch {
	case perCapita >= b.Spacious:
		return models.LabelSpacious
	case perCapita >= b.Moderate:
		return models.LabelModerate
	case perCapita >= b.SlightlyCrowded:
		return models.LabelSlightlyCrowded
	default:
		return models.LabelCrowded
	}
}

// PerCapitaArea returns square meters per present visitor, or +Inf when nobody
// is present.
func PerCapitaArea(population, areaM2 float64) float64 {
	if population == 0 {
		return math.Inf(1)
	}
	return areaM2 / population
}

// ClassifySeries labels every hour of a series whose populations were computed
// by Estimate. All records share updatedAt.
func ClassifySeries(series []models.HourlyObservation, populations []float64, profile models.LocationProfile, updatedAt time.Time) ([]models.CongestionRecord, error) {
	if len(series) != len(populations) {
		return nil, fmt.Errorf("%w: %d observations but %d populations",
			models.ErrInvalidInput, len(series), len(populations))
	}

	records := make([]models.CongestionRecord, len(series))
	for i, obs := range series {
		label, err := Classify(populations[i], profile.AreaM2, profile.Category)
		if err != nil {
			return nil, fmt.Errorf("classifying %s hour %d: %w", obs.Date.Format(models.DateLayout), obs.Hour, err)
		}
		records[i] = models.CongestionRecord{
			LocationID: profile.ID,
			Category:   profile.Category,
			Date:       models.CivilDate(obs.Date),
			Hour:       obs.Hour,
			Label:      label,
			Population: populations[i],
			UpdatedAt:  updatedAt,
		}
	}
	return records, nil
}

// Evaluate runs Estimate followed by ClassifySeries for one location.
func Evaluate(series []models.HourlyObservation, profile models.LocationProfile, updatedAt time.Time) ([]models.CongestionRecord, error) {
	populations, err := Estimate(series, profile)
	if err != nil {
		return nil, err
	}
	return ClassifySeries(series, populations, profile, updatedAt)
}
