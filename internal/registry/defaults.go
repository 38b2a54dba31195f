package registry

import "github.com/rewired-gh/crowdcast/internal/models"

// Defaults returns the built-in location table: the six Seoul parks and three
// main streets covered by the S-DoT visitor sensors.
func Defaults() []models.LocationProfile {
	return []models.LocationProfile{
		{ID: "eunpyeong-peace-park", Name: "은평평화공원", Category: models.CategoryPark, AreaM2: 42500, StayHours: 1, ScalingFactor: 25},
		{ID: "dream-forest", Name: "북서울꿈의숲", Category: models.CategoryPark, AreaM2: 660000, StayHours: 3, ScalingFactor: 50},
		{ID: "seoul-forest", Name: "서울숲공원", Category: models.CategoryPark, AreaM2: 480994, StayHours: 3, ScalingFactor: 100},
		{ID: "amsa-eco-park", Name: "암사생태공원", Category: models.CategoryPark, AreaM2: 270279, StayHours: 3, ScalingFactor: 50},
		{ID: "songpa-naru-park", Name: "송파나루공원", Category: models.CategoryPark, AreaM2: 285757, StayHours: 2, ScalingFactor: 50},
		{ID: "independence-park", Name: "서대문독립공원", Category: models.CategoryPark, AreaM2: 44600, StayHours: 2, ScalingFactor: 20},
		// Street entries are keyed by sensor serial number.
		{ID: "4035", Name: "샤로수길", Category: models.CategoryStreet, AreaM2: 12168.4, StayHours: 3, ScalingFactor: 50},
		{ID: "4032", Name: "망원동 거리", Category: models.CategoryStreet, AreaM2: 9850, StayHours: 2, ScalingFactor: 40},
		{ID: "4020", Name: "해방촌", Category: models.CategoryStreet, AreaM2: 7420.5, StayHours: 2, ScalingFactor: 30},
	}
}
