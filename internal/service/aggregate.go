package service

import (
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
)

// Aggregate reduces successful samples into the response payload. Map point
// IDs run 1..N in sample order. Every metric is an arithmetic mean; in
// particular TotalEnergy is the mean per-city energy, not a sum. With no
// samples all metrics are zero and both slices are empty.
func Aggregate(samples []models.WeatherSample) models.CombinedResult {
	result := models.CombinedResult{
		MapData:   make([]models.MapPoint, 0, len(samples)),
		ChartData: make([]models.ChartPoint, 0, len(samples)),
	}
	if len(samples) == 0 {
		return result
	}

	var energy, irradiance, temperature float64
	for i, sm := range samples {
		result.MapData = append(result.MapData, models.MapPoint{
			ID:         i + 1,
			Lat:        sm.Lat,
			Lng:        sm.Lng,
			Irradiance: sm.IrradianceEstimate,
		})
		result.ChartData = append(result.ChartData, models.ChartPoint{
			Timestamp:   sm.TimestampISO,
			Energy:      sm.SolarEnergy,
			Temperature: sm.Temperature,
			City:        sm.CityName,
		})
		energy += sm.SolarEnergy
		irradiance += sm.IrradianceEstimate
		temperature += sm.Temperature
	}

	n := float64(len(samples))
	result.Metrics = models.Metrics{
		TotalEnergy:   energy / n,
		AvgIrradiance: irradiance / n,
		Temperature:   temperature / n,
	}
	return result
}

func (s *SolarService) aggregate(samples []models.WeatherSample) models.CombinedResult {
	return Aggregate(samples)
}
