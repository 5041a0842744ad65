package models

// CityRecord is one entry of the fixed city registry.
type CityRecord struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
}

// WeatherSample is the per-city result of both provider calls. It only lives
// for the duration of one aggregation and is never stored on its own.
type WeatherSample struct {
	CityName           string
	Lat                float64
	Lng                float64
	Temperature        float64 // °C
	IrradianceEstimate float64 // W/m², temperature proxy
	SolarEnergyRaw     float64 // MJ/m²/day as reported by the solar provider
	SolarEnergy        float64 // kWh/m²/day, always >= 0
	TimestampISO       string
}

// MapPoint is one marker on the dashboard map.
type MapPoint struct {
	ID         int     `json:"id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Irradiance float64 `json:"irradiance"`
}

// ChartPoint is one entry of the dashboard time chart.
type ChartPoint struct {
	Timestamp   string  `json:"timestamp"`
	Energy      float64 `json:"energy"`
	Temperature float64 `json:"temperature"`
	City        string  `json:"city"`
}

// Metrics holds arithmetic means over all successful samples.
// TotalEnergy is a per-city mean despite its name; the dashboard reads it that way.
type Metrics struct {
	TotalEnergy   float64 `json:"totalEnergy"`
	AvgIrradiance float64 `json:"avgIrradiance"`
	Temperature   float64 `json:"temperature"`
}

// CombinedResult is the response payload and the cached blob.
type CombinedResult struct {
	MapData   []MapPoint   `json:"mapData"`
	Metrics   Metrics      `json:"metrics"`
	ChartData []ChartPoint `json:"chartData"`
}
