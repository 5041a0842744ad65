// Package cities holds the fixed registry of dashboard cities. The registry is
// data embedded at build time, parsed once, and never mutated afterwards.
package cities

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/solar-dashboard-service/internal/models"
	"github.com/kjstillabower/solar-dashboard-service/internal/validation"
)

// MaxCities caps the registry size; entries beyond it are ignored.
const MaxCities = 50

//go:embed cities.yaml
var embedded []byte

type registryFile struct {
	Cities []models.CityRecord `yaml:"cities"`
}

var (
	defaultOnce     sync.Once
	defaultRegistry []models.CityRecord
)

// Default returns a copy of the embedded registry. It panics if the embedded
// file is invalid, which can only happen with a broken build.
func Default() []models.CityRecord {
	defaultOnce.Do(func() {
		reg, err := Parse(embedded)
		if err != nil {
			panic(fmt.Sprintf("cities: embedded registry: %v", err))
		}
		defaultRegistry = reg
	})
	out := make([]models.CityRecord, len(defaultRegistry))
	copy(out, defaultRegistry)
	return out
}

// Parse decodes a YAML registry, validates every entry and truncates to MaxCities.
func Parse(data []byte) ([]models.CityRecord, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(f.Cities) == 0 {
		return nil, fmt.Errorf("registry has no cities")
	}
	if len(f.Cities) > MaxCities {
		f.Cities = f.Cities[:MaxCities]
	}
	for i, c := range f.Cities {
		if err := validation.ValidateCity(c); err != nil {
			return nil, fmt.Errorf("city %d (%q): %w", i, c.Name, err)
		}
	}
	return f.Cities, nil
}
