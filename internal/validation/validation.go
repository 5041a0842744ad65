package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/kjstillabower/solar-dashboard-service/internal/models"
)

// MaxCityNameLength bounds registry names in runes.
const MaxCityNameLength = 100

// ErrCityNameEmpty is returned when the name is empty or whitespace-only after trim.
var ErrCityNameEmpty = errors.New("city name is required")

// ErrCityNameTooLong is returned when the name exceeds MaxCityNameLength.
var ErrCityNameTooLong = errors.New("city name too long")

// ErrCityNameInvalidChars is returned when the name contains disallowed characters.
var ErrCityNameInvalidChars = errors.New("city name contains invalid characters")

// ErrLatitudeOutOfRange is returned for latitudes outside [-90, 90] or NaN.
var ErrLatitudeOutOfRange = errors.New("latitude out of range")

// ErrLongitudeOutOfRange is returned for longitudes outside [-180, 180] or NaN.
var ErrLongitudeOutOfRange = errors.New("longitude out of range")

// ValidateCity checks a registry entry before it is accepted at startup.
// Names allow Unicode letters, digits, inner spaces, comma, period, apostrophe
// and hyphen. Leading or trailing whitespace is rejected, not trimmed, since the
// name is emitted verbatim in chart points.
func ValidateCity(c models.CityRecord) error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrCityNameEmpty
	}
	r := []rune(c.Name)
	if len(r) > MaxCityNameLength {
		return ErrCityNameTooLong
	}
	if r[0] == ' ' || r[len(r)-1] == ' ' {
		return ErrCityNameInvalidChars
	}
	for _, ch := range r {
		if !isAllowedNameRune(ch) {
			return ErrCityNameInvalidChars
		}
	}
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return ErrLatitudeOutOfRange
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
