package domain

import "context"

// WeatherSource returns the current conditions at a location.
type WeatherSource interface {
	Current(ctx context.Context, loc Location) (Sample, error)
}
