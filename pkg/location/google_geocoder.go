package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"
)

// AddressResolver turns a coordinate into a postal address.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, lat, lon float64) (Address, error)
}

// GoogleGeocoder resolves addresses through the Google Maps reverse geocoding API.
type GoogleGeocoder struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleGeocoder creates a GoogleGeocoder for the given API key.
func NewGoogleGeocoder(apiKey string, timeout time.Duration) (*GoogleGeocoder, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleGeocoder{client: c, timeout: timeout}, nil
}

// ResolveAddress returns the first reverse geocoding result for the coordinate.
func (g *GoogleGeocoder) ResolveAddress(ctx context.Context, lat, lon float64) (Address, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	})
	if err != nil {
		return Address{}, fmt.Errorf("reverse geocode %f,%f: %w", lat, lon, err)
	}
	if len(results) == 0 {
		return Address{}, errors.New("reverse geocode returned no results")
	}
	return AddressFromComponents(results[0].AddressComponents), nil
}

// AddressFromComponents maps geocoder address components onto an Address.
func AddressFromComponents(components []maps.AddressComponent) Address {
	var addr Address
	var number, route string
	for _, c := range components {
		for _, t := range c.Types {
			switch t {
			case "street_number":
				number = c.LongName
			case "route":
				route = c.LongName
			case "locality", "postal_town":
				if addr.Town == "" {
					addr.Town = c.LongName
				}
			case "postal_code":
				addr.PostCode = c.LongName
			case "country":
				addr.Country = c.ShortName
			}
		}
	}
	addr.Street = strings.TrimSpace(number + " " + route)
	return addr
}
