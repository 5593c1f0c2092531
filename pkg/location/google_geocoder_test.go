package location_test

import (
	"testing"

	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/stretchr/testify/assert"
	"googlemaps.github.io/maps"
)

func TestAddressFromComponents(t *testing.T) {
	addr := location.AddressFromComponents([]maps.AddressComponent{
		{LongName: "1600", Types: []string{"street_number"}},
		{LongName: "Amphitheatre Parkway", Types: []string{"route"}},
		{LongName: "Mountain View", Types: []string{"locality", "political"}},
		{LongName: "94043", Types: []string{"postal_code"}},
		{LongName: "United States", ShortName: "US", Types: []string{"country", "political"}},
	})

	assert.Equal(t, location.Address{
		Street:   "1600 Amphitheatre Parkway",
		Town:     "Mountain View",
		PostCode: "94043",
		Country:  "US",
	}, addr)
}

func TestAddressFromComponents_Empty(t *testing.T) {
	assert.Equal(t, location.Address{}, location.AddressFromComponents(nil))
}
