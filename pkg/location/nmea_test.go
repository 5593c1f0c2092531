package location_test

import (
	"testing"

	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNMEA_GGA(t *testing.T) {
	pos, err := location.ParseNMEA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, pos.Latitude, 0.0001)
	assert.InDelta(t, 11.516667, pos.Longitude, 0.0001)
	assert.InDelta(t, 0.9, pos.Accuracy, 0.0001)
}

func TestParseNMEA_RMC(t *testing.T) {
	pos, err := location.ParseNMEA("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, pos.Latitude, 0.0001)
	assert.InDelta(t, 11.516667, pos.Longitude, 0.0001)
}

func TestParseNMEA_BadChecksum(t *testing.T) {
	_, err := location.ParseNMEA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00")
	assert.Error(t, err)
}

func TestParseNMEA_Garbage(t *testing.T) {
	_, err := location.ParseNMEA("not a sentence")
	assert.Error(t, err)
}
