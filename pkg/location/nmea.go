package location

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adrianmo/go-nmea"
)

// ErrNoFix is returned for sentences that parse but carry no position fix.
var ErrNoFix = errors.New("nmea sentence has no position fix")

// ParseNMEA decodes a GGA, RMC or GLL sentence into a Position.
func ParseNMEA(sentence string) (Position, error) {
	s, err := nmea.Parse(strings.TrimSpace(sentence))
	if err != nil {
		return Position{}, fmt.Errorf("parse nmea sentence: %w", err)
	}

	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return Position{}, ErrNoFix
		}
		return Position{Latitude: m.Latitude, Longitude: m.Longitude, Accuracy: m.HDOP}, nil
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return Position{}, ErrNoFix
		}
		return Position{Latitude: m.Latitude, Longitude: m.Longitude}, nil
	case nmea.GLL:
		if m.Validity != nmea.ValidGLL {
			return Position{}, ErrNoFix
		}
		return Position{Latitude: m.Latitude, Longitude: m.Longitude}, nil
	}
	return Position{}, fmt.Errorf("unsupported nmea sentence type %q", s.DataType())
}
