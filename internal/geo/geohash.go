// Package geo holds the coordinate type reported by attendee devices and the
// geohash encoding used to persist a coarse check-in location.
package geo

import (
	"errors"
	"fmt"
	"strings"
)

// CheckInPrecision is the geohash length stored with a check-in.
// Six characters is roughly a 1.2 km x 0.6 km cell: enough to tell the venue's
// neighbourhood apart without pinpointing where an attendee stood.
const CheckInPrecision = 6

// ErrInvalidPoint is returned when a coordinate is outside the WGS84 range.
var ErrInvalidPoint = errors.New("coordinates out of range")

// base32 is the geohash alphabet (no a, i, l, o).
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Point is a device-reported latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the point lies within [-90,90] x [-180,180].
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidPoint, p.Lat, p.Lng)
	}
	return nil
}

// Coarse returns the point encoded at CheckInPrecision.
func (p Point) Coarse() string {
	return Encode(p.Lat, p.Lng, CheckInPrecision)
}

// Encode encodes latitude and longitude into a geohash of the given length.
// A precision below 1 falls back to CheckInPrecision.
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = CheckInPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var out strings.Builder
	out.Grow(precision)

	bits := 0
	var ch uint
	even := true
	for out.Len() < precision {
		// Even bits refine longitude, odd bits latitude.
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if lng > mid {
				ch |= 1 << (4 - bits)
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}
		even = !even
		bits++

		if bits == 5 {
			out.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return out.String()
}
