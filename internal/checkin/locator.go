package checkin

import (
	"context"
	"errors"

	"github.com/TLC405/morganisthebest/internal/geo"
)

// ErrNoLocation is returned by a Locator that has no coordinates to offer.
var ErrNoLocation = errors.New("location unavailable")

// Locator obtains the attendee's device coordinates. Implementations may
// block; the service bounds every call with its geo timeout.
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context) (geo.Point, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (geo.Point, error) {
	return f(ctx)
}

// StaticLocator returns coordinates the device already reported with the
// request. A nil point means the device sent none.
func StaticLocator(p *geo.Point) Locator {
	return LocatorFunc(func(ctx context.Context) (geo.Point, error) {
		if p == nil {
			return geo.Point{}, ErrNoLocation
		}
		return *p, nil
	})
}

type locateResult struct {
	point geo.Point
	err   error
}

// locate runs loc in its own goroutine so a locator that ignores ctx still
// cannot hold the check-in past the deadline.
func locate(ctx context.Context, loc Locator) (geo.Point, error) {
	if loc == nil {
		return geo.Point{}, ErrNoLocation
	}

	ch := make(chan locateResult, 1)
	go func() {
		p, err := loc.Locate(ctx)
		ch <- locateResult{point: p, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return geo.Point{}, res.err
		}
		if err := res.point.Validate(); err != nil {
			return geo.Point{}, err
		}
		return res.point, nil
	case <-ctx.Done():
		return geo.Point{}, ctx.Err()
	}
}
