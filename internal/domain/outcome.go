package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidOutcome reports a status, precision and coordinate combination
// that no geocode outcome may hold.
var ErrInvalidOutcome = errors.New("invalid geocode outcome")

// Status is the lifecycle state of an incident's geocode.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusApprox  Status = "approx"
	StatusFail    Status = "fail"
)

// Precision grades how exact a coordinate is.
type Precision string

const (
	PrecisionRooftop      Precision = "rooftop"
	PrecisionStreet       Precision = "street"
	PrecisionInterpolated Precision = "interpolated"
	PrecisionCentroid     Precision = "centroid"
	PrecisionApprox       Precision = "approx"
	PrecisionNone         Precision = "none"
)

// Precise reports whether p is good enough for StatusOK.
func (p Precision) Precise() bool {
	switch p {
	case PrecisionRooftop, PrecisionStreet, PrecisionInterpolated:
		return true
	}
	return false
}

const (
	// MethodCentroidFallback marks coordinates taken from a zone centroid.
	MethodCentroidFallback = "centroid-fallback"
	// MethodNone marks incidents that were never resolved.
	MethodNone = "none"
)

// Outcome is the geocode state of one incident. Fields are unexported so the
// only way to build one is through the constructors below, which keep status,
// precision and coordinates consistent:
//
//	ok      -> coordinates, rooftop/street/interpolated
//	approx  -> coordinates, centroid/approx
//	fail    -> no coordinates, none
//	pending -> no coordinates, none
type Outcome struct {
	status    Status
	coord     Coord
	hasCoord  bool
	precision Precision
	method    string
}

// Pending is the outcome of an incident nobody has tried to geocode.
func Pending() Outcome {
	return Outcome{status: StatusPending, precision: PrecisionNone, method: MethodNone}
}

// Failed is the outcome when no provider result and no zone centroid exist.
func Failed() Outcome {
	return Outcome{status: StatusFail, precision: PrecisionNone, method: MethodNone}
}

// Centroid is the outcome of the zone-centroid fallback.
func Centroid(c Coord) Outcome {
	return Outcome{
		status:    StatusApprox,
		coord:     c,
		hasCoord:  true,
		precision: PrecisionCentroid,
		method:    MethodCentroidFallback,
	}
}

// Resolved is the outcome of a provider or cache hit. Precise precisions
// yield StatusOK, approx yields StatusApprox and anything else is rejected.
func Resolved(c Coord, p Precision, method string) (Outcome, error) {
	o := Outcome{coord: c, hasCoord: true, precision: p, method: method}
	switch {
	case p.Precise():
		o.status = StatusOK
	case p == PrecisionApprox || p == PrecisionCentroid:
		o.status = StatusApprox
	default:
		return Outcome{}, fmt.Errorf("%w: precision %q for resolved coordinates", ErrInvalidOutcome, p)
	}
	if method == "" {
		o.method = MethodNone
	}
	return o, nil
}

// RestoreOutcome rebuilds an outcome from stored columns. Missing coordinates
// are passed as nil.
func RestoreOutcome(status Status, c *Coord, p Precision, method string) (Outcome, error) {
	switch status {
	case "", StatusPending:
		return Pending(), nil
	case StatusFail:
		return Failed(), nil
	case StatusOK, StatusApprox:
		if c == nil {
			return Outcome{}, fmt.Errorf("%w: status %q without coordinates", ErrInvalidOutcome, status)
		}
		o, err := Resolved(*c, p, method)
		if err != nil {
			return Outcome{}, err
		}
		if o.status != status {
			return Outcome{}, fmt.Errorf("%w: status %q with precision %q", ErrInvalidOutcome, status, p)
		}
		return o, nil
	default:
		return Outcome{}, fmt.Errorf("%w: unknown status %q", ErrInvalidOutcome, status)
	}
}

func (o Outcome) Status() Status {
	if o.status == "" {
		return StatusPending
	}
	return o.status
}

// Coord returns the resolved coordinates, or false for pending and failed outcomes.
func (o Outcome) Coord() (Coord, bool) { return o.coord, o.hasCoord }

func (o Outcome) Precision() Precision {
	if o.precision == "" {
		return PrecisionNone
	}
	return o.precision
}

// Method names the source of the coordinates: a provider name,
// MethodCentroidFallback or MethodNone.
func (o Outcome) Method() string {
	if o.method == "" {
		return MethodNone
	}
	return o.method
}

// Settled reports whether the outcome holds coordinates a normal run keeps.
func (o Outcome) Settled() bool {
	s := o.Status()
	return s == StatusOK || s == StatusApprox
}
