package aggregator

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

var (
	// ErrNonPositiveValue rejects results with value <= 0.
	ErrNonPositiveValue = errors.New("non-positive value")
	// ErrBadConfidence rejects results whose confidence is outside [0,1].
	ErrBadConfidence = errors.New("confidence outside [0,1]")
	// ErrLowConfidence rejects results below the policy's minimum confidence.
	ErrLowConfidence = errors.New("confidence below minimum")
	// ErrStale rejects results older than the policy's maximum age.
	ErrStale = errors.New("result too old")
)

// Validate classifies a raw result as acceptable (nil) or rejected. It is
// pure: the caller supplies now, so acceptance is reproducible in tests.
// Both aggregation modes and the batch path apply it identically.
func Validate(r sources.Result, p Policy, now time.Time) error {
	if !r.Value.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveValue, r.Value)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %f", ErrBadConfidence, r.Confidence)
	}
	if r.Confidence < p.MinConfidence {
		return fmt.Errorf("%w: %f < %f", ErrLowConfidence, r.Confidence, p.MinConfidence)
	}
	if p.MaxAge > 0 && now.Sub(r.Timestamp) > p.MaxAge {
		return fmt.Errorf("%w: observed %s ago", ErrStale, now.Sub(r.Timestamp))
	}
	return nil
}

// rejectReason maps a validation error to a short metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNonPositiveValue):
		return "non_positive"
	case errors.Is(err, ErrBadConfidence):
		return "bad_confidence"
	case errors.Is(err, ErrLowConfidence):
		return "low_confidence"
	case errors.Is(err, ErrStale):
		return "stale"
	default:
		return "other"
	}
}
