// Package validation provides plausibility filtering for raw quotes before
// the reconciliation engine accepts them. A corrupt feed field (wrong column,
// truncated number, unit mix-up that survived normalization) must never
// overwrite a previously valid price.
package validation

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Options holds configuration for quote validation
type Options struct {
	// MaxJumpRatio bounds the accepted relative change against the last
	// known price; 0.5 means a quote may move at most 50% per cycle.
	// Zero disables the jump check.
	MaxJumpRatio float64

	// MinPrice rejects dust values that are always feed noise
	MinPrice float64
}

// DefaultOptions returns sensible defaults for quote validation
func DefaultOptions() Options {
	return Options{
		MaxJumpRatio: 0.5,
		MinPrice:     1e-6,
	}
}

// Acceptable reports whether a fresh quote is plausible given the asset's
// previous price. A zero previous price (brand-new asset) skips the jump
// check.
func Acceptable(quote, previous float64, opts Options) bool {
	if math.IsNaN(quote) || math.IsInf(quote, 0) || quote < opts.MinPrice {
		return false
	}
	if opts.MaxJumpRatio > 0 && previous > 0 {
		jump := math.Abs(quote-previous) / previous
		if jump > opts.MaxJumpRatio {
			logrus.WithFields(logrus.Fields{
				"quote":    quote,
				"previous": previous,
				"jump":     jump,
			}).Debug("Filtered implausible quote jump")
			return false
		}
	}
	return true
}

// WithinTolerance reports whether two redundant quotes agree within the
// given relative tolerance, measured against their mean.
func WithinTolerance(a, b, tolerance float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	mean := (a + b) / 2
	return math.Abs(a-b)/mean <= tolerance
}
