// Package normalize converts raw provider-specific numeric encodings into
// canonical prices. Every function either returns a finite positive float or
// reports the value as unresolved; zero is never a valid price.
package normalize

import (
	"math"
	"strconv"
	"strings"
)

// GramsPerTroyOunce converts per-troy-ounce quotes to per-gram.
const GramsPerTroyOunce = 31.1035

// PoundsPerMetricTon converts per-pound quotes to per-metric-ton.
const PoundsPerMetricTon = 2204.62

// ParseNumeric extracts a float from a raw string that may carry thousands
// separators, currency symbols or other decoration. It strips everything
// outside [0-9.-] before parsing. The second return is false when no usable
// positive finite number remains.
func ParseNumeric(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)

	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return Valid(v)
}

// Valid reports whether v is usable as a canonical price: finite and
// strictly positive. NaN, Inf, zero and negatives are all unresolved.
func Valid(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// MetalPerGram applies the per-kilogram magnitude heuristic: a domestic
// metal quote exceeding thresholdKg is assumed to be quoted per kilogram and
// divided by 1000 to yield per-gram. A threshold of zero disables the
// heuristic.
//
// This is a heuristic, not a unit flag from the source: it misfires if a
// true per-gram price legitimately crosses the threshold. It is isolated
// here so an explicit unit tag can replace it if a provider ever adds one.
func MetalPerGram(v, thresholdKg float64) (float64, bool) {
	v, ok := Valid(v)
	if !ok {
		return 0, false
	}
	if thresholdKg > 0 && v > thresholdKg {
		return v / 1000, true
	}
	return v, true
}

// TroyOuncePerGram converts an international USD-per-troy-ounce quote into a
// local-currency per-gram price using the given FX rate.
func TroyOuncePerGram(usdPerOunce, fxRate float64) (float64, bool) {
	if _, ok := Valid(usdPerOunce); !ok {
		return 0, false
	}
	if _, ok := Valid(fxRate); !ok {
		return 0, false
	}
	return Valid(usdPerOunce * fxRate / GramsPerTroyOunce)
}

// USDToCNY converts a USD quote into CNY without changing the unit of
// measure. Used for international backups already quoted in the domestic
// contract's unit, such as crude oil per barrel.
func USDToCNY(usd, fxRate float64) (float64, bool) {
	if _, ok := Valid(usd); !ok {
		return 0, false
	}
	if _, ok := Valid(fxRate); !ok {
		return 0, false
	}
	return Valid(usd * fxRate)
}

// PoundsPerTon converts an international USD-per-pound quote into a
// local-currency per-metric-ton price using the given FX rate. Used for the
// copper international backup.
func PoundsPerTon(usdPerPound, fxRate float64) (float64, bool) {
	if _, ok := Valid(usdPerPound); !ok {
		return 0, false
	}
	if _, ok := Valid(fxRate); !ok {
		return 0, false
	}
	return Valid(usdPerPound * fxRate * PoundsPerMetricTon)
}
