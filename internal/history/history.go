// Package history generates and maintains per-asset price-history series for
// charting. Series are synthetic random walks anchored at an observed price;
// once seeded they only ever drift by realized price deltas, preserving the
// historical shape.
package history

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/barton333/Investment-Assistant/internal/model"
)

// DefaultPoints is the series length used when seeding a brand-new asset.
const DefaultPoints = 48

// positiveFloor substitutes for any walk step that would go non-positive.
const positiveFloor = 0.01

// Timeframe selects the charting period of a generated series.
type Timeframe string

// Supported timeframes
const (
	Timeframe1H Timeframe = "1H"
	Timeframe1D Timeframe = "1D"
	Timeframe1W Timeframe = "1W"
	Timeframe1M Timeframe = "1M"
	Timeframe1Y Timeframe = "1Y"
)

// timeframeSpec holds the per-timeframe point count, bucket width, label
// format and volatility factor.
type timeframeSpec struct {
	points     int
	bucket     time.Duration
	label      string
	volatility float64
}

var timeframes = map[Timeframe]timeframeSpec{
	Timeframe1H: {points: 60, bucket: time.Minute, label: "15:04", volatility: 0.002},
	Timeframe1D: {points: 48, bucket: 30 * time.Minute, label: "15:04", volatility: 0.006},
	Timeframe1W: {points: 56, bucket: 3 * time.Hour, label: "01-02 15:04", volatility: 0.012},
	Timeframe1M: {points: 30, bucket: 24 * time.Hour, label: "01-02", volatility: 0.02},
	Timeframe1Y: {points: 52, bucket: 7 * 24 * time.Hour, label: "2006-01", volatility: 0.04},
}

// Generate produces a backward-walking random series of the given length
// ending exactly at basePrice, for seeding a brand-new asset with no prior
// history. Volatility is inversely scaled to price magnitude so
// high-magnitude instruments show lower relative noise.
func Generate(basePrice float64, points int) []model.PricePoint {
	if points <= 0 {
		points = DefaultPoints
	}
	spec := timeframes[Timeframe1D]
	spec.points = points
	spec.volatility = magnitudeVolatility(basePrice)
	return walkBackward(basePrice, spec, time.Now())
}

// ForTimeframe produces a period-appropriate series anchored at basePrice.
// Unknown timeframes fall back to 1D.
func ForTimeframe(basePrice float64, tf Timeframe) []model.PricePoint {
	spec, ok := timeframes[tf]
	if !ok {
		spec = timeframes[Timeframe1D]
	}
	return walkBackward(basePrice, spec, time.Now())
}

// walkBackward constructs the series from "now" backwards: the last point is
// exactly basePrice and each earlier point is a reverse random-walk step,
// clamped to stay positive.
func walkBackward(basePrice float64, spec timeframeSpec, now time.Time) []model.PricePoint {
	points := make([]model.PricePoint, spec.points)
	step := spec.volatility * 2.5 / math.Sqrt(float64(spec.points))

	value := basePrice
	for i := spec.points - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(spec.points-1-i) * spec.bucket)
		points[i] = model.PricePoint{
			Time:  ts.Format(spec.label),
			Value: round4(value),
		}
		value *= 1 + (rand.Float64()-0.5)*2*step
		if value <= 0 {
			value = positiveFloor
		}
	}
	return points
}

// Shift drifts every point by delta so the series keeps its shape while
// re-anchoring to a freshly observed level. Point count and time labels are
// preserved; a zero delta is a no-op copy.
func Shift(points []model.PricePoint, delta float64) []model.PricePoint {
	out := make([]model.PricePoint, len(points))
	for i, p := range points {
		out[i] = model.PricePoint{Time: p.Time, Value: p.Value + delta}
	}
	return out
}

// magnitudeVolatility scales noise inversely with price magnitude.
func magnitudeVolatility(price float64) float64 {
	switch {
	case price >= 10000:
		return 0.004
	case price >= 1000:
		return 0.008
	case price >= 100:
		return 0.012
	case price >= 10:
		return 0.018
	default:
		return 0.025
	}
}

func round4(v float64) float64 {
	r := math.Round(v*10000) / 10000
	if r <= 0 {
		return positiveFloor
	}
	return r
}

// Validate reports an error when a series violates the history invariants:
// non-empty and free of non-positive values.
func Validate(points []model.PricePoint) error {
	if len(points) == 0 {
		return fmt.Errorf("history must not be empty")
	}
	for i, p := range points {
		if p.Value <= 0 || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return fmt.Errorf("history point %d has invalid value %f", i, p.Value)
		}
	}
	return nil
}
