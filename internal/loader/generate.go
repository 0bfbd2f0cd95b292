package loader

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"openrange/pkg/model"
)

// GenerateOptions describes a synthetic bar series
type GenerateOptions struct {
	From       time.Time // first day, session-local
	To         time.Time // last day, inclusive
	Open       time.Duration
	Close      time.Duration
	Interval   time.Duration
	StartPrice float64
	Seed       int64
}

// DefaultGenerateOptions returns hourly bars for the regular US session starting at 09:30
func DefaultGenerateOptions(from, to time.Time) GenerateOptions {
	return GenerateOptions{
		From:       from,
		To:         to,
		Open:       9*time.Hour + 30*time.Minute,
		Close:      16 * time.Hour,
		Interval:   time.Hour,
		StartPrice: 320,
		Seed:       42,
	}
}

// Generate produces a reproducible random-walk bar series on weekdays within
// the session window. Prices are rounded to cents and always satisfy the
// high/low envelope.
func Generate(opts GenerateOptions) []model.Bar {
	rng := rand.New(rand.NewSource(opts.Seed))
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}

	price := opts.StartPrice
	var bars []model.Bar

	y, m, d := opts.From.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, opts.From.Location())
	for !day.After(opts.To) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}

		for offset := opts.Open; offset < opts.Close; offset += opts.Interval {
			price += (rng.Float64() - 0.5) * 2
			// Occasional larger moves for volatility
			if rng.Float64() < 0.05 {
				price += (rng.Float64() - 0.5) * 8
			}
			price = math.Max(price, 1)

			open := round(price)
			high := round(open + rng.Float64())
			low := round(math.Max(open-rng.Float64(), 0.01))
			closePrice := round(low + rng.Float64()*(high-low))

			bars = append(bars, model.Bar{
				Time:   wallClock(day, offset),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePrice,
				Volume: rng.Int63n(1_000_000),
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

// wallClock returns the session-local time offset after midnight, immune to DST shifts
func wallClock(day time.Time, offset time.Duration) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, int(offset/time.Minute), 0, 0, day.Location())
}

func round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
