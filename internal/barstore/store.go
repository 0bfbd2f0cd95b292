package barstore

import (
	"math"
	"sort"
	"time"

	"openrange/pkg/model"
)

// Rejection reasons
const (
	ReasonMissingTime   = "missing timestamp"
	ReasonBadPrice      = "non-finite or non-positive price"
	ReasonBadVolume     = "negative volume"
	ReasonInconsistency = "high/low envelope violated"
)

// Rejection records a bar excluded at ingestion
type Rejection struct {
	Index  int       `json:"index"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// Store holds validated bars in chronological order
type Store struct {
	bars     []model.Bar
	rejected []Rejection
}

// New validates raw bars, drops malformed ones and sorts the rest by time.
// Malformed bars never fail ingestion; they are reported through Rejected.
func New(raw []model.Bar) *Store {
	s := &Store{
		bars: make([]model.Bar, 0, len(raw)),
	}

	for i, b := range raw {
		if reason := Validate(b); reason != "" {
			s.rejected = append(s.rejected, Rejection{Index: i, Time: b.Time, Reason: reason})
			continue
		}
		b.Day = b.DayKey()
		s.bars = append(s.bars, b)
	}

	sort.SliceStable(s.bars, func(i, j int) bool {
		return s.bars[i].Time.Before(s.bars[j].Time)
	})

	return s
}

// Validate returns the rejection reason for a malformed bar, or "" if the bar is well formed
func Validate(b model.Bar) string {
	if b.Time.IsZero() {
		return ReasonMissingTime
	}
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return ReasonBadPrice
		}
	}
	if b.Volume < 0 {
		return ReasonBadVolume
	}
	if b.High < math.Max(b.Open, math.Max(b.Close, b.Low)) || b.Low > math.Min(b.Open, math.Min(b.Close, b.High)) {
		return ReasonInconsistency
	}
	return ""
}

// Len returns the number of accepted bars
func (s *Store) Len() int {
	return len(s.bars)
}

// Rejected returns the bars excluded at ingestion
func (s *Store) Rejected() []Rejection {
	out := make([]Rejection, len(s.rejected))
	copy(out, s.rejected)
	return out
}

// Bars returns a copy of every accepted bar
func (s *Store) Bars() []model.Bar {
	out := make([]model.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Years returns the distinct calendar years present, ascending
func (s *Store) Years() []int {
	var years []int
	for _, b := range s.bars {
		y := b.Time.Year()
		if len(years) == 0 || years[len(years)-1] != y {
			years = append(years, y)
		}
	}
	return years
}

// Year returns a copy of the bars of one calendar year
func (s *Store) Year(year int) []model.Bar {
	var out []model.Bar
	for _, b := range s.bars {
		if b.Time.Year() == year {
			out = append(out, b)
		}
	}
	return out
}

// Between returns a copy of the bars with from <= time < to
func (s *Store) Between(from, to time.Time) []model.Bar {
	var out []model.Bar
	for _, b := range s.bars {
		if !b.Time.Before(from) && b.Time.Before(to) {
			out = append(out, b)
		}
	}
	return out
}
