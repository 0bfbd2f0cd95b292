package barstore

import (
	"time"

	"openrange/pkg/model"
)

// TradingDay holds one calendar day's bars and the close carried in from the previous day
type TradingDay struct {
	Key          string
	Date         time.Time
	Bars         []model.Bar // every bar of the day, chronological
	Session      []model.Bar // in-session subset, chronological
	PrevClose    float64
	HasPrevClose bool
}

// LastClose returns the close this day hands to the next one:
// the last in-session bar if there is one, otherwise the last bar of the day.
func (d TradingDay) LastClose() (float64, bool) {
	if len(d.Session) > 0 {
		return d.Session[len(d.Session)-1].Close, true
	}
	if len(d.Bars) > 0 {
		return d.Bars[len(d.Bars)-1].Close, true
	}
	return 0, false
}

// GroupDays groups annotated, time-ordered bars by calendar day in ascending order
// and carries the previous close forward, including across days without session bars.
func GroupDays(bars []model.Bar) []TradingDay {
	var days []TradingDay
	index := make(map[string]int)

	for _, b := range bars {
		key := b.Day
		if key == "" {
			key = b.DayKey()
		}
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			y, m, d := b.Time.Date()
			days = append(days, TradingDay{
				Key:  key,
				Date: time.Date(y, m, d, 0, 0, 0, 0, b.Time.Location()),
			})
		}
		days[i].Bars = append(days[i].Bars, b)
		if b.InSession {
			days[i].Session = append(days[i].Session, b)
		}
	}

	var carry float64
	var hasCarry bool
	for i := range days {
		days[i].PrevClose = carry
		days[i].HasPrevClose = hasCarry
		if c, ok := days[i].LastClose(); ok {
			carry, hasCarry = c, true
		}
	}

	return days
}
