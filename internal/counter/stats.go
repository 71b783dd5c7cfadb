package counter

import (
	"time"

	"pancount/internal/model"
)

const dayLayout = "2006-01-02"

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Today covers the calendar day of now, in now's location.
func Today(batches []model.Batch, now time.Time) model.Stats {
	from := startOfDay(now)
	return reduce(batches, from, from.AddDate(0, 0, 1), 1)
}

// Week covers the last seven calendar days including today. The daily
// average is always taken over seven days.
func Week(batches []model.Batch, now time.Time) model.Stats {
	to := startOfDay(now).AddDate(0, 0, 1)
	return reduce(batches, to.AddDate(0, 0, -7), to, 7)
}

// Month covers the calendar month of now, averaged over the days elapsed.
func Month(batches []model.Batch, now time.Time) model.Stats {
	y, m, _ := now.Date()
	from := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return reduce(batches, from, from.AddDate(0, 1, 0), now.Day())
}

// Total covers the whole ledger, averaged over days with production.
func Total(batches []model.Batch) model.Stats {
	var st model.Stats
	days := make(map[string]struct{})
	for _, b := range batches {
		st.Batches++
		st.Production += b.Count
		days[b.ConfirmedAt.Format(dayLayout)] = struct{}{}
	}
	return finish(st, len(days))
}

// DailyProduction returns one entry per day for the last n days, oldest first.
func DailyProduction(batches []model.Batch, now time.Time, n int) []model.DayTotal {
	if n <= 0 {
		n = 7
	}
	first := startOfDay(now).AddDate(0, 0, -(n - 1))
	out := make([]model.DayTotal, n)
	index := make(map[string]int, n)
	for i := range out {
		out[i].Date = first.AddDate(0, 0, i).Format(dayLayout)
		index[out[i].Date] = i
	}
	for _, b := range batches {
		idx, ok := index[b.ConfirmedAt.In(now.Location()).Format(dayLayout)]
		if !ok {
			continue
		}
		out[idx].Batches++
		out[idx].Production += b.Count
	}
	return out
}

func reduce(batches []model.Batch, from, to time.Time, days int) model.Stats {
	var st model.Stats
	for _, b := range batches {
		if b.ConfirmedAt.Before(from) || !b.ConfirmedAt.Before(to) {
			continue
		}
		st.Batches++
		st.Production += b.Count
	}
	return finish(st, days)
}

func finish(st model.Stats, days int) model.Stats {
	if st.Batches > 0 {
		st.AvgPerBatch = float64(st.Production) / float64(st.Batches)
	}
	if days > 0 {
		st.AvgPerDay = float64(st.Production) / float64(days)
	}
	return st
}
