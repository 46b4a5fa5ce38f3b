// Package recommend derives low-occupancy hour recommendations from the
// occupancy history. It is a read-only consumer; it never mutates state.
package recommend

import (
	"context"
	"time"

	"parking-occupancy-backend/internal/store"
)

// Aggregation window: hours in [HourFrom, HourTo) on Monday through Saturday.
const (
	HourFrom = 8
	HourTo   = 20
)

// RecommendedHour is one low-occupancy hour of a weekday.
type RecommendedHour struct {
	Hour          int     `json:"hour"`
	OccupancyRate float64 `json:"occupancyRate"`
}

// WeekdayRecommendation lists the recommended hours of one weekday. Only
// weekdays with at least one observed occupied hour are emitted.
type WeekdayRecommendation struct {
	Weekday string            `json:"weekday"`
	Hours   []RecommendedHour `json:"hours"`
}

// Deriver computes recommendations over the full occupancy history.
type Deriver struct {
	store     store.Store
	capacity  int
	threshold float64
}

// NewDeriver creates a deriver. capacity is the configured total cell count;
// hours with an occupancy rate below threshold (percent) are recommended.
func NewDeriver(s store.Store, capacity int, threshold float64) *Deriver {
	if capacity <= 0 {
		capacity = 1
	}
	if threshold <= 0 {
		threshold = 80
	}
	return &Deriver{store: s, capacity: capacity, threshold: threshold}
}

// Recommendations walks every closed interval hour by hour, buckets occupied
// hours by (weekday, hour), and emits the hours whose occupancy rate stays
// under the threshold. Open records are excluded; Sundays are skipped.
func (d *Deriver) Recommendations(ctx context.Context) ([]WeekdayRecommendation, error) {
	records, err := d.store.AllOccupancyRecords(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[time.Weekday]map[int]int)
	for _, rec := range records {
		if rec.End == nil {
			continue
		}
		for t := rec.Start.Truncate(time.Hour); t.Before(*rec.End); t = t.Add(time.Hour) {
			weekday := t.Weekday()
			if weekday == time.Sunday {
				continue
			}
			hour := t.Hour()
			if hour < HourFrom || hour >= HourTo {
				continue
			}
			if counts[weekday] == nil {
				counts[weekday] = make(map[int]int)
			}
			counts[weekday][hour]++
		}
	}

	out := make([]WeekdayRecommendation, 0, len(counts))
	for weekday := time.Monday; weekday <= time.Saturday; weekday++ {
		hours, ok := counts[weekday]
		if !ok {
			continue
		}
		recommended := make([]RecommendedHour, 0, HourTo-HourFrom)
		for hour := HourFrom; hour < HourTo; hour++ {
			rate := float64(hours[hour]) / float64(d.capacity) * 100
			if rate < d.threshold {
				recommended = append(recommended, RecommendedHour{Hour: hour, OccupancyRate: rate})
			}
		}
		out = append(out, WeekdayRecommendation{
			Weekday: weekday.String(),
			Hours:   recommended,
		})
	}
	return out, nil
}
