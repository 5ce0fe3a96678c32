package pricefeed

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case "", BucketHour:
		return BucketHour, nil
	case BucketDay:
		return BucketDay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBucket, s)
}

func (b Bucket) duration() time.Duration {
	if b == BucketDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Stat aggregates the mark over one bucket.
type Stat struct {
	Start time.Time       `json:"start"`
	Avg   decimal.Decimal `json:"avg"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
	Count int             `json:"count"`
}

// Stats buckets the mark history in [from, to) by hour or day in UTC.
func (a *Aggregator) Stats(market string, bucket Bucket, from, to time.Time) ([]Stat, error) {
	if a.history == nil {
		return nil, nil
	}
	if !from.Before(to) {
		return nil, nil
	}
	points, err := a.history.Range(market, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}

	width := bucket.duration()
	var (
		out []Stat
		sum decimal.Decimal
	)
	for _, p := range points {
		start := time.UnixMilli(p.TS).UTC().Truncate(width)
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			if len(out) > 0 {
				finish(&out[len(out)-1], sum)
			}
			out = append(out, Stat{Start: start, Min: p.Mark, Max: p.Mark})
			sum = decimal.Zero
		}
		s := &out[len(out)-1]
		s.Count++
		sum = sum.Add(p.Mark)
		s.Min = decimal.Min(s.Min, p.Mark)
		s.Max = decimal.Max(s.Max, p.Mark)
	}
	if len(out) > 0 {
		finish(&out[len(out)-1], sum)
	}
	return out, nil
}

func finish(s *Stat, sum decimal.Decimal) {
	s.Avg = sum.Div(decimal.NewFromInt(int64(s.Count)))
}
