package reading

import (
	"fmt"
	"time"
)

// Bucket selects the aggregation granularity for a readings query.
type Bucket string

// Bucket values. Raw returns individual samples; the rest return
// per-bucket average, minimum, maximum and count.
const (
	BucketRaw    Bucket = "raw"
	BucketMinute Bucket = "minute"
	BucketHour   Bucket = "hour"
	BucketDay    Bucket = "day"
)

// Range thresholds for automatic bucket selection.
const (
	rawRangeMax    = 6 * time.Hour
	minuteRangeMax = 48 * time.Hour
	hourRangeMax   = 60 * 24 * time.Hour
)

// ParseBucket converts a query-string value into a Bucket. Empty string
// and "auto" defer to automatic selection via BucketForRange.
func ParseBucket(s string) (Bucket, bool, error) {
	switch s {
	case "", "auto":
		return "", true, nil
	case string(BucketRaw), string(BucketMinute), string(BucketHour), string(BucketDay):
		return Bucket(s), false, nil
	default:
		return "", false, fmt.Errorf("%w: %q", ErrInvalidBucket, s)
	}
}

// BucketForRange picks a granularity that keeps result sets at a size
// a chart can render: raw samples for short ranges, coarser buckets as
// the span grows.
//
//	up to 6 hours   -> raw
//	up to 48 hours  -> minute
//	up to 60 days   -> hour
//	beyond          -> day
func BucketForRange(start, end time.Time) Bucket {
	span := end.Sub(start)
	switch {
	case span <= rawRangeMax:
		return BucketRaw
	case span <= minuteRangeMax:
		return BucketMinute
	case span <= hourRangeMax:
		return BucketHour
	default:
		return BucketDay
	}
}

// truncArg maps a bucket onto the date_trunc precision argument.
// Only called with aggregated buckets.
func truncArg(b Bucket) string {
	// Bucket names were chosen to match date_trunc's field names.
	return string(b)
}
