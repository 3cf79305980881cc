package provision

import (
	"strconv"
	"time"
)

// DefaultDedupWindow is the width of the idempotency token buckets.
const DefaultDedupWindow = 100 * time.Second

// IdempotencyToken derives the build deduplication token from t: the unix
// time in seconds, rounded down to a multiple of window. Two submissions in
// the same bucket share a token and so resolve to the same build.
func IdempotencyToken(t time.Time, window time.Duration) string {
	w := int64(window / time.Second)
	if w <= 0 {
		w = int64(DefaultDedupWindow / time.Second)
	}
	secs := t.Unix()
	bucket := secs - secs%w
	if secs < 0 && secs%w != 0 {
		bucket -= w
	}
	return strconv.FormatInt(bucket, 10)
}
