package feed

import (
	"fmt"
	"time"
)

// FetchError reports a non-2xx status or an unusable payload from the feed
// source. StatusCode is zero when no response was received.
type FetchError struct {
	Partition  string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch r/%s: API returned status %d", e.Partition, e.StatusCode)
	}

	return fmt.Sprintf("fetch r/%s: %v", e.Partition, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError reports that the feed request exceeded its wall-clock cap
type TimeoutError struct {
	Partition string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch r/%s: request exceeded %s timeout", e.Partition, e.Timeout)
}
