// Package eligibility decides which feed items qualify for thumbnail
// ingestion. Evaluation is pure: it never performs I/O and never fails.
package eligibility

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/models"
)

// PolicyVersion identifies the rule set below. Bump it whenever the rules,
// extensions or host patterns change.
const PolicyVersion = "v3"

// DefaultRecencyWindow is the maximum item age accepted by default
const DefaultRecencyWindow = 24 * time.Hour

// SkipReason says why an item was rejected
type SkipReason string

const (
	Eligible         SkipReason = ""
	NotVideo         SkipReason = "not_video"
	NoPlayableURL    SkipReason = "no_playable_url"
	Stale            SkipReason = "stale"
	AlreadyProcessed SkipReason = "already_processed"
)

// Decision is the outcome of evaluating one item
type Decision struct {
	ID     string
	Reason SkipReason
}

// Eligible reports whether the item should be processed
func (d Decision) Eligible() bool { return d.Reason == Eligible }

var (
	videoExtensions = map[string]bool{
		".mp4":  true,
		".m4v":  true,
		".mov":  true,
		".webm": true,
		".mkv":  true,
	}

	// Known video hosts whose playable URLs carry no file extension
	videoHostPatterns = map[string]*regexp.Regexp{
		"v.redd.it": regexp.MustCompile(`^/[A-Za-z0-9]+/(DASH|CMAF)_[A-Za-z0-9_]+(\.mp4)?$`),
	}
)

// Evaluate applies the rules in order and stops at the first failure:
// the item must be video, expose a playable URL, be inside the recency
// window, and not already exist in the store.
func Evaluate(item models.FeedItem, now time.Time, window time.Duration, existing map[string]bool) Decision {
	id := item.ID()

	if !item.IsVideo || item.Video == nil {
		return Decision{ID: id, Reason: NotVideo}
	}

	if !IsPlayableURL(item.Video.FallbackURL) {
		return Decision{ID: id, Reason: NoPlayableURL}
	}

	if now.Sub(item.CreatedUTC) > window {
		return Decision{ID: id, Reason: Stale}
	}

	if existing[id] {
		return Decision{ID: id, Reason: AlreadyProcessed}
	}

	return Decision{ID: id, Reason: Eligible}
}

// IsEligible is Evaluate reduced to a boolean
func IsEligible(item models.FeedItem, now time.Time, window time.Duration, existing map[string]bool) bool {
	return Evaluate(item, now, window, existing).Eligible()
}

// IsPlayableURL accepts absolute http(s) URLs that either end in a known
// video extension or match a known video host path pattern.
func IsPlayableURL(raw string) bool {
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}

	if videoExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}

	if pattern, ok := videoHostPatterns[strings.ToLower(u.Hostname())]; ok {
		return pattern.MatchString(u.Path)
	}

	return false
}
