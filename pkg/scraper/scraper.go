// Package scraper provides the HTTP adapter between the pipeline and
// the external review-feed service. Everything interesting about
// scraping, cleaning, and PII masking happens on the other side of that
// service; this adapter only fetches and decodes.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

// feedReview is the wire format served by the review feed.
type feedReview struct {
	Platform   string    `json:"platform"`
	Rating     int       `json:"rating"`
	Title      string    `json:"title"`
	ReviewText string    `json:"review_text"`
	Date       time.Time `json:"date"`
}

// FeedScraper fetches reviews from per-platform feed endpoints.
type FeedScraper struct {
	log    logrus.FieldLogger
	feeds  map[string]string
	client *http.Client
}

// New creates a scraper for the given platform-to-endpoint mapping.
func New(log logrus.FieldLogger, feeds map[string]string) *FeedScraper {
	return &FeedScraper{
		log:    log.WithField("component", "scraper"),
		feeds:  feeds,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// FetchReviews requests the platform's feed for the given closed range
// and converts the response into store records. The raw feed record is
// kept alongside each review for auditing.
func (f *FeedScraper) FetchReviews(
	ctx context.Context, platform string, start, end time.Time,
) ([]*store.Review, error) {
	endpoint, ok := f.feeds[platform]
	if !ok {
		return nil, fmt.Errorf("no feed configured for platform %q", platform)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url for %q: %w", platform, err)
	}

	q := u.Query()
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed for %q: %w", platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed for %q returned status %d",
			platform, resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding feed for %q: %w", platform, err)
	}

	reviews := make([]*store.Review, 0, len(raw))

	for _, entry := range raw {
		var fr feedReview
		if err := json.Unmarshal(entry, &fr); err != nil {
			f.log.WithError(err).
				WithField("platform", platform).
				Warn("Skipping undecodable feed entry")

			continue
		}

		reviews = append(reviews, &store.Review{
			Platform:   platform,
			Rating:     fr.Rating,
			Title:      fr.Title,
			ReviewText: fr.ReviewText,
			Date:       fr.Date,
			RawData:    string(entry),
		})
	}

	f.log.WithFields(logrus.Fields{
		"platform": platform,
		"count":    len(reviews),
	}).Debug("Feed fetched")

	return reviews, nil
}
