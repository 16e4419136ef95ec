package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedScraper_FetchReviews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("start"))
			assert.NotEmpty(t, r.URL.Query().Get("end"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"platform":"ios","rating":5,"title":"Great","review_text":"Love it","date":"2025-01-03T10:00:00Z"},
				{"platform":"ios","rating":1,"title":"Bad","review_text":"Crashes","date":"2025-01-04T11:30:00Z"}
			]`))
		}))
	defer srv.Close()

	s := New(logrus.New(), map[string]string{"ios": srv.URL})

	reviews, err := s.FetchReviews(context.Background(), "ios",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	assert.Equal(t, "ios", reviews[0].Platform)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.Equal(t, "Love it", reviews[0].ReviewText)
	assert.Contains(t, reviews[0].RawData, `"title":"Great"`)
}

func TestFeedScraper_SkipsUndecodableEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[
				{"platform":"ios","rating":4,"title":"Ok","review_text":"Fine","date":"2025-01-03T10:00:00Z"},
				{"platform":"ios","rating":"five","review_text":"broken entry"}
			]`))
		}))
	defer srv.Close()

	s := New(logrus.New(), map[string]string{"ios": srv.URL})

	reviews, err := s.FetchReviews(context.Background(), "ios",
		time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Fine", reviews[0].ReviewText)
}

func TestFeedScraper_UnknownPlatform(t *testing.T) {
	s := New(logrus.New(), map[string]string{"ios": "http://localhost:0"})

	_, err := s.FetchReviews(context.Background(), "android",
		time.Now().AddDate(0, 0, -1), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feed configured")
}

func TestFeedScraper_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
	defer srv.Close()

	s := New(logrus.New(), map[string]string{"ios": srv.URL})

	_, err := s.FetchReviews(context.Background(), "ios",
		time.Now().AddDate(0, 0, -1), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
