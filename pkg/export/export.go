// Package export produces JSON archives of the cached reviews for
// offline analysis or backup, written locally or uploaded to
// S3-compatible storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseworks/reviewpulse/pkg/store"
)

// Archive is the exported document format.
type Archive struct {
	ExportedAt time.Time      `json:"exported_at"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Count      int            `json:"count"`
	Reviews    []store.Review `json:"reviews"`
}

// Uploader writes a finished archive somewhere durable.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// BuildArchive loads the cached reviews for the closed interval and
// serializes them with export metadata.
func BuildArchive(
	ctx context.Context, st store.Store, start, end time.Time,
) ([]byte, *Archive, error) {
	reviews, err := st.GetCachedReviews(ctx, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("loading reviews for export: %w", err)
	}

	archive := &Archive{
		ExportedAt: time.Now().UTC(),
		Start:      start,
		End:        end,
		Count:      len(reviews),
		Reviews:    reviews,
	}

	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("serializing archive: %w", err)
	}

	return data, archive, nil
}

// ArchiveKey returns the object key for an export covering the range.
func ArchiveKey(start, end time.Time) string {
	return fmt.Sprintf("reviews_%s_%s.json",
		start.Format("20060102"), end.Format("20060102"))
}
