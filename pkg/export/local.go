package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// localUploader implements Uploader by writing archives to a directory.
type localUploader struct {
	log logrus.FieldLogger
	dir string
}

// Compile-time interface check.
var _ Uploader = (*localUploader)(nil)

// NewLocalUploader creates an uploader that writes under dir.
func NewLocalUploader(log logrus.FieldLogger, dir string) Uploader {
	return &localUploader{
		log: log.WithField("component", "local-export"),
		dir: dir,
	}
}

// Upload writes the archive file, creating the directory if needed.
func (u *localUploader) Upload(
	_ context.Context, key string, data []byte,
) error {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	target := filepath.Join(u.dir, key)

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing archive %q: %w", target, err)
	}

	u.log.WithField("path", target).
		WithField("bytes", len(data)).
		Info("Archive written")

	return nil
}
