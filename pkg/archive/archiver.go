// Package archive writes point-in-time snapshots of refreshed cache entries
// to Google Cloud Storage, one compressed JSON object per refresh. The
// archive is an audit trail; failures here never affect the cache itself.
package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
)

// GCSArchiverConfig holds configuration for the snapshot archiver.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSArchiver stores each refreshed entry as a gzipped JSON object under
// <prefix>/<topic>/<uuid>.json.gz.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSArchiver creates a new archiver over the given client.
func NewGCSArchiver(client GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
	}, nil
}

// ArchiveEntry writes one snapshot object for the entry.
func (a *GCSArchiver) ArchiveEntry(ctx context.Context, entry entrystore.CacheEntry) error {
	a.wg.Add(1)
	defer a.wg.Done()

	objectName := path.Join(a.config.ObjectPrefix, entry.ID, fmt.Sprintf("%s.json.gz", uuid.NewString()))
	writer := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)

	gz := gzip.NewWriter(writer)
	encodeErr := json.NewEncoder(gz).Encode(entry)
	if err := gz.Close(); encodeErr == nil {
		encodeErr = err
	}
	closeErr := writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", objectName, encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize snapshot %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int("articles", len(entry.Articles)).
		Msg("Archived refreshed entry.")
	return nil
}

// Close waits for any in-flight archive writes to complete.
func (a *GCSArchiver) Close() error {
	a.wg.Wait()
	return nil
}
