package entrystore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore is an EntryStore keeping one document per topic.
//
// Eviction relies on a Firestore TTL policy configured on the expiresAt
// field; Firestore deletes expired documents asynchronously, typically
// within 24 hours, so stale documents remain readable for a while after
// expiry. That matches the reader's degrade-to-stale policy.
//
// Suitable for low-volume deployments; use Redis where read traffic is high.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a store over an injected Firestore client. The
// client's lifecycle is managed by the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// GetEntry retrieves the document for key. A NotFound status maps to
// ErrEntryNotFound.
func (s *FirestoreStore) GetEntry(ctx context.Context, key string) (CacheEntry, error) {
	docRef := s.client.Collection(s.collectionName).Doc(key)
	docSnap, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return CacheEntry{}, ErrEntryNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return CacheEntry{}, &StoreError{Op: "get", Key: key, Err: err}
	}

	var entry CacheEntry
	if err := docSnap.DataTo(&entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return CacheEntry{}, &StoreError{Op: "get", Key: key, Err: fmt.Errorf("DataTo: %w", err)}
	}

	s.logger.Debug().Str("key", key).Msg("Firestore store hit.")
	return entry, nil
}

// PutEntry writes the document whole, replacing any prior document for the
// key in a single Set. The ttl argument is unused: Firestore evicts based on
// the entry's own expiresAt field via the collection's TTL policy.
func (s *FirestoreStore) PutEntry(ctx context.Context, entry CacheEntry, _ time.Duration) error {
	_, err := s.client.Collection(s.collectionName).Doc(entry.ID).Set(ctx, entry)
	if err != nil {
		s.logger.Error().Err(err).Str("key", entry.ID).Msg("Failed to write document to Firestore.")
		return &StoreError{Op: "put", Key: entry.ID, Err: err}
	}
	s.logger.Debug().Str("key", entry.ID).Msg("Successfully wrote entry to Firestore.")
	return nil
}

// DeleteEntry removes the document for key. Deleting an absent document is
// not an error in Firestore.
func (s *FirestoreStore) DeleteEntry(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collectionName).Doc(key).Delete(ctx); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to delete document from Firestore.")
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}
