package cacheinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/goliatone/go-smartcache/cache"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultFirestoreCollection is the collection cache rows are written to.
const DefaultFirestoreCollection = "smart_cache"

// FirestoreConfig holds configuration for the Firestore record store.
type FirestoreConfig struct {
	ProjectID  string
	Collection string
}

// DefaultFirestoreConfig returns a config with the default collection and no project.
func DefaultFirestoreConfig() FirestoreConfig {
	return FirestoreConfig{Collection: DefaultFirestoreCollection}
}

// Validate checks the project and collection are set.
func (c FirestoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProjectID, validation.Required),
		validation.Field(&c.Collection, validation.Required),
	)
}

type firestoreDoc struct {
	SubjectID string    `firestore:"subjectId"`
	Source    string    `firestore:"source"`
	Payload   string    `firestore:"payload"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore keeps one document per cache row, keyed by the row id.
// Lookups need a composite index on (subjectId, source, updatedAt desc).
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ownsClient bool
	logger     zerolog.Logger
}

var _ cache.Store = (*FirestoreStore)(nil)

// NewFirestoreStore creates a Firestore client for cfg.ProjectID and wraps it.
// The client is closed by Close.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig, logger zerolog.Logger, opts ...option.ClientOption) (*FirestoreStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid firestore config: %w", err)
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	s, err := NewFirestoreStoreFromClient(client, cfg.Collection, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.Collection).Msg("FirestoreStore initialized.")
	return s, nil
}

// NewFirestoreStoreFromClient wraps an externally managed client.
func NewFirestoreStoreFromClient(client *firestore.Client, collection string, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collection == "" {
		collection = DefaultFirestoreCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) rows() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// FindLatest implements cache.Store.
func (s *FirestoreStore) FindLatest(ctx context.Context, subjectID, source string) (cache.Entry, bool, error) {
	iter := s.rows().
		Where("subjectId", "==", subjectID).
		Where("source", "==", source).
		OrderBy("updatedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("firestore query for %s: %w", cache.EntryKey(subjectID, source), err)
	}

	entry, err := docToEntry(snap)
	if err != nil {
		return cache.Entry{}, false, err
	}
	return entry, true, nil
}

// Insert implements cache.Store. Create fails if the id is already taken.
func (s *FirestoreStore) Insert(ctx context.Context, entry cache.Entry) (cache.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UpdatedAt = cache.Normalize(entry.UpdatedAt)
	entry.Payload = append(json.RawMessage(nil), entry.Payload...)

	_, err := s.rows().Doc(entry.ID).Create(ctx, firestoreDoc{
		SubjectID: entry.SubjectID,
		Source:    entry.Source,
		Payload:   string(entry.Payload),
		UpdatedAt: entry.UpdatedAt,
	})
	if err != nil {
		return cache.Entry{}, fmt.Errorf("firestore create for %s: %w", entry.ID, err)
	}

	s.logger.Debug().Str("id", entry.ID).Str("key", cache.EntryKey(entry.SubjectID, entry.Source)).Msg("Inserted cache row.")
	return entry, nil
}

// Update implements cache.Store. Updating a missing document fails.
func (s *FirestoreStore) Update(ctx context.Context, entry cache.Entry) error {
	if entry.ID == "" {
		return errors.New("firestore update: entry has no id")
	}
	_, err := s.rows().Doc(entry.ID).Update(ctx, []firestore.Update{
		{Path: "payload", Value: string(entry.Payload)},
		{Path: "updatedAt", Value: cache.Normalize(entry.UpdatedAt)},
	})
	if err != nil {
		return fmt.Errorf("firestore update for %s: %w", entry.ID, err)
	}
	return nil
}

// Delete implements cache.Store. Documents vanishing between the query and
// the delete are ignored.
func (s *FirestoreStore) Delete(ctx context.Context, filter cache.Filter) error {
	if filter.IsEmpty() {
		return cache.ErrEmptyFilter
	}

	q := s.rows().Query
	if filter.SubjectID != "" {
		q = q.Where("subjectId", "==", filter.SubjectID)
	}
	if filter.Source != "" {
		q = q.Where("source", "==", filter.Source)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updatedAt", "<", cache.Normalize(filter.UpdatedBefore))
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	deleted := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore delete query: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("firestore delete for %s: %w", snap.Ref.ID, err)
		}
		deleted++
	}

	s.logger.Debug().Int("deleted", deleted).Str("subject_id", filter.SubjectID).Str("source", filter.Source).
		Msg("Deleted cache rows.")
	return nil
}

// Close closes the client when the store created it.
func (s *FirestoreStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func docToEntry(snap *firestore.DocumentSnapshot) (cache.Entry, error) {
	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return cache.Entry{}, fmt.Errorf("firestore DataTo for %s: %w", snap.Ref.ID, err)
	}
	return cache.Entry{
		ID:        snap.Ref.ID,
		SubjectID: doc.SubjectID,
		Source:    doc.Source,
		Payload:   json.RawMessage(doc.Payload),
		UpdatedAt: cache.Normalize(doc.UpdatedAt),
	}, nil
}
