package repositorycache

import (
	"context"
	"errors"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smartcache/cache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Interface assertion to ensure Store implements cache.Store
var _ cache.Store = (*Store)(nil)

// Store persists cache entries in a relational table through a go-repository-bun
// repository. Row identity is a UUID generated on insert.
type Store struct {
	repo   repository.Repository[*Record]
	logger zerolog.Logger
}

// New creates a Store on top of repo. Use NewRepository to build one from a *bun.DB.
func New(repo repository.Repository[*Record], logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger.With().Str("component", "RepositoryStore").Logger(),
	}
}

// NewFromDB is a shorthand for New(NewRepository(db), logger).
func NewFromDB(db *bun.DB, logger zerolog.Logger) *Store {
	return New(NewRepository(db), logger)
}

// FindLatest implements cache.Store. Rows are ordered by updated_at descending
// so duplicate (subject, source) rows resolve to the most recently written one.
func (s *Store) FindLatest(ctx context.Context, subjectID, source string) (cache.Entry, bool, error) {
	records, _, err := s.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("?TableAlias.subject_id = ?", subjectID).
			Where("?TableAlias.source = ?", source).
			OrderExpr("?TableAlias.updated_at DESC").
			OrderExpr("?TableAlias.id DESC").
			Limit(1)
	})
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("select %s for %s: %w", TableName, cache.EntryKey(subjectID, source), err)
	}
	if len(records) == 0 || records[0] == nil {
		return cache.Entry{}, false, nil
	}
	return records[0].toEntry(), true, nil
}

// Insert implements cache.Store.
func (s *Store) Insert(ctx context.Context, entry cache.Entry) (cache.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	record, err := toRecord(entry)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("insert into %s: invalid id %q: %w", TableName, entry.ID, err)
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("insert into %s: %w", TableName, err)
	}
	if created == nil {
		created = record
	}

	s.logger.Debug().Str("id", created.ID.String()).Str("key", cache.EntryKey(entry.SubjectID, entry.Source)).
		Msg("Inserted cache row.")
	return created.toEntry(), nil
}

// Update implements cache.Store. Only payload and updated_at are written; the
// repository scopes the statement to the primary key.
func (s *Store) Update(ctx context.Context, entry cache.Entry) error {
	if entry.ID == "" {
		return errors.New("update " + TableName + ": entry has no id")
	}
	record, err := toRecord(entry)
	if err != nil {
		return fmt.Errorf("update %s: invalid id %q: %w", TableName, entry.ID, err)
	}

	_, err = s.repo.Update(ctx, record, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Column("payload", "updated_at")
	})
	if err != nil {
		return fmt.Errorf("update %s row %s: %w", TableName, entry.ID, err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, filter cache.Filter) error {
	if filter.IsEmpty() {
		return cache.ErrEmptyFilter
	}

	err := s.repo.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		if filter.SubjectID != "" {
			q = q.Where("subject_id = ?", filter.SubjectID)
		}
		if filter.Source != "" {
			q = q.Where("source = ?", filter.Source)
		}
		if !filter.UpdatedBefore.IsZero() {
			q = q.Where("updated_at < ?", cache.Normalize(filter.UpdatedBefore))
		}
		return q
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", TableName, err)
	}
	return nil
}
