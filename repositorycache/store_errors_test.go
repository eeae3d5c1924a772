package repositorycache_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smartcache/cache"
	"github.com/goliatone/go-smartcache/repositorycache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingRepository overrides the methods Store uses and records calls. Any
// other method panics through the nil embedded interface.
type failingRepository struct {
	repository.Repository[*repositorycache.Record]

	mu    sync.Mutex
	calls []string
	err   error
}

func (m *failingRepository) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

func (m *failingRepository) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *failingRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]*repositorycache.Record, int, error) {
	m.recordCall("List")
	return nil, 0, m.err
}

func (m *failingRepository) Create(ctx context.Context, record *repositorycache.Record, criteria ...repository.InsertCriteria) (*repositorycache.Record, error) {
	m.recordCall("Create")
	return nil, m.err
}

func (m *failingRepository) Update(ctx context.Context, record *repositorycache.Record, criteria ...repository.UpdateCriteria) (*repositorycache.Record, error) {
	m.recordCall("Update")
	return nil, m.err
}

func (m *failingRepository) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteWhere")
	return m.err
}

func TestStore_RepositoryErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("connection reset")
	repo := &failingRepository{err: dbErr}
	s := repositorycache.New(repo, zerolog.Nop())

	_, _, err := s.FindLatest(ctx, "p1", "priceApi")
	assert.ErrorIs(t, err, dbErr)

	_, err = s.Insert(ctx, cache.Entry{SubjectID: "p1", Source: "priceApi", Payload: json.RawMessage(`1`), UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, dbErr)

	err = s.Update(ctx, cache.Entry{ID: uuid.NewString(), Payload: json.RawMessage(`1`), UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, dbErr)

	err = s.Delete(ctx, cache.Filter{SubjectID: "p1"})
	assert.ErrorIs(t, err, dbErr)

	assert.Equal(t, []string{"List", "Create", "Update", "DeleteWhere"}, repo.getCalls())
}

func TestStore_EmptyFilterNeverReachesRepository(t *testing.T) {
	repo := &failingRepository{}
	s := repositorycache.New(repo, zerolog.Nop())

	err := s.Delete(context.Background(), cache.Filter{})
	require.ErrorIs(t, err, cache.ErrEmptyFilter)
	assert.Empty(t, repo.getCalls())
}

func TestStore_ReadFailureClassifiedByCache(t *testing.T) {
	dbErr := errors.New("connection reset")
	s := repositorycache.New(&failingRepository{err: dbErr}, zerolog.Nop())
	rt, err := cache.New(s, cache.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	fetched := false
	_, err = cache.GetOrFetch(context.Background(), rt, "p1", "priceApi", func(context.Context) (int, error) {
		fetched = true
		return 1, nil
	})
	require.Error(t, err)
	assert.True(t, cache.IsStoreRead(err))
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, fetched)
}
