package repositorycache

import (
	"encoding/json"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-smartcache/cache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TableName is the relational table cache entries live in.
const TableName = "smart_cache"

// Record is the bun model of a cache entry row.
type Record struct {
	bun.BaseModel `bun:"table:smart_cache,alias:sc"`

	ID        uuid.UUID `json:"id" bun:"id,pk,type:uuid"`
	SubjectID string    `json:"subject_id" bun:"subject_id,notnull"`
	Source    string    `json:"source" bun:"source,notnull"`
	Payload   string    `json:"payload" bun:"payload,notnull"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,notnull"`
}

// Handlers returns the go-repository-bun model handlers for Record.
func Handlers() repository.ModelHandlers[*Record] {
	return repository.ModelHandlers[*Record]{
		NewRecord: func() *Record {
			return &Record{}
		},
		GetID: func(record *Record) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Record, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "subject_id"
		},
	}
}

// NewRepository builds the go-repository-bun repository backing a Store.
func NewRepository(db *bun.DB) repository.Repository[*Record] {
	return repository.NewRepository[*Record](db, Handlers())
}

func toRecord(e cache.Entry) (*Record, error) {
	id := uuid.Nil
	if e.ID != "" {
		parsed, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	return &Record{
		ID:        id,
		SubjectID: e.SubjectID,
		Source:    e.Source,
		Payload:   string(e.Payload),
		UpdatedAt: cache.Normalize(e.UpdatedAt),
	}, nil
}

func (r *Record) toEntry() cache.Entry {
	return cache.Entry{
		ID:        r.ID.String(),
		SubjectID: r.SubjectID,
		Source:    r.Source,
		Payload:   json.RawMessage(r.Payload),
		UpdatedAt: cache.Normalize(r.UpdatedAt),
	}
}
