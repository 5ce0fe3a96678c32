package worker

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JournalEntry is one event_journal row.
type JournalEntry struct {
	EventID    string    `gorm:"column:event_id;primaryKey"`
	Channel    string    `gorm:"column:channel"`
	Kind       string    `gorm:"column:kind"`
	KeyID      string    `gorm:"column:key_id"`
	TS         int64     `gorm:"column:ts"`
	Envelope   string    `gorm:"column:envelope;type:jsonb"`
	ReceivedAt time.Time `gorm:"column:received_at"`
}

func (JournalEntry) TableName() string {
	return "event_journal"
}

type Journal interface {
	// Append stores entry once; repeated event ids are ignored.
	Append(ctx context.Context, entry *JournalEntry) error
}

type SQLJournal struct {
	db *gorm.DB
}

func NewSQLJournal(db *gorm.DB) *SQLJournal {
	return &SQLJournal{db: db}
}

func (j *SQLJournal) dbWithContext(ctx context.Context) *gorm.DB {
	return j.db.WithContext(ctx)
}

func (j *SQLJournal) Append(ctx context.Context, entry *JournalEntry) error {
	return j.dbWithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(entry).Error
}

// MemoryJournal keeps entries in insertion order.
type MemoryJournal struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	entries []*JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{seen: make(map[string]struct{})}
}

func (j *MemoryJournal) Append(_ context.Context, entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.seen[entry.EventID]; ok {
		return nil
	}
	j.seen[entry.EventID] = struct{}{}
	cp := *entry
	j.entries = append(j.entries, &cp)
	return nil
}

func (j *MemoryJournal) Entries() []*JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*JournalEntry(nil), j.entries...)
}
