package anomaly

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"RTPSentinel/internal/model"
)

// Log is the append-only record of critical conditions detected during a run.
// Entries are never modified or removed except by Reset.
type Log struct {
	mu      sync.RWMutex
	records []model.AnomalyRecord
	now     func() time.Time
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append stores a record, filling in its ID and timestamp when missing, and
// returns the stored value.
func (l *Log) Append(rec model.AnomalyRecord) model.AnomalyRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.Kind == "" {
		rec.Kind = model.AnomalyOther
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return rec
}

// Records returns a copy of all records in the order they were appended.
func (l *Log) Records() []model.AnomalyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.AnomalyRecord, len(l.records))
	copy(out, l.records)
	return out
}

// CountByKind tallies records per kind.
func (l *Log) CountByKind() map[model.AnomalyKind]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[model.AnomalyKind]int)
	for _, r := range l.records {
		counts[r.Kind]++
	}
	return counts
}

// Reset discards every record.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}
