package resume

import (
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/failure"
)

// AttemptRecord summarizes a finished attempt. It holds no instrument or token data.
type AttemptRecord struct {
	AttemptID  string       `json:"attempt_id"`
	State      State        `json:"state"`
	PaymentID  string       `json:"payment_id,omitempty"`
	ErrorKind  failure.Kind `json:"error_kind,omitempty"`
	ResumeHops int          `json:"resume_hops"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Journal provides thread-safe storage for attempt records.
type Journal struct {
	mu      sync.RWMutex
	records map[string]AttemptRecord
	order   []string
}

// NewJournal creates a new empty journal.
func NewJournal() *Journal {
	return &Journal{records: make(map[string]AttemptRecord)}
}

// Save stores a record.
func (j *Journal) Save(rec AttemptRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.records[rec.AttemptID]; !ok {
		j.order = append(j.order, rec.AttemptID)
	}
	j.records[rec.AttemptID] = rec
}

// Get retrieves a record by attempt ID.
func (j *Journal) Get(attemptID string) (AttemptRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	r, ok := j.records[attemptID]
	return r, ok
}

// Last returns the most recently finished attempt.
func (j *Journal) Last() (AttemptRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.order) == 0 {
		return AttemptRecord{}, false
	}
	return j.records[j.order[len(j.order)-1]], true
}

// Len returns the number of recorded attempts.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.order)
}
