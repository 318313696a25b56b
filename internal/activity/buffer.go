package activity

import (
	"sync"

	"github.com/Ning0612/submitguard/internal/domain"
)

// Buffer holds records in arrival order until the next flush
type Buffer struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

// Append adds a record at the end
func (b *Buffer) Append(r domain.EventRecord) {
	b.mu.Lock()
	b.records = append(b.records, r)
	b.mu.Unlock()
}

// Drain returns every buffered record and empties the buffer
func (b *Buffer) Drain() []domain.EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.records
	b.records = nil
	return out
}

// Requeue puts a batch that could not be written back in front of anything
// appended since it was drained.
func (b *Buffer) Requeue(batch []domain.EventRecord) {
	if len(batch) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]domain.EventRecord, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)
	b.records = merged
}

// Len returns the number of buffered records
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
