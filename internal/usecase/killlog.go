package usecase

import (
	"sync"

	"github.com/guardline/agent/internal/domain"
)

// killLogCap bounds the audit buffer.
const killLogCap = 100

// KillLog is an append-only ring buffer of kill records for audit/reporting.
type KillLog struct {
	mu      sync.Mutex
	records []domain.KillRecord
	next    int
	full    bool
}

// NewKillLog creates an empty kill log.
func NewKillLog() *KillLog {
	return &KillLog{records: make([]domain.KillRecord, killLogCap)}
}

// Append records one kill, overwriting the oldest entry when full.
func (l *KillLog) Append(rec domain.KillRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[l.next] = rec
	l.next = (l.next + 1) % killLogCap
	if l.next == 0 {
		l.full = true
	}
}

// Records returns the entries oldest-first.
func (l *KillLog) Records() []domain.KillRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]domain.KillRecord, l.next)
		copy(out, l.records[:l.next])
		return out
	}
	out := make([]domain.KillRecord, 0, killLogCap)
	out = append(out, l.records[l.next:]...)
	out = append(out, l.records[:l.next]...)
	return out
}
