package evaluation

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// memoryStore keeps verdict revisions in process. It backs the CLI and any
// deployment without a database.
type memoryStore struct {
	mu      sync.RWMutex
	history map[string][]repositories.VerdictRecord
	now     func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{history: make(map[string][]repositories.VerdictRecord), now: now}
}

func (m *memoryStore) Save(_ context.Context, v *eligibility.CaseVerdict, fingerprint string) (*repositories.VerdictRecord, error) {
	if v == nil || v.CaseID == "" {
		return nil, errors.New(errors.ErrCodeCaseInvalid, "verdict has no case id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := repositories.VerdictRecord{
		Verdict:     v,
		Fingerprint: fingerprint,
		Revision:    len(m.history[v.CaseID]) + 1,
		EvaluatedAt: m.now().UTC(),
	}
	m.history[v.CaseID] = append(m.history[v.CaseID], rec)
	return &rec, nil
}

func (m *memoryStore) Get(_ context.Context, caseID string) (*repositories.VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[caseID]
	if len(h) == 0 {
		return nil, errors.New(errors.ErrCodeVerdictNotFound, "verdict not found").WithDetail(caseID)
	}
	rec := h[len(h)-1]
	return &rec, nil
}

// History returns newest first.
func (m *memoryStore) History(_ context.Context, caseID string, limit int) ([]repositories.VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[caseID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]repositories.VerdictRecord, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
