package evaluation

import (
	"context"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/redis"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/search/opensearch"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// VerdictStore persists decided verdicts.
type VerdictStore interface {
	Save(ctx context.Context, v *eligibility.CaseVerdict, fingerprint string) (*repositories.VerdictRecord, error)
	Get(ctx context.Context, caseID string) (*repositories.VerdictRecord, error)
	History(ctx context.Context, caseID string, limit int) ([]repositories.VerdictRecord, error)
}

// VerdictCache memoizes verdicts by case fingerprint.
type VerdictCache interface {
	GetOrLoad(ctx context.Context, fingerprint string,
		load func(context.Context) (*eligibility.CaseVerdict, error)) (*eligibility.CaseVerdict, bool, error)
	Set(ctx context.Context, fingerprint string, v *eligibility.CaseVerdict) error
	Purge(ctx context.Context) (int64, error)
}

// CaseLocker serializes evaluations of one case across replicas.
type CaseLocker interface {
	Acquire(ctx context.Context, name string) (redis.Lock, error)
}

// TextResolver turns stored text references into extracted text.
type TextResolver interface {
	Resolve(ctx context.Context, refs map[string]string) (map[string]string, error)
}

// VerdictIndex is the searchable audit trail.
type VerdictIndex interface {
	Index(ctx context.Context, doc opensearch.VerdictDocument) error
	Search(ctx context.Context, q opensearch.VerdictQuery) (*opensearch.VerdictSearchResult, error)
}

// EventPublisher emits decision events.
type EventPublisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Dependencies groups the optional backends. Any nil field is skipped; a nil
// Store falls back to an in-process store.
type Dependencies struct {
	Store     VerdictStore
	Cache     VerdictCache
	Locker    CaseLocker
	Texts     TextResolver
	Index     VerdictIndex
	Publisher EventPublisher
}
