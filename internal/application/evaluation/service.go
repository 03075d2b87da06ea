// Package evaluation is the application service around the eligibility
// engine. Transports and the worker call it; it resolves document texts,
// consults the verdict cache, serializes work per case and fans decided
// verdicts out to the store, the audit index and the event bus.
package evaluation

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/search/opensearch"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// EventSource is the source field of published envelopes.
const EventSource = "naturacheck"

// Service is the application API of the decision core.
type Service interface {
	Evaluate(ctx context.Context, req EvaluateRequest) (*Result, error)
	EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) ([]BatchItem, error)
	GetVerdict(ctx context.Context, caseID string) (*repositories.VerdictRecord, error)
	VerdictHistory(ctx context.Context, caseID string, limit int) ([]repositories.VerdictRecord, error)
	SearchVerdicts(ctx context.Context, q opensearch.VerdictQuery) (*opensearch.VerdictSearchResult, error)

	ValidateDocument(name, text string, ref time.Time) termmatch.ValidationResult
	AnalyzeOpinion(text, track string) (opinion.Result, error)
	LocationStrategy(name string) []catalog.LocationSource
	Catalog() *catalog.Catalog

	// Reload swaps the catalog and policy and drops cached verdicts.
	Reload(ctx context.Context, cat *catalog.Catalog, policy eligibility.Policy) error
}

// Option configures the service.
type Option func(*serviceImpl)

// WithMetrics records engine and backend metrics.
func WithMetrics(m *metrics.AppMetrics) Option {
	return func(s *serviceImpl) { s.metrics = m }
}

// WithBatchConcurrency bounds EvaluateBatch parallelism.
func WithBatchConcurrency(n int) Option {
	return func(s *serviceImpl) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock sets the clock shared with the engine fallback.
func WithClock(now func() time.Time) Option {
	return func(s *serviceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

type serviceImpl struct {
	engine atomic.Pointer[eligibility.Engine]
	deps   Dependencies

	metrics     *metrics.AppMetrics
	logger      logging.Logger
	now         func() time.Time
	concurrency int
}

// NewService creates the service over cat.
func NewService(cat *catalog.Catalog, policy eligibility.Policy, deps Dependencies, logger logging.Logger, opts ...Option) Service {
	s := &serviceImpl{
		deps:        deps,
		logger:      logging.OrNop(logger),
		now:         time.Now,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.Store == nil {
		s.deps.Store = newMemoryStore(s.now)
	}
	s.engine.Store(s.newEngine(cat, policy))
	return s
}

func (s *serviceImpl) newEngine(cat *catalog.Catalog, policy eligibility.Policy) *eligibility.Engine {
	return eligibility.NewEngine(cat,
		eligibility.WithPolicy(policy),
		eligibility.WithClock(s.now),
		eligibility.WithLogger(s.logger.Named("engine")),
	)
}

func (s *serviceImpl) Catalog() *catalog.Catalog { return s.engine.Load().Catalog() }

func (s *serviceImpl) Reload(ctx context.Context, cat *catalog.Catalog, policy eligibility.Policy) error {
	if cat == nil {
		return errors.InvalidParam("catalog is required")
	}
	prev := s.engine.Swap(s.newEngine(cat, policy))
	s.logger.Info("engine reloaded",
		logging.String("catalog_version", cat.Version()),
		logging.String("previous_version", prev.Catalog().Version()))

	if s.deps.Cache == nil {
		return nil
	}
	n, err := s.deps.Cache.Purge(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeUnknown, "failed to purge verdict cache")
	}
	s.logger.Info("verdict cache purged", logging.Int64("keys", n))
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Evaluate
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) Evaluate(ctx context.Context, req EvaluateRequest) (*Result, error) {
	c := req.Case
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return nil, errors.New(errors.ErrCodeCaseInvalid, "case id is required")
	}
	engine := s.engine.Load()
	if _, err := engine.Catalog().Track(c.Track); err != nil {
		return nil, err
	}

	docs, err := s.resolveTexts(ctx, c.Documents, req.TextRefs)
	if err != nil {
		return nil, err
	}
	c.Documents = docs

	res := &Result{
		EvaluationID: uuid.NewString(),
		Fingerprint:  Fingerprint(c, engine.Catalog().Version(), engine.Policy(), s.now()),
	}
	log := s.logger.With(logging.CaseID(c.ID), logging.String("evaluation_id", res.EvaluationID))

	ran := false
	load := func(ctx context.Context) (*eligibility.CaseVerdict, error) {
		ran = true
		return s.decide(ctx, engine, c, req, res, log)
	}

	var v *eligibility.CaseVerdict
	if s.deps.Cache == nil || req.Force {
		v, err = load(ctx)
		if err == nil && s.deps.Cache != nil {
			if setErr := s.deps.Cache.Set(ctx, res.Fingerprint, v); setErr != nil {
				log.Warn("verdict cache write failed", logging.Err(setErr))
			}
		}
	} else {
		v, res.Cached, err = s.deps.Cache.GetOrLoad(ctx, res.Fingerprint, load)
		metrics.RecordCacheAccess(s.metrics, res.Cached)
	}
	if err != nil {
		metrics.RecordError(s.metrics, "evaluation", errors.GetCode(err).String())
		return nil, err
	}

	res.Verdict = v
	if !ran {
		// Served from the cache or by a concurrent identical request.
		res.Cached = true
		s.attachRecord(ctx, c.ID, res, log)
	}
	if res.EvaluatedAt.IsZero() {
		res.EvaluatedAt = s.now().UTC()
	}
	return res, nil
}

// decide runs the engine under the case lock and records the verdict. Store
// failures fail the call; index and publish failures are logged.
// attachRecord copies the revision and evaluation time of the stored verdict
// with the same fingerprint onto res.
func (s *serviceImpl) attachRecord(ctx context.Context, caseID string, res *Result, log logging.Logger) {
	rec, err := s.deps.Store.Get(ctx, caseID)
	if err != nil {
		if !errors.IsNotFound(err) {
			log.Warn("stored verdict lookup failed", logging.Err(err))
		}
		return
	}
	if rec.Fingerprint == res.Fingerprint {
		res.Revision = rec.Revision
		res.EvaluatedAt = rec.EvaluatedAt
	}
}

func (s *serviceImpl) decide(ctx context.Context, engine *eligibility.Engine, c eligibility.Case,
	req EvaluateRequest, res *Result, log logging.Logger) (*eligibility.CaseVerdict, error) {

	if s.deps.Locker != nil {
		lock, err := s.deps.Locker.Acquire(ctx, "case:"+c.ID)
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeLockNotAcquired) {
				metrics.RecordLockContention(s.metrics)
				return nil, errors.New(errors.ErrCodeCaseLocked, "case is being evaluated").WithDetail(c.ID)
			}
			return nil, err
		}
		defer func() {
			// The request context may be gone; the lock must still go.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lock.Unlock(unlockCtx); err != nil {
				log.Warn("case lock release failed", logging.Err(err))
			}
		}()
	}

	start := time.Now()
	v, err := engine.Evaluate(c)
	if err != nil {
		return nil, err
	}
	s.recordEvaluation(v, time.Since(start))

	storeStart := time.Now()
	rec, err := s.deps.Store.Save(ctx, v, res.Fingerprint)
	metrics.RecordStoreOperation(s.metrics, "store", "save", time.Since(storeStart))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "failed to persist verdict")
	}
	res.Revision = rec.Revision
	res.EvaluatedAt = rec.EvaluatedAt

	if s.deps.Index != nil {
		indexStart := time.Now()
		if err := s.deps.Index.Index(ctx, opensearch.DocumentFromVerdict(v, rec.EvaluatedAt)); err != nil {
			log.Warn("verdict indexing failed", logging.Err(err))
			metrics.RecordError(s.metrics, "index", errors.GetCode(err).String())
		}
		metrics.RecordStoreOperation(s.metrics, "opensearch", "index", time.Since(indexStart))
	}

	s.publish(ctx, v, req, res, log)

	log.Info("case evaluated",
		logging.Track(v.Track),
		logging.Eligibility(string(v.Eligibility)),
		logging.Float64("completeness", v.CompletenessPercentage),
		logging.Int("revision", rec.Revision))
	return v, nil
}

func (s *serviceImpl) publish(ctx context.Context, v *eligibility.CaseVerdict, req EvaluateRequest, res *Result, log logging.Logger) {
	if s.deps.Publisher == nil {
		return
	}
	env, err := kafka.NewEventEnvelope(kafka.EventVerdictDecided, EventSource, VerdictDecidedEvent{
		EvaluationID:        res.EvaluationID,
		CaseID:              v.CaseID,
		Track:               v.Track,
		Eligibility:         string(v.Eligibility),
		Completeness:        v.CompletenessPercentage,
		JustificationSource: string(v.JustificationSource),
		MissingDocuments:    v.MissingDocuments,
		RejectionReasons:    v.RejectionReasons,
		WeakEvidence:        v.WeakEvidence,
		Fingerprint:         res.Fingerprint,
		Revision:            res.Revision,
		CatalogVersion:      v.CatalogVersion,
		RequestedBy:         req.RequestedBy,
	})
	if err != nil {
		log.Warn("failed to build verdict event", logging.Err(err))
		return
	}
	msg, err := env.ToMessage(kafka.TopicVerdictDecided, v.CaseID)
	if err != nil {
		log.Warn("failed to encode verdict event", logging.Err(err))
		return
	}
	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		log.Warn("verdict event publish failed", logging.Err(err))
		metrics.RecordMessage(s.metrics, kafka.TopicVerdictDecided, "failed")
		return
	}
	metrics.RecordMessage(s.metrics, kafka.TopicVerdictDecided, "published")
}

func (s *serviceImpl) recordEvaluation(v *eligibility.CaseVerdict, d time.Duration) {
	if s.metrics == nil {
		return
	}
	sample := metrics.EvaluationSample{
		Track:               v.Track,
		Eligibility:         string(v.Eligibility),
		JustificationSource: string(v.JustificationSource),
		Completeness:        v.CompletenessPercentage,
		Duration:            d,
		OpinionThreshold:    string(v.Opinion.AgeThreshold),
		OpinionDecision:     string(v.Opinion.ProposedDecision),
	}
	for _, f := range v.Findings {
		sample.Findings = append(sample.Findings, metrics.FindingSample{Code: f.Code, Severity: string(f.Severity)})
	}
	for _, doc := range v.Documents {
		if doc.Attached {
			sample.Documents = append(sample.Documents, metrics.DocumentSample{
				Type: doc.Name, Valid: doc.Result.Valid, Confidence: doc.Result.Confidence,
			})
		}
	}
	metrics.RecordEvaluation(s.metrics, sample)
}

// resolveTexts merges stored texts under the inline ones.
func (s *serviceImpl) resolveTexts(ctx context.Context, inline, refs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(inline)+len(refs))
	if len(refs) > 0 {
		if s.deps.Texts == nil {
			return nil, errors.New(errors.ErrCodeServiceUnavailable, "text references given but no text store is configured")
		}
		pending := make(map[string]string, len(refs))
		for name, ref := range refs {
			if _, ok := inline[name]; !ok {
				pending[name] = ref
			}
		}
		start := time.Now()
		texts, err := s.deps.Texts.Resolve(ctx, pending)
		metrics.RecordStoreOperation(s.metrics, "minio", "resolve", time.Since(start))
		if err != nil {
			return nil, err
		}
		for k, v := range texts {
			out[k] = v
		}
	}
	for k, v := range inline {
		out[k] = v
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch
// ─────────────────────────────────────────────────────────────────────────────

// EvaluateBatch decides every request with bounded parallelism. Per-case
// failures are reported in the item; only context cancellation fails the
// whole batch.
func (s *serviceImpl) EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) ([]BatchItem, error) {
	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i].CaseID = reqs[i].Case.ID
			res, err := s.Evaluate(gctx, reqs[i])
			if err != nil {
				items[i].Error = err.Error()
				items[i].Code = errors.GetCode(err).String()
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) GetVerdict(ctx context.Context, caseID string) (*repositories.VerdictRecord, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	return s.deps.Store.Get(ctx, caseID)
}

func (s *serviceImpl) VerdictHistory(ctx context.Context, caseID string, limit int) ([]repositories.VerdictRecord, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	return s.deps.Store.History(ctx, caseID, limit)
}

func (s *serviceImpl) SearchVerdicts(ctx context.Context, q opensearch.VerdictQuery) (*opensearch.VerdictSearchResult, error) {
	if s.deps.Index == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "verdict search is not configured")
	}
	return s.deps.Index.Search(ctx, q)
}

func (s *serviceImpl) ValidateDocument(name, text string, ref time.Time) termmatch.ValidationResult {
	res := s.engine.Load().Validator().ValidateAt(name, text, ref)
	if res.Reason != termmatch.ReasonUnknownDocumentType {
		metrics.RecordDocumentValidation(s.metrics, res.DocumentType, res.Valid, res.Confidence)
	}
	return res
}

// AnalyzeOpinion uses the threshold of track, or the default one when track
// is empty.
func (s *serviceImpl) AnalyzeOpinion(text, track string) (opinion.Result, error) {
	engine := s.engine.Load()
	var spec *catalog.TrackSpec
	if track != "" {
		t, err := engine.Catalog().Track(track)
		if err != nil {
			return opinion.Result{}, err
		}
		spec = t
	}
	return engine.AnalyzerFor(spec).Analyze(text), nil
}

func (s *serviceImpl) LocationStrategy(name string) []catalog.LocationSource {
	return s.engine.Load().Validator().ResolveLocationStrategy(name)
}
