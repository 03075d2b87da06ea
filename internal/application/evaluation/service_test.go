package evaluation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/redis"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/search/opensearch"
	"github.com/turtacn/NaturaCheck/internal/intelligence/opinion"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/internal/testutil"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Mocks
// ─────────────────────────────────────────────────────────────────────────────

type mockCache struct{ mock.Mock }

func (m *mockCache) GetOrLoad(ctx context.Context, fp string,
	load func(context.Context) (*eligibility.CaseVerdict, error)) (*eligibility.CaseVerdict, bool, error) {
	args := m.Called(ctx, fp)
	if v, ok := args.Get(0).(*eligibility.CaseVerdict); ok {
		return v, true, args.Error(2)
	}
	v, err := load(ctx)
	return v, false, err
}

func (m *mockCache) Set(ctx context.Context, fp string, v *eligibility.CaseVerdict) error {
	return m.Called(ctx, fp, v).Error(0)
}

func (m *mockCache) Purge(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockLocker struct{ mock.Mock }

func (m *mockLocker) Acquire(ctx context.Context, name string) (redis.Lock, error) {
	args := m.Called(ctx, name)
	l, _ := args.Get(0).(redis.Lock)
	return l, args.Error(1)
}

type mockLock struct{ mock.Mock }

func (m *mockLock) Unlock(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockLock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockLock) TTL(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}

type mockTexts struct{ mock.Mock }

func (m *mockTexts) Resolve(ctx context.Context, refs map[string]string) (map[string]string, error) {
	args := m.Called(ctx, refs)
	out, _ := args.Get(0).(map[string]string)
	return out, args.Error(1)
}

type mockIndex struct{ mock.Mock }

func (m *mockIndex) Index(ctx context.Context, doc opensearch.VerdictDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockIndex) Search(ctx context.Context, q opensearch.VerdictQuery) (*opensearch.VerdictSearchResult, error) {
	args := m.Called(ctx, q)
	r, _ := args.Get(0).(*opensearch.VerdictSearchResult)
	return r, args.Error(1)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func approvableCase(id string) eligibility.Case {
	return eligibility.Case{
		ID:          id,
		Track:       "provisional",
		Personal:    eligibility.PersonalData{BirthDate: "12/03/2012", ProcessDate: "10/01/2025"},
		OpinionText: "O requerente ingressou no território nacional antes de completar 10 anos de idade. Proposta: DEFERIMENTO.",
		Documents: testutil.Documents(
			testutil.DocLegalRepresentative,
			testutil.DocCRNM,
			testutil.DocResidenceProof,
			testutil.DocTravel,
		),
	}
}

type ServiceSuite struct {
	suite.Suite
	cache     *mockCache
	locker    *mockLocker
	lock      *mockLock
	texts     *mockTexts
	index     *mockIndex
	publisher *recordingPublisher
	log       *testutil.MockLogger
	svc       Service
}

func (s *ServiceSuite) SetupTest() {
	s.cache = new(mockCache)
	s.locker = new(mockLocker)
	s.lock = new(mockLock)
	s.texts = new(mockTexts)
	s.index = new(mockIndex)
	s.publisher = &recordingPublisher{}
	s.log = testutil.NewMockLogger()
	s.svc = NewService(catalog.MustDefault(), eligibility.DefaultPolicy(), Dependencies{
		Cache:     s.cache,
		Locker:    s.locker,
		Texts:     s.texts,
		Index:     s.index,
		Publisher: s.publisher,
	}, s.log, WithClock(clock), WithBatchConcurrency(2))
}

func (s *ServiceSuite) expectFreshRun(caseID string) {
	s.cache.On("GetOrLoad", mock.Anything, mock.Anything).Return(nil, false, nil).Once()
	s.locker.On("Acquire", mock.Anything, "case:"+caseID).Return(s.lock, nil).Once()
	s.lock.On("Unlock", mock.Anything).Return(nil).Once()
	s.index.On("Index", mock.Anything, mock.MatchedBy(func(d opensearch.VerdictDocument) bool {
		return d.CaseID == caseID
	})).Return(nil).Once()
}

func (s *ServiceSuite) TestEvaluate_FreshDecisionFansOut() {
	s.expectFreshRun("c-1")

	res, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: approvableCase("c-1"), RequestedBy: "u1"})
	s.Require().NoError(err)

	s.Equal(eligibility.Approve, res.Verdict.Eligibility)
	s.False(res.Cached)
	s.Equal(1, res.Revision)
	s.Len(res.Fingerprint, 64)
	s.NotEmpty(res.EvaluationID)

	s.Require().Len(s.publisher.msgs, 1)
	msg := s.publisher.msgs[0]
	s.Equal(kafka.TopicVerdictDecided, msg.Topic)
	s.Equal("c-1", string(msg.Key))

	env, err := kafka.MessageToEventEnvelope(&common.Message{Value: msg.Value})
	s.Require().NoError(err)
	var ev VerdictDecidedEvent
	s.Require().NoError(env.DecodePayload(&ev))
	s.Equal("approve", ev.Eligibility)
	s.Equal("u1", ev.RequestedBy)
	s.Equal(res.Fingerprint, ev.Fingerprint)

	rec, err := s.svc.GetVerdict(context.Background(), "c-1")
	s.Require().NoError(err)
	s.Equal(eligibility.Approve, rec.Verdict.Eligibility)

	s.cache.AssertExpectations(s.T())
	s.lock.AssertExpectations(s.T())
	s.index.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestEvaluate_CacheHitSkipsEngine() {
	cached := &eligibility.CaseVerdict{CaseID: "c-2", Eligibility: eligibility.ManualReview}
	s.cache.On("GetOrLoad", mock.Anything, mock.Anything).Return(cached, true, nil).Once()

	res, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: approvableCase("c-2")})
	s.Require().NoError(err)
	s.True(res.Cached)
	s.Same(cached, res.Verdict)
	s.Empty(s.publisher.msgs)
	s.locker.AssertNotCalled(s.T(), "Acquire", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestEvaluate_ForceBypassesCacheAndRefreshesIt() {
	s.locker.On("Acquire", mock.Anything, "case:c-3").Return(s.lock, nil)
	s.lock.On("Unlock", mock.Anything).Return(nil)
	s.index.On("Index", mock.Anything, mock.Anything).Return(nil)
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	res, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: approvableCase("c-3"), Force: true})
	s.Require().NoError(err)
	s.False(res.Cached)
	s.cache.AssertNotCalled(s.T(), "GetOrLoad", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestEvaluate_LockedCase() {
	s.cache.On("GetOrLoad", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.locker.On("Acquire", mock.Anything, "case:c-4").Return(nil, redis.ErrLockNotAcquired)

	_, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: approvableCase("c-4")})
	s.True(errors.IsCode(err, errors.ErrCodeCaseLocked))
	s.Empty(s.publisher.msgs)
}

func (s *ServiceSuite) TestEvaluate_IndexAndPublishFailuresAreLogged() {
	s.cache.On("GetOrLoad", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.locker.On("Acquire", mock.Anything, mock.Anything).Return(s.lock, nil)
	s.lock.On("Unlock", mock.Anything).Return(nil)
	s.index.On("Index", mock.Anything, mock.Anything).Return(errors.New(errors.ErrCodeSearchError, "down"))
	s.publisher.err = errors.New(errors.ErrCodeMessageQueue, "down")

	res, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: approvableCase("c-5")})
	s.Require().NoError(err)
	s.NotNil(res.Verdict)
	s.True(s.log.HasMessage("warn", "verdict indexing failed"))
	s.True(s.log.HasMessage("warn", "verdict event publish failed"))
}

func (s *ServiceSuite) TestEvaluate_ResolvesTextRefsUnderInline() {
	s.expectFreshRun("c-6")
	c := approvableCase("c-6")
	travel := c.Documents[testutil.DocTravel]
	delete(c.Documents, testutil.DocTravel)

	s.texts.On("Resolve", mock.Anything, map[string]string{testutil.DocTravel: "s3://texts/c-6/travel.txt"}).
		Return(map[string]string{testutil.DocTravel: travel}, nil).Once()

	res, err := s.svc.Evaluate(context.Background(), EvaluateRequest{
		Case: c,
		TextRefs: map[string]string{
			testutil.DocTravel: "s3://texts/c-6/travel.txt",
			testutil.DocCRNM:   "s3://texts/c-6/crnm.txt",
		},
	})
	s.Require().NoError(err)
	s.Equal(eligibility.Approve, res.Verdict.Eligibility)
	s.texts.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestEvaluate_TextStoreFailure() {
	s.texts.On("Resolve", mock.Anything, mock.Anything).Return(nil, errors.New(errors.ErrCodeTextNotFound, "gone"))

	_, err := s.svc.Evaluate(context.Background(), EvaluateRequest{
		Case:     approvableCase("c-7"),
		TextRefs: map[string]string{"CPF": "missing"},
	})
	s.True(errors.IsCode(err, errors.ErrCodeTextNotFound))
}

func (s *ServiceSuite) TestEvaluate_InvalidInput() {
	_, err := s.svc.Evaluate(context.Background(), EvaluateRequest{Case: eligibility.Case{Track: "provisional"}})
	s.True(errors.IsCode(err, errors.ErrCodeCaseInvalid))

	c := approvableCase("c-8")
	c.Track = "honorary"
	_, err = s.svc.Evaluate(context.Background(), EvaluateRequest{Case: c})
	s.True(errors.IsCode(err, errors.ErrCodeUnknownTrack))
}

func (s *ServiceSuite) TestEvaluateBatch_KeepsOrderAndIsolatesFailures() {
	s.cache.On("GetOrLoad", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.locker.On("Acquire", mock.Anything, mock.Anything).Return(s.lock, nil)
	s.lock.On("Unlock", mock.Anything).Return(nil)
	s.index.On("Index", mock.Anything, mock.Anything).Return(nil)

	bad := approvableCase("b-2")
	bad.Track = "unknown"
	items, err := s.svc.EvaluateBatch(context.Background(), []EvaluateRequest{
		{Case: approvableCase("b-1")},
		{Case: bad},
		{Case: approvableCase("b-3")},
	})
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.Equal("b-1", items[0].CaseID)
	s.NotNil(items[0].Result)
	s.Equal("CAT_003", items[1].Code)
	s.Nil(items[1].Result)
	s.Equal("b-3", items[2].Result.Verdict.CaseID)
}

func (s *ServiceSuite) TestEvaluateBatch_Cancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.svc.EvaluateBatch(ctx, []EvaluateRequest{{Case: approvableCase("x")}})
	s.ErrorIs(err, context.Canceled)
}

func (s *ServiceSuite) TestReload_PurgesCache() {
	s.cache.On("Purge", mock.Anything).Return(int64(3), nil).Once()

	policy := eligibility.DefaultPolicy()
	policy.ManualReview.Enabled = false
	s.Require().NoError(s.svc.Reload(context.Background(), catalog.MustDefault(), policy))
	s.True(s.log.HasMessage("info", "verdict cache purged"))
	s.cache.AssertExpectations(s.T())

	s.Error(s.svc.Reload(context.Background(), nil, policy))
}

func (s *ServiceSuite) TestSearchVerdicts_Delegates() {
	want := &opensearch.VerdictSearchResult{Total: 1}
	s.index.On("Search", mock.Anything, opensearch.VerdictQuery{Eligibility: "reject"}).Return(want, nil)

	got, err := s.svc.SearchVerdicts(context.Background(), opensearch.VerdictQuery{Eligibility: "reject"})
	s.Require().NoError(err)
	s.Same(want, got)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// ─────────────────────────────────────────────────────────────────────────────
// In-memory mode
// ─────────────────────────────────────────────────────────────────────────────

func newLocalService() Service {
	return NewService(catalog.MustDefault(), eligibility.DefaultPolicy(), Dependencies{}, nil, WithClock(clock))
}

func TestLocalService_RevisionsAndHistory(t *testing.T) {
	svc := newLocalService()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Evaluate(ctx, EvaluateRequest{Case: approvableCase("local-1")})
		require.NoError(t, err)
	}
	rec, err := svc.GetVerdict(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Revision)

	hist, err := svc.VerdictHistory(ctx, "local-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Revision)

	_, err = svc.GetVerdict(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))
}

// sharedCache loads once and then hands the same verdict to later callers
// without running their load, the way a singleflight follower sees it.
type sharedCache struct{ last *eligibility.CaseVerdict }

func (c *sharedCache) GetOrLoad(ctx context.Context, _ string,
	load func(context.Context) (*eligibility.CaseVerdict, error)) (*eligibility.CaseVerdict, bool, error) {
	if c.last != nil {
		return c.last, false, nil
	}
	v, err := load(ctx)
	c.last = v
	return v, false, err
}

func (c *sharedCache) Set(context.Context, string, *eligibility.CaseVerdict) error { return nil }
func (c *sharedCache) Purge(context.Context) (int64, error)                        { return 0, nil }

func TestEvaluate_SharedLoadCarriesRevision(t *testing.T) {
	svc := NewService(catalog.MustDefault(), eligibility.DefaultPolicy(),
		Dependencies{Cache: &sharedCache{}}, nil, WithClock(clock))
	ctx := context.Background()
	req := EvaluateRequest{Case: approvableCase("shared-1")}

	leader, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	follower, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)

	assert.False(t, leader.Cached)
	assert.Equal(t, 1, leader.Revision)

	assert.True(t, follower.Cached)
	assert.Same(t, leader.Verdict, follower.Verdict)
	assert.Equal(t, leader.Revision, follower.Revision)
	assert.Equal(t, leader.EvaluatedAt, follower.EvaluatedAt)
}

func TestLocalService_SearchUnavailable(t *testing.T) {
	_, err := newLocalService().SearchVerdicts(context.Background(), opensearch.VerdictQuery{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestLocalService_TextRefsWithoutStore(t *testing.T) {
	_, err := newLocalService().Evaluate(context.Background(), EvaluateRequest{
		Case:     approvableCase("x"),
		TextRefs: map[string]string{"CPF": "k"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestPassThroughs(t *testing.T) {
	svc := newLocalService()

	res := svc.ValidateDocument("cpf", testutil.DocumentTexts[testutil.DocCPF], time.Time{})
	assert.True(t, res.Valid)
	assert.Equal(t, "CPF", res.DocumentType)

	unknown := svc.ValidateDocument("boarding pass", "text", time.Time{})
	assert.Equal(t, termmatch.ReasonUnknownDocumentType, unknown.Reason)

	op, err := svc.AnalyzeOpinion("Sugere-se o indeferimento do pedido.", "")
	require.NoError(t, err)
	assert.Equal(t, opinion.DecisionReject, op.ProposedDecision)

	_, err = svc.AnalyzeOpinion("texto", "honorary")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownTrack))

	assert.Equal(t, catalog.DefaultLocation(), svc.LocationStrategy("boarding pass"))
	assert.NotEmpty(t, svc.Catalog().Version())
}

func TestFingerprint(t *testing.T) {
	policy := eligibility.DefaultPolicy()
	a := approvableCase("f")
	b := approvableCase("f")

	assert.Equal(t, Fingerprint(a, "v1", policy, fixedNow), Fingerprint(b, "v1", policy, fixedNow.Add(72*time.Hour)))
	assert.NotEqual(t, Fingerprint(a, "v1", policy, fixedNow), Fingerprint(a, "v2", policy, fixedNow))

	b.Documents[testutil.DocCRNM] = "changed"
	assert.NotEqual(t, Fingerprint(a, "v1", policy, fixedNow), Fingerprint(b, "v1", policy, fixedNow))

	a.Personal.ProcessDate = ""
	assert.NotEqual(t, Fingerprint(a, "v1", policy, fixedNow), Fingerprint(a, "v1", policy, fixedNow.Add(48*time.Hour)))
}

func TestRequestHandler(t *testing.T) {
	svc := newLocalService()
	handle := RequestHandler(svc, nil)

	env, err := kafka.NewEventEnvelope(kafka.EventEvaluationRequested, "portal", EvaluateRequest{Case: approvableCase("q-1")})
	require.NoError(t, err)
	msg, err := env.ToMessage(kafka.TopicEvaluationRequested, "q-1")
	require.NoError(t, err)

	require.NoError(t, handle(context.Background(), &common.Message{Topic: msg.Topic, Value: msg.Value}))
	rec, err := svc.GetVerdict(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, eligibility.Approve, rec.Verdict.Eligibility)

	wrong, _ := kafka.NewEventEnvelope(kafka.EventVerdictDecided, "x", map[string]string{})
	data, _ := json.Marshal(wrong)
	assert.True(t, errors.IsCode(handle(context.Background(), &common.Message{Value: data}), errors.ErrCodeValidation))

	assert.Error(t, handle(context.Background(), &common.Message{Value: []byte("{broken")}))
}
