package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/bootstrap"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/pkg/client"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// Backend is what the commands run against. Results use the SDK types so
// both implementations print the same way.
type Backend interface {
	Evaluate(ctx context.Context, req client.EvaluateRequest) (*client.EvaluationResult, error)
	Verdict(ctx context.Context, caseID string) (*client.VerdictRecord, error)
	History(ctx context.Context, caseID string, limit int) ([]client.VerdictRecord, error)
	ValidateDocument(ctx context.Context, documentType, text, referenceDate string) (*client.ValidationResult, error)
	AnalyzeOpinion(ctx context.Context, text, track string) (*client.OpinionResult, error)
	Catalog(ctx context.Context) (*client.CatalogSummary, error)
	DocumentType(ctx context.Context, name string) (*client.DocumentType, error)
	Location(ctx context.Context, name string) (*client.Location, error)
	Remote() bool
}

func newBackend(cfg *config.Config, serverAddr, token string, logger logging.Logger) (Backend, error) {
	if serverAddr != "" {
		c, err := client.NewClient(serverAddr, token, client.WithUserAgent("naturacheck-cli/"+Version))
		if err != nil {
			return nil, err
		}
		return &remoteBackend{c: c}, nil
	}

	cat, err := bootstrap.LoadCatalog(cfg.Eligibility.CatalogPath)
	if err != nil {
		return nil, err
	}
	svc := evaluation.NewService(cat, cfg.Eligibility.Policy, evaluation.Dependencies{}, logger,
		evaluation.WithBatchConcurrency(cfg.Eligibility.BatchConcurrency))
	return NewLocalBackend(svc), nil
}

// recodeTo converts src into a new T sharing its JSON shape.
func recodeTo[T any](src interface{}) (*T, error) {
	var out T
	if err := recode(src, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// recode converts between types that share a JSON shape.
func recode(src, dst interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode result")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode result")
	}
	return nil
}

// localBackend runs the engine in-process with an in-memory verdict store.
type localBackend struct {
	svc evaluation.Service
}

// NewLocalBackend wraps svc.
func NewLocalBackend(svc evaluation.Service) Backend {
	return &localBackend{svc: svc}
}

func (b *localBackend) Remote() bool { return false }

func (b *localBackend) Evaluate(ctx context.Context, req client.EvaluateRequest) (*client.EvaluationResult, error) {
	var in evaluation.EvaluateRequest
	if err := recode(req, &in); err != nil {
		return nil, err
	}
	res, err := b.svc.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	return recodeTo[client.EvaluationResult](res)
}

func (b *localBackend) Verdict(ctx context.Context, caseID string) (*client.VerdictRecord, error) {
	rec, err := b.svc.GetVerdict(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return recodeTo[client.VerdictRecord](rec)
}

func (b *localBackend) History(ctx context.Context, caseID string, limit int) ([]client.VerdictRecord, error) {
	recs, err := b.svc.VerdictHistory(ctx, caseID, limit)
	if err != nil {
		return nil, err
	}
	out, err := recodeTo[[]client.VerdictRecord](recs)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (b *localBackend) ValidateDocument(_ context.Context, documentType, text, referenceDate string) (*client.ValidationResult, error) {
	var ref time.Time
	if referenceDate != "" {
		t, err := dates.Parse(referenceDate)
		if err != nil {
			return nil, err
		}
		ref = t
	}
	res := b.svc.ValidateDocument(documentType, text, ref)
	if res.Reason == termmatch.ReasonUnknownDocumentType {
		return nil, errors.New(errors.ErrCodeUnknownDocumentType, "unknown document type").WithDetail(documentType)
	}
	return recodeTo[client.ValidationResult](res)
}

func (b *localBackend) AnalyzeOpinion(_ context.Context, text, track string) (*client.OpinionResult, error) {
	res, err := b.svc.AnalyzeOpinion(text, track)
	if err != nil {
		return nil, err
	}
	return recodeTo[client.OpinionResult](res)
}

func (b *localBackend) Catalog(context.Context) (*client.CatalogSummary, error) {
	cat := b.svc.Catalog()
	out := &client.CatalogSummary{Version: cat.Version()}
	if err := recode(cat.Tracks(), &out.Tracks); err != nil {
		return nil, err
	}
	for _, t := range cat.Types() {
		out.DocumentTypes = append(out.DocumentTypes, client.DocumentTypeInfo{
			Name:       t.Name,
			Aliases:    t.Aliases,
			LengthOnly: t.LengthOnly,
			MaxAgeDays: t.MaxAgeDays,
			Variants:   len(t.Variants),
		})
	}
	return out, nil
}

func (b *localBackend) DocumentType(_ context.Context, name string) (*client.DocumentType, error) {
	spec, err := b.svc.Catalog().Lookup(name)
	if err != nil {
		return nil, err
	}
	return recodeTo[client.DocumentType](spec)
}

func (b *localBackend) Location(_ context.Context, name string) (*client.Location, error) {
	_, err := b.svc.Catalog().Lookup(name)
	out := &client.Location{DocumentType: name, Known: err == nil}
	for _, src := range b.svc.LocationStrategy(name) {
		out.Location = append(out.Location, string(src))
	}
	return out, nil
}

// remoteBackend calls a NaturaCheck API server.
type remoteBackend struct {
	c *client.Client
}

func (b *remoteBackend) Remote() bool { return true }

func (b *remoteBackend) Evaluate(ctx context.Context, req client.EvaluateRequest) (*client.EvaluationResult, error) {
	return b.c.Cases().Evaluate(ctx, &req)
}

func (b *remoteBackend) Verdict(ctx context.Context, caseID string) (*client.VerdictRecord, error) {
	return b.c.Cases().Verdict(ctx, caseID)
}

func (b *remoteBackend) History(ctx context.Context, caseID string, limit int) ([]client.VerdictRecord, error) {
	return b.c.Cases().History(ctx, caseID, limit)
}

func (b *remoteBackend) ValidateDocument(ctx context.Context, documentType, text, referenceDate string) (*client.ValidationResult, error) {
	return b.c.Catalog().ValidateDocument(ctx, documentType, text, referenceDate)
}

func (b *remoteBackend) AnalyzeOpinion(ctx context.Context, text, track string) (*client.OpinionResult, error) {
	return b.c.Catalog().AnalyzeOpinion(ctx, text, track)
}

func (b *remoteBackend) Catalog(ctx context.Context) (*client.CatalogSummary, error) {
	return b.c.Catalog().Get(ctx)
}

func (b *remoteBackend) DocumentType(ctx context.Context, name string) (*client.DocumentType, error) {
	return b.c.Catalog().DocumentType(ctx, name)
}

func (b *remoteBackend) Location(ctx context.Context, name string) (*client.Location, error) {
	return b.c.Catalog().Location(ctx, name)
}

var (
	_ Backend = (*localBackend)(nil)
	_ Backend = (*remoteBackend)(nil)
)
