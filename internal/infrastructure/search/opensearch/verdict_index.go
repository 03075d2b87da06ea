package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// DefaultIndex is the verdict index name.
const DefaultIndex = "naturacheck-verdicts"

// VerdictDocument is the indexed projection of a verdict.
type VerdictDocument struct {
	CaseID              string    `json:"case_id"`
	Track               string    `json:"track"`
	Eligibility         string    `json:"eligibility"`
	Completeness        float64   `json:"completeness"`
	JustificationSource string    `json:"justification_source"`
	MissingDocuments    []string  `json:"missing_documents"`
	RejectionReasons    []string  `json:"rejection_reasons"`
	FindingCodes        []string  `json:"finding_codes"`
	Alerts              []string  `json:"alerts"`
	WeakEvidence        bool      `json:"weak_evidence"`
	CatalogVersion      string    `json:"catalog_version"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// DocumentFromVerdict projects v.
func DocumentFromVerdict(v *eligibility.CaseVerdict, at time.Time) VerdictDocument {
	codes := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		codes = append(codes, f.Code)
	}
	return VerdictDocument{
		CaseID:              v.CaseID,
		Track:               v.Track,
		Eligibility:         string(v.Eligibility),
		Completeness:        v.CompletenessPercentage,
		JustificationSource: string(v.JustificationSource),
		MissingDocuments:    v.MissingDocuments,
		RejectionReasons:    v.RejectionReasons,
		FindingCodes:        codes,
		Alerts:              v.Alerts,
		WeakEvidence:        v.WeakEvidence,
		CatalogVersion:      v.CatalogVersion,
		EvaluatedAt:         at.UTC(),
	}
}

// VerdictQuery filters a search. Empty fields do not filter.
type VerdictQuery struct {
	Text            string `json:"text,omitempty"`
	Track           string `json:"track,omitempty"`
	Eligibility     string `json:"eligibility,omitempty"`
	MissingDocument string `json:"missing_document,omitempty"`
	FindingCode     string `json:"finding_code,omitempty"`
	From            int    `json:"from,omitempty"`
	Size            int    `json:"size,omitempty"`
}

// VerdictSearchResult holds the hits and a per-eligibility breakdown.
type VerdictSearchResult struct {
	Total         int64             `json:"total"`
	Hits          []VerdictDocument `json:"hits"`
	ByEligibility map[string]int64  `json:"by_eligibility"`
}

// VerdictIndex writes and queries the verdict index.
type VerdictIndex struct {
	client *Client
	index  string
	logger logging.Logger
}

// NewVerdictIndex creates an index handle. An empty name uses DefaultIndex.
func NewVerdictIndex(client *Client, index string, logger logging.Logger) *VerdictIndex {
	if index == "" {
		index = DefaultIndex
	}
	return &VerdictIndex{client: client, index: index, logger: logging.OrNop(logger)}
}

// Name returns the index name.
func (x *VerdictIndex) Name() string { return x.index }

func verdictMapping() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 1,
			"analysis": map[string]interface{}{
				"analyzer": map[string]interface{}{
					"folded": map[string]interface{}{
						"type":      "custom",
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "asciifolding"},
					},
				},
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"case_id":              keyword,
				"track":                keyword,
				"eligibility":          keyword,
				"completeness":         map[string]interface{}{"type": "float"},
				"justification_source": keyword,
				"missing_documents":    keyword,
				"rejection_reasons":    map[string]interface{}{"type": "text", "analyzer": "folded"},
				"finding_codes":        keyword,
				"alerts":               map[string]interface{}{"type": "text", "analyzer": "folded"},
				"weak_evidence":        map[string]interface{}{"type": "boolean"},
				"catalog_version":      keyword,
				"evaluated_at":         map[string]interface{}{"type": "date"},
			},
		},
	}
}

// EnsureIndex creates the index with its mapping when missing.
func (x *VerdictIndex) EnsureIndex(ctx context.Context) error {
	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{x.index}}.Do(ctx, x.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "failed to check index")
	}
	resp.Body.Close()
	if resp.StatusCode == 200 {
		return nil
	}

	body, _ := json.Marshal(verdictMapping())
	resp, err = opensearchapi.IndicesCreateRequest{Index: x.index, Body: bytes.NewReader(body)}.Do(ctx, x.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "failed to create index")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return responseError(resp, "create index failed")
	}
	x.logger.Info("verdict index created", logging.String("index", x.index))
	return nil
}

// Index upserts doc under its case id.
func (x *VerdictIndex) Index(ctx context.Context, doc VerdictDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal verdict document")
	}
	resp, err := opensearchapi.IndexRequest{
		Index:      x.index,
		DocumentID: doc.CaseID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, x.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "index request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return responseError(resp, "index verdict failed")
	}
	return nil
}

// Delete removes the document of caseID. A missing document is not an error.
func (x *VerdictIndex) Delete(ctx context.Context, caseID string) error {
	resp, err := opensearchapi.DeleteRequest{Index: x.index, DocumentID: caseID}.Do(ctx, x.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "delete request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() && resp.StatusCode != 404 {
		return responseError(resp, "delete verdict failed")
	}
	return nil
}

func buildQuery(q VerdictQuery) map[string]interface{} {
	var must, filter []interface{}
	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"rejection_reasons^2", "alerts"},
			},
		})
	}
	term := func(field, value string) {
		if value != "" {
			filter = append(filter, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	term("track", q.Track)
	term("eligibility", q.Eligibility)
	term("missing_documents", q.MissingDocument)
	term("finding_codes", q.FindingCode)

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(boolQuery) > 0 {
		query = map[string]interface{}{"bool": boolQuery}
	}

	size := q.Size
	if size <= 0 || size > 500 {
		size = 20
	}
	return map[string]interface{}{
		"query": query,
		"from":  q.From,
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"evaluated_at": map[string]string{"order": "desc"}}},
		"aggs": map[string]interface{}{
			"by_eligibility": map[string]interface{}{"terms": map[string]interface{}{"field": "eligibility"}},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source VerdictDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		ByEligibility struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"by_eligibility"`
	} `json:"aggregations"`
}

// Search runs q against the index.
func (x *VerdictIndex) Search(ctx context.Context, q VerdictQuery) (*VerdictSearchResult, error) {
	body, err := json.Marshal(buildQuery(q))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query")
	}
	start := time.Now()
	resp, err := opensearchapi.SearchRequest{
		Index: []string{x.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, x.client.client)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeTimeout, "search request timed out")
		}
		return nil, errors.Wrap(err, errors.ErrCodeSearchError, "search request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, responseError(resp, "search failed")
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}
	out := &VerdictSearchResult{
		Total:         sr.Hits.Total.Value,
		Hits:          make([]VerdictDocument, 0, len(sr.Hits.Hits)),
		ByEligibility: make(map[string]int64, len(sr.Aggregations.ByEligibility.Buckets)),
	}
	for _, h := range sr.Hits.Hits {
		out.Hits = append(out.Hits, h.Source)
	}
	for _, b := range sr.Aggregations.ByEligibility.Buckets {
		out.ByEligibility[b.Key] = b.DocCount
	}
	x.logger.Debug("verdict search",
		logging.Int64("hits", out.Total),
		logging.Duration("took", time.Since(start)))
	return out, nil
}
