package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// CasesClient evaluates cases and reads verdicts.
type CasesClient struct {
	client *Client
}

// Evaluate runs one case through the engine.
func (c *CasesClient) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluationResult, error) {
	if req == nil || strings.TrimSpace(req.Case.ID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	var out EvaluationResult
	if err := c.client.post(ctx, "/api/v1/cases/evaluate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateBatch runs several cases. Per-case failures are reported in the
// items, not as an error.
func (c *CasesClient) EvaluateBatch(ctx context.Context, reqs []EvaluateRequest) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, errors.InvalidParam("at least one case is required")
	}
	var out BatchResult
	body := struct {
		Cases []EvaluateRequest `json:"cases"`
	}{Cases: reqs}
	if err := c.client.post(ctx, "/api/v1/cases/evaluate/batch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verdict returns the latest verdict of caseID.
func (c *CasesClient) Verdict(ctx context.Context, caseID string) (*VerdictRecord, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	var out VerdictRecord
	if err := c.client.get(ctx, "/api/v1/verdicts/"+url.PathEscape(caseID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns up to limit verdict revisions of caseID, newest first.
// A non-positive limit uses the server default.
func (c *CasesClient) History(ctx context.Context, caseID string, limit int) ([]VerdictRecord, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.InvalidParam("case id is required")
	}
	path := "/api/v1/verdicts/" + url.PathEscape(caseID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []VerdictRecord
	if err := c.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search queries indexed verdicts.
func (c *CasesClient) Search(ctx context.Context, q VerdictQuery) (*VerdictSearchResult, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("q", q.Text)
	set("track", q.Track)
	set("eligibility", q.Eligibility)
	set("missing_document", q.MissingDocument)
	set("finding_code", q.FindingCode)
	if q.From > 0 {
		v.Set("from", strconv.Itoa(q.From))
	}
	if q.Size > 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}

	path := "/api/v1/verdicts/search"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}
	var out VerdictSearchResult
	if err := c.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
