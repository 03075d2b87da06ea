package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// CatalogClient reads the document catalog and checks single documents.
type CatalogClient struct {
	client *Client
}

// Get returns the loaded catalog.
func (c *CatalogClient) Get(ctx context.Context) (*CatalogSummary, error) {
	var out CatalogSummary
	if err := c.client.get(ctx, "/api/v1/catalog", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DocumentType returns one document type by name or alias.
func (c *CatalogClient) DocumentType(ctx context.Context, name string) (*DocumentType, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidParam("document type is required")
	}
	var out DocumentType
	if err := c.client.get(ctx, "/api/v1/catalog/documents/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Location returns where to look for a document inside a case file.
func (c *CatalogClient) Location(ctx context.Context, name string) (*Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidParam("document type is required")
	}
	var out Location
	if err := c.client.get(ctx, "/api/v1/catalog/documents/"+url.PathEscape(name)+"/location", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reload makes the server reread its catalog source.
func (c *CatalogClient) Reload(ctx context.Context) (*ReloadResult, error) {
	var out ReloadResult
	if err := c.client.post(ctx, "/api/v1/catalog/reload", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateDocument checks one extracted text. referenceDate is optional and
// anchors the recency rule.
func (c *CatalogClient) ValidateDocument(ctx context.Context, documentType, text, referenceDate string) (*ValidationResult, error) {
	if strings.TrimSpace(documentType) == "" {
		return nil, errors.InvalidParam("document type is required")
	}
	body := map[string]string{"document_type": documentType, "text": text}
	if referenceDate != "" {
		body["reference_date"] = referenceDate
	}
	var out ValidationResult
	if err := c.client.post(ctx, "/api/v1/documents/validate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeOpinion extracts what an analyst opinion proposes. track is
// optional and selects the age threshold.
func (c *CatalogClient) AnalyzeOpinion(ctx context.Context, text, track string) (*OpinionResult, error) {
	body := map[string]string{"text": text}
	if track != "" {
		body["track"] = track
	}
	var out OpinionResult
	if err := c.client.post(ctx, "/api/v1/opinions/analyze", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
