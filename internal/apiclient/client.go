// Package apiclient implements the backend HTTP contract consumed by
// the console: translation, schema-metadata management, and per-domain
// RAG file management.
//
// The client is deliberately thin: JSON in, JSON out, multipart for
// file bodies, one span per call. No retries (failures are terminal and
// surfaced to the caller) and no client-side timeout — the caller's
// context is the only cancellation path.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

// Client speaks the backend's HTTP/JSON contract. It implements
// contracts.TranslatorService, contracts.MetadataService and
// contracts.KnowledgeService.
type Client struct {
	base   string
	http   *http.Client
	tracer trace.Tracer
}

var (
	_ contracts.TranslatorService = (*Client)(nil)
	_ contracts.MetadataService   = (*Client)(nil)
	_ contracts.KnowledgeService  = (*Client)(nil)
)

// New creates a client for the backend at base (no trailing slash).
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		// No Timeout: the backend imposes its own limits and the
		// console never cancels an issued request.
		http:   &http.Client{},
		tracer: otel.Tracer("querytalk/apiclient"),
	}
}

// ── Translator ───────────────────────────────────────────────

// Translate sends POST /api/convert.
func (c *Client) Translate(ctx context.Context, req models.TranslateRequest) (*models.TranslateResponse, error) {
	var resp models.TranslateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/convert", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PipelineStatus sends GET /api/preprocessing/status.
func (c *Client) PipelineStatus(ctx context.Context) (*models.PipelineStatus, error) {
	var status models.PipelineStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/preprocessing/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TestPreprocess sends POST /api/preprocessing/test and unwraps the
// hybrid agent's trace from the response envelope.
func (c *Client) TestPreprocess(ctx context.Context, question string) (*models.PreprocessingTrace, error) {
	body := map[string]string{"query": question}
	var envelope struct {
		Hybrid json.RawMessage `json:"hybrid_preprocessing"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/preprocessing/test", body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Hybrid) == 0 {
		return nil, fmt.Errorf("preprocessing test returned no trace")
	}

	var hybrid struct {
		Available bool   `json:"available"`
		Error     string `json:"error"`
		Reason    string `json:"reason"`
		models.PreprocessingTrace
	}
	if err := json.Unmarshal(envelope.Hybrid, &hybrid); err != nil {
		return nil, fmt.Errorf("decode preprocessing trace: %w", err)
	}
	if hybrid.Error != "" {
		return nil, fmt.Errorf("preprocessing agent failed: %s", hybrid.Error)
	}
	if !hybrid.Available {
		reason := hybrid.Reason
		if reason == "" {
			reason = "agent unavailable"
		}
		return nil, fmt.Errorf("preprocessing unavailable: %s", reason)
	}
	tr := hybrid.PreprocessingTrace
	return &tr, nil
}

// ── Metadata ─────────────────────────────────────────────────

// Schema sends GET /api/metadata.
func (c *Client) Schema(ctx context.Context) (*models.SchemaSnapshot, error) {
	var snap models.SchemaSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/metadata", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListDocuments sends GET /api/metadata/list.
func (c *Client) ListDocuments(ctx context.Context) (*models.MetadataListing, error) {
	var listing models.MetadataListing
	if err := c.doJSON(ctx, http.MethodGet, "/api/metadata/list", nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// UploadDocument sends POST /api/metadata/upload as multipart.
func (c *Client) UploadDocument(ctx context.Context, filename string, content []byte) error {
	return c.doMultipart(ctx, "/api/metadata/upload", filename, content)
}

// ApplyDocument sends POST /api/metadata/apply.
func (c *Client) ApplyDocument(ctx context.Context, filename string) error {
	body := map[string]string{"filename": filename}
	return c.doJSON(ctx, http.MethodPost, "/api/metadata/apply", body, nil)
}

// DeleteDocument sends DELETE /api/metadata/delete/{filename}.
func (c *Client) DeleteDocument(ctx context.Context, filename string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/metadata/delete/"+url.PathEscape(filename), nil, nil)
}

// ── Knowledge ────────────────────────────────────────────────

// ListDomains sends GET /api/rag/domains.
func (c *Client) ListDomains(ctx context.Context) (*models.DomainListing, error) {
	var listing models.DomainListing
	if err := c.doJSON(ctx, http.MethodGet, "/api/rag/domains", nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListFiles sends GET /api/rag/files/{domain}.
func (c *Client) ListFiles(ctx context.Context, domain models.Domain) (*models.RagFileListing, error) {
	var listing models.RagFileListing
	if err := c.doJSON(ctx, http.MethodGet, "/api/rag/files/"+string(domain), nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// UploadFile sends POST /api/rag/upload/{domain} as multipart.
func (c *Client) UploadFile(ctx context.Context, domain models.Domain, filename string, content []byte) error {
	return c.doMultipart(ctx, "/api/rag/upload/"+string(domain), filename, content)
}

// DeleteFile sends DELETE /api/rag/delete/{domain}/{filename}.
func (c *Client) DeleteFile(ctx context.Context, domain models.Domain, filename string) error {
	path := "/api/rag/delete/" + string(domain) + "/" + url.PathEscape(filename)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// DownloadFile sends GET /api/rag/download/{domain}/{filename}.
func (c *Client) DownloadFile(ctx context.Context, domain models.Domain, filename string) (*models.RagFileContent, error) {
	path := "/api/rag/download/" + string(domain) + "/" + url.PathEscape(filename)
	var content models.RagFileContent
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// DomainStats sends GET /api/rag/stats?domain={domain}.
func (c *Client) DomainStats(ctx context.Context, domain models.Domain) (*models.DomainStats, error) {
	var stats models.DomainStats
	path := "/api/rag/stats?domain=" + url.QueryEscape(string(domain))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// AggregateStats sends GET /api/rag/stats.
func (c *Client) AggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	var stats models.AggregateStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/rag/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Search sends POST /api/rag/search.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/rag/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ── Internal ─────────────────────────────────────────────────

// doJSON issues one request with a JSON body (body may be nil) and
// decodes the response into out (out may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// doMultipart issues one POST with a single "file" part.
func (c *Client) doMultipart(ctx context.Context, path, filename string, content []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(req, nil)
}

// send executes the request, converts non-2xx responses into
// *contracts.BackendError with the backend's verbatim error text, and
// decodes the body.
func (c *Client) send(req *http.Request, out any) error {
	requestID := uuid.New().String()
	ctx, span := c.tracer.Start(req.Context(), "backend "+req.Method+" "+req.URL.Path,
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("request.id", requestID),
		))
	defer span.End()
	req = req.WithContext(ctx)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 300 {
		apiErr := &contracts.BackendError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
		}
		log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Msg("backend call failed")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
