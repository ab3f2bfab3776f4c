// Package contracts defines the service interfaces the console's stores
// depend on. The concrete implementation is internal/apiclient, which
// speaks the backend's HTTP/JSON contract; tests substitute fakes.
//
// The stores accept these interfaces and return models structs, so the
// transport can be swapped without touching store logic.
package contracts

import (
	"context"
	"fmt"

	"github.com/querytalk/querytalk/pkg/models"
)

// BackendError carries the backend-reported error text for a failed
// call. Message is verbatim what the backend put in its "error" field,
// so stores can surface it to the user unchanged; it is empty when the
// backend sent no JSON error body.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// ── Translator Service ──────────────────────────────────────

// TranslatorService converts natural-language questions into SQL.
type TranslatorService interface {
	// Translate sends a question (optionally scoped to a RAG domain)
	// and returns the generated SQL plus the preprocessing trace.
	Translate(ctx context.Context, req models.TranslateRequest) (*models.TranslateResponse, error)

	// PipelineStatus reports whether the preprocessing agent is loaded.
	PipelineStatus(ctx context.Context) (*models.PipelineStatus, error)

	// TestPreprocess dry-runs the preprocessing pipeline without
	// generating SQL. The returned trace feeds the same viewer as a
	// full translation.
	TestPreprocess(ctx context.Context, question string) (*models.PreprocessingTrace, error)
}

// ── Metadata Service ────────────────────────────────────────

// MetadataService manages uploaded schema-metadata documents and the
// single active pointer. All mutations are server-authoritative: the
// store re-fetches the listing after every call instead of mutating
// local state.
type MetadataService interface {
	// Schema fetches the snapshot for the currently active document.
	Schema(ctx context.Context) (*models.SchemaSnapshot, error)

	// ListDocuments fetches the document list and the active pointer.
	ListDocuments(ctx context.Context) (*models.MetadataListing, error)

	// UploadDocument sends a spreadsheet as a multipart body.
	UploadDocument(ctx context.Context, filename string, content []byte) error

	// ApplyDocument activates filename, implicitly deactivating the
	// previous active document.
	ApplyDocument(ctx context.Context, filename string) error

	// DeleteDocument removes filename. What becomes active afterwards
	// is the backend's decision.
	DeleteDocument(ctx context.Context, filename string) error
}

// ── Knowledge Service ───────────────────────────────────────

// KnowledgeService manages per-domain RAG reference documents and the
// retrieval statistics view.
type KnowledgeService interface {
	// ListDomains fetches the domain key → label map.
	ListDomains(ctx context.Context) (*models.DomainListing, error)

	// ListFiles fetches the file listing for one domain.
	ListFiles(ctx context.Context, domain models.Domain) (*models.RagFileListing, error)

	// UploadFile sends a reference document as a multipart body.
	UploadFile(ctx context.Context, domain models.Domain, filename string, content []byte) error

	// DeleteFile removes a file from a domain.
	DeleteFile(ctx context.Context, domain models.Domain, filename string) error

	// DownloadFile fetches a file's content.
	DownloadFile(ctx context.Context, domain models.Domain, filename string) (*models.RagFileContent, error)

	// DomainStats fetches statistics for one domain.
	DomainStats(ctx context.Context, domain models.Domain) (*models.DomainStats, error)

	// AggregateStats fetches the all-domain breakdown plus grand total.
	AggregateStats(ctx context.Context) (*models.AggregateStats, error)

	// Search retrieves the most relevant chunks for a question.
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}
