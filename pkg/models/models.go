// Package models defines the shared data model for the QueryTalk console:
// the conversation transcript, the preprocessing trace produced by the
// NL→SQL backend, schema-metadata documents, and per-domain RAG files.
//
// Wire-facing types carry JSON tags matching the backend's snake_case
// payloads (upload_date, sql_mapping, preprocessing_metadata, ...).
package models

import "time"

// ── Conversation ─────────────────────────────────────────────

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is a single transcript entry. Messages are immutable once
// appended; the transcript only grows for the lifetime of the session.
type Message struct {
	// ID is a monotonic ULID issued under the transcript lock, so
	// lexicographic order equals append order.
	ID        string              `json:"id"`
	Role      Role                `json:"role"`
	Text      string              `json:"text"`
	CreatedAt time.Time           `json:"created_at"`
	SQL       string              `json:"sql,omitempty"`
	Trace     *PreprocessingTrace `json:"preprocessing,omitempty"`
	IsError   bool                `json:"is_error,omitempty"`
}

// ── Preprocessing Trace ──────────────────────────────────────

// PreprocessingTrace is the backend pipeline's self-reported record of
// how a question was normalized, entity-tagged, clause-segmented and
// pattern-mapped before SQL generation.
//
// Every field except OriginalQuery is optional: the payload comes from
// an external pipeline and may omit fields, send null, or send shapes
// this layer does not model. Consumers must degrade gracefully instead
// of trusting the structure (see traceview.SafeDisplay).
type PreprocessingTrace struct {
	OriginalQuery   string         `json:"original_query"`
	NormalizedQuery *string        `json:"normalized_query,omitempty"`
	MappedQuery     *string        `json:"mapped_query,omitempty"`
	Entities        *EntityGroups  `json:"entities,omitempty"`
	Clauses         []Clause       `json:"clauses,omitempty"`
	ReasoningChain  []any          `json:"reasoning_chain,omitempty"`
	SQLMappings     map[string]any `json:"sql_mappings,omitempty"`
	Summary         *TraceSummary  `json:"preprocessing_metadata,omitempty"`
}

// EntityGroups buckets extracted entities by the pipeline's categories.
type EntityGroups struct {
	DomainTerms   []Entity `json:"domain_terms,omitempty"`
	NumericValues []Entity `json:"numeric_values,omitempty"`
	CustomerTypes []string `json:"customer_types,omitempty"`
}

// Entity is one extracted term. Label is Term when set, else Value;
// both may be empty.
type Entity struct {
	Term       string `json:"term,omitempty"`
	Value      string `json:"value,omitempty"`
	Category   string `json:"category,omitempty"`
	Type       string `json:"type,omitempty"`
	SQLMapping string `json:"sql_mapping,omitempty"`
	Table      string `json:"table,omitempty"`
}

// Label returns the display label for the entity. An empty result is a
// known cosmetic gap in the upstream payload, not an error.
func (e Entity) Label() string {
	if e.Term != "" {
		return e.Term
	}
	return e.Value
}

// Clause is one analyzed clause of the question. Confidence is a
// fraction in [0,1] when present; a nil pointer means the pipeline did
// not report one.
type Clause struct {
	Type       string   `json:"type,omitempty"`
	Content    string   `json:"content,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// TraceSummary carries the pipeline's self-reported statistics. They
// are displayed as-is and never recomputed from the arrays, so an
// upstream miscount stays visible.
type TraceSummary struct {
	DomainTermsFound  int `json:"domain_terms_found"`
	ClausesCount      int `json:"clauses_count"`
	ReasoningSteps    int `json:"reasoning_steps"`
	SQLPatternsMapped int `json:"sql_patterns_mapped"`
}

// ── Translation ──────────────────────────────────────────────

// TranslateRequest is the body for POST /api/convert.
type TranslateRequest struct {
	Question  string `json:"question"`
	RagDomain string `json:"rag_domain,omitempty"`
}

// TranslateResponse is the subset of the /api/convert response the
// console consumes.
type TranslateResponse struct {
	SQL           string              `json:"sql"`
	Preprocessing *PreprocessingTrace `json:"preprocessing,omitempty"`
}

// PipelineStatus reports whether the backend preprocessing agent is up.
type PipelineStatus struct {
	Available   bool `json:"korean_preprocessing_available"`
	AgentLoaded bool `json:"agent_loaded"`
	DomainContext any `json:"domain_context,omitempty"`
}

// ── Schema Metadata ──────────────────────────────────────────

// MetadataDocument is one uploaded schema-description spreadsheet.
// UploadDate stays a string: the backend emits naive ISO timestamps
// without a zone offset, which time.Time refuses to parse.
type MetadataDocument struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size,omitempty"`
	UploadDate string `json:"upload_date"`
}

// MetadataListing is the response of GET /api/metadata/list. Active is
// the filename of the single currently applied document, or empty.
type MetadataListing struct {
	Files  []MetadataDocument `json:"files"`
	Active string             `json:"active"`
}

// SchemaSnapshot describes the tables the translator currently knows
// about, always reflecting the active metadata document.
type SchemaSnapshot struct {
	Tables map[string]TableInfo `json:"tables"`
}

type TableInfo struct {
	Description string                `json:"description"`
	Columns     map[string]ColumnInfo `json:"columns"`
}

type ColumnInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ── RAG Domains & Files ──────────────────────────────────────

// Domain is a fixed named partition of reference documents. The empty
// string means "all domains" on the conversation side.
type Domain string

const (
	DomainAll              Domain = ""
	DomainPersonalCredit   Domain = "personal_credit"
	DomainCorporateCredit  Domain = "corporate_credit"
	DomainPolicyRegulation Domain = "policy_regulation"
)

// KnownDomains lists the selectable domains in display order.
var KnownDomains = []Domain{
	DomainPersonalCredit,
	DomainCorporateCredit,
	DomainPolicyRegulation,
}

// IsValid reports whether d names a concrete domain (not "all").
func (d Domain) IsValid() bool {
	for _, k := range KnownDomains {
		if d == k {
			return true
		}
	}
	return false
}

// RagFile is one uploaded reference document within a domain.
type RagFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadDate string `json:"upload_date"`
}

// RagFileListing is the response of GET /api/rag/files/{domain}.
type RagFileListing struct {
	Domain     string    `json:"domain"`
	DomainName string    `json:"domain_name"`
	Files      []RagFile `json:"files"`
}

// DomainListing maps domain key → human-readable label.
type DomainListing struct {
	Domains map[string]string `json:"domains"`
}

// RagFileContent is the response of GET /api/rag/download/{domain}/{filename}.
type RagFileContent struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ── RAG Statistics ───────────────────────────────────────────

// DomainStats is the per-domain stats shape (?domain= set).
type DomainStats struct {
	Domain         string `json:"domain"`
	TotalChunks    int    `json:"total_chunks"`
	CollectionName string `json:"collection_name"`
}

// AggregateStats is the all-domains stats shape: a full per-domain
// breakdown plus the grand total.
type AggregateStats struct {
	TotalChunks int            `json:"total_chunks"`
	DomainStats map[string]int `json:"domain_stats"`
}

// ── RAG Search ───────────────────────────────────────────────

// SearchRequest is the body for POST /api/rag/search.
type SearchRequest struct {
	Question string `json:"question"`
	Domain   string `json:"domain,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// SearchChunk is one retrieved fragment. Metadata is left loose; the
// retrieval store attaches whatever it indexed.
type SearchChunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score,omitempty"`
}

// SearchResponse is the response of POST /api/rag/search.
type SearchResponse struct {
	Question   string        `json:"question"`
	Domain     string        `json:"domain,omitempty"`
	Chunks     []SearchChunk `json:"chunks"`
	TotalFound int           `json:"total_found"`
}
