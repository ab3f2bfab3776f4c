package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querytalk/querytalk/internal/apiclient"
	"github.com/querytalk/querytalk/internal/backendtest"
	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

func newTestClient(t *testing.T, backend *backendtest.Backend) *apiclient.Client {
	t.Helper()
	srv := backend.Server()
	t.Cleanup(srv.Close)
	return apiclient.New(srv.URL)
}

// ─── Translation ─────────────────────────────────────────────

func TestTranslate(t *testing.T) {
	backend := backendtest.New()
	backend.TranslateFunc = func(req models.TranslateRequest) (int, any) {
		assert.Equal(t, "고객 목록", req.Question)
		assert.Equal(t, "personal_credit", req.RagDomain)
		return http.StatusOK, models.TranslateResponse{
			SQL: "SELECT * FROM customers",
			Preprocessing: &models.PreprocessingTrace{
				OriginalQuery: "고객 목록",
				Summary:       &models.TraceSummary{ClausesCount: 1},
			},
		}
	}
	c := newTestClient(t, backend)

	resp, err := c.Translate(context.Background(), models.TranslateRequest{
		Question:  "고객 목록",
		RagDomain: "personal_credit",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM customers", resp.SQL)
	require.NotNil(t, resp.Preprocessing)
	assert.Equal(t, "고객 목록", resp.Preprocessing.OriginalQuery)
	require.NotNil(t, resp.Preprocessing.Summary)
	assert.Equal(t, 1, resp.Preprocessing.Summary.ClausesCount)
}

func TestTranslateBackendErrorCarriesVerbatimText(t *testing.T) {
	backend := backendtest.New()
	backend.TranslateFunc = func(req models.TranslateRequest) (int, any) {
		return http.StatusInternalServerError, map[string]string{"error": "SQL 변환 중 오류가 발생했습니다."}
	}
	c := newTestClient(t, backend)

	_, err := c.Translate(context.Background(), models.TranslateRequest{Question: "질문"})
	var be *contracts.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusInternalServerError, be.Status)
	assert.Equal(t, "SQL 변환 중 오류가 발생했습니다.", be.Message)
	assert.Equal(t, "SQL 변환 중 오류가 발생했습니다.", be.Error())
}

func TestPipelineStatus(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	status, err := c.PipelineStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.True(t, status.AgentLoaded)
}

func TestTestPreprocessUnwrapsEnvelope(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	trace, err := c.TestPreprocess(context.Background(), "신용점수 조회")
	require.NoError(t, err)
	assert.Equal(t, "신용점수 조회", trace.OriginalQuery)
	require.NotNil(t, trace.Summary)
	assert.Equal(t, 1, trace.Summary.ClausesCount)
}

// ─── Metadata ────────────────────────────────────────────────

func TestMetadataDocumentLifecycle(t *testing.T) {
	backend := backendtest.New()
	c := newTestClient(t, backend)
	ctx := context.Background()

	listing, err := c.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
	assert.Empty(t, listing.Active)

	// Upload auto-applies.
	require.NoError(t, c.UploadDocument(ctx, "schema_v1.xlsx", []byte("xlsx-bytes")))
	listing, err = c.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "schema_v1.xlsx", listing.Files[0].Filename)
	assert.NotEmpty(t, listing.Files[0].UploadDate)
	assert.Equal(t, "schema_v1.xlsx", listing.Active)

	require.NoError(t, c.UploadDocument(ctx, "schema_v2.xlsx", []byte("xlsx-bytes")))
	require.NoError(t, c.ApplyDocument(ctx, "schema_v1.xlsx"))
	listing, err = c.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, "schema_v1.xlsx", listing.Active)

	// Deleting the active document clears the pointer.
	require.NoError(t, c.DeleteDocument(ctx, "schema_v1.xlsx"))
	listing, err = c.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Empty(t, listing.Active)
}

func TestApplyUnknownDocument(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	err := c.ApplyDocument(context.Background(), "ghost.xlsx")
	var be *contracts.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusNotFound, be.Status)
	assert.Equal(t, "파일이 존재하지 않습니다.", be.Message)
}

func TestSchema(t *testing.T) {
	backend := backendtest.New()
	backend.Schema = models.SchemaSnapshot{Tables: map[string]models.TableInfo{
		"customers": {
			Description: "고객 기본 정보",
			Columns: map[string]models.ColumnInfo{
				"credit_score": {Type: "INTEGER", Description: "신용점수"},
			},
		},
	}}
	c := newTestClient(t, backend)

	snap, err := c.Schema(context.Background())
	require.NoError(t, err)
	require.Contains(t, snap.Tables, "customers")
	assert.Equal(t, "INTEGER", snap.Tables["customers"].Columns["credit_score"].Type)
}

// ─── RAG Files ───────────────────────────────────────────────

func TestRagFileLifecycle(t *testing.T) {
	c := newTestClient(t, backendtest.New())
	ctx := context.Background()
	domain := models.DomainPersonalCredit

	require.NoError(t, c.UploadFile(ctx, domain, "용어집 2026.txt", []byte("신용 용어")))

	listing, err := c.ListFiles(ctx, domain)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "용어집 2026.txt", listing.Files[0].Filename)
	assert.Equal(t, int64(len("신용 용어")), listing.Files[0].Size)
	assert.Equal(t, "personal_credit", listing.Domain)
	assert.Equal(t, "개인 신용정보", listing.DomainName)

	// Filenames with spaces and Hangul survive the path round-trip.
	content, err := c.DownloadFile(ctx, domain, "용어집 2026.txt")
	require.NoError(t, err)
	assert.Equal(t, "용어집 2026.txt", content.Filename)
	assert.NotEmpty(t, content.Content)

	require.NoError(t, c.DeleteFile(ctx, domain, "용어집 2026.txt"))
	listing, err = c.ListFiles(ctx, domain)
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
}

func TestListFilesInvalidDomain(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	_, err := c.ListFiles(context.Background(), "bogus")
	var be *contracts.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.Equal(t, "유효하지 않은 도메인입니다.", be.Message)
}

func TestListDomains(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	listing, err := c.ListDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "개인 신용정보", listing.Domains["personal_credit"])
	assert.Equal(t, "기업 신용정보", listing.Domains["corporate_credit"])
	assert.Equal(t, "평가 정책 및 규제", listing.Domains["policy_regulation"])
}

// ─── RAG Stats & Search ──────────────────────────────────────

func TestStatsEndpoints(t *testing.T) {
	backend := backendtest.New()
	backend.Chunks["personal_credit"] = 60
	backend.Chunks["corporate_credit"] = 40
	c := newTestClient(t, backend)
	ctx := context.Background()

	per, err := c.DomainStats(ctx, models.DomainPersonalCredit)
	require.NoError(t, err)
	assert.Equal(t, "personal_credit", per.Domain)
	assert.Equal(t, 60, per.TotalChunks)
	assert.Equal(t, "rag_personal_credit", per.CollectionName)

	agg, err := c.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, agg.TotalChunks)
	assert.Equal(t, 60, agg.DomainStats["personal_credit"])
	assert.Equal(t, 0, agg.DomainStats["policy_regulation"])
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	resp, err := c.Search(context.Background(), models.SearchRequest{
		Question: "연체 기준",
		Domain:   "policy_regulation",
		TopK:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, "연체 기준", resp.Question)
	assert.Equal(t, "policy_regulation", resp.Domain)
	assert.Equal(t, 1, resp.TotalFound)
	require.Len(t, resp.Chunks, 1)
	assert.NotZero(t, resp.Chunks[0].Score)
}

// ─── Transport Failures ──────────────────────────────────────

func TestUnreachableBackend(t *testing.T) {
	c := apiclient.New("http://127.0.0.1:1")

	_, err := c.ListDocuments(context.Background())
	require.Error(t, err)
	var be *contracts.BackendError
	assert.False(t, errors.As(err, &be), "transport failures are not backend errors")
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, backendtest.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListDocuments(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
