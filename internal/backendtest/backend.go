// Package backendtest provides an in-memory fake of the Text2SQL
// backend HTTP surface for tests: translation, metadata documents with
// a single active pointer, per-domain RAG files, stats and search.
//
// Default behavior mirrors the real backend (upload auto-applies a
// metadata document, deleting the active document clears the pointer);
// tests override individual routes via the *Func hooks.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/querytalk/querytalk/pkg/models"
)

// Backend is the fake server state. Zero value is not usable; use New.
type Backend struct {
	mu sync.Mutex

	Docs   []models.MetadataDocument
	Active string
	Schema models.SchemaSnapshot

	Files  map[string][]models.RagFile
	Chunks map[string]int

	// Hooks. When nil the default in-memory behavior applies.
	TranslateFunc      func(req models.TranslateRequest) (int, any)
	UploadMetadataFunc func(filename string) (int, any)
}

var domainLabels = map[string]string{
	"personal_credit":   "개인 신용정보",
	"corporate_credit":  "기업 신용정보",
	"policy_regulation": "평가 정책 및 규제",
}

// New creates an empty fake backend.
func New() *Backend {
	return &Backend{
		Files:  make(map[string][]models.RagFile),
		Chunks: make(map[string]int),
		Schema: models.SchemaSnapshot{Tables: map[string]models.TableInfo{}},
	}
}

// Server starts an httptest server for the backend. The caller owns
// Close (usually via t.Cleanup).
func (b *Backend) Server() *httptest.Server {
	return httptest.NewServer(b.Handler())
}

// Handler builds the route table.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/convert", b.handleConvert)
	r.Get("/api/metadata", b.handleSchema)
	r.Get("/api/metadata/list", b.handleListDocs)
	r.Post("/api/metadata/upload", b.handleUploadDoc)
	r.Post("/api/metadata/apply", b.handleApplyDoc)
	r.Delete("/api/metadata/delete/{filename}", b.handleDeleteDoc)

	r.Get("/api/rag/domains", b.handleDomains)
	r.Get("/api/rag/files/{domain}", b.handleListFiles)
	r.Post("/api/rag/upload/{domain}", b.handleUploadFile)
	r.Delete("/api/rag/delete/{domain}/{filename}", b.handleDeleteFile)
	r.Get("/api/rag/download/{domain}/{filename}", b.handleDownload)
	r.Get("/api/rag/stats", b.handleStats)
	r.Post("/api/rag/search", b.handleSearch)

	r.Get("/api/preprocessing/status", b.handlePipelineStatus)
	r.Post("/api/preprocessing/test", b.handleTestPreprocess)

	return r
}

// ── Conversation ─────────────────────────────────────────────

func (b *Backend) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req models.TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Question == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "질문이 필요합니다."})
		return
	}
	if b.TranslateFunc != nil {
		status, body := b.TranslateFunc(req)
		respondJSON(w, status, body)
		return
	}
	respondJSON(w, http.StatusOK, models.TranslateResponse{SQL: "SELECT 1"})
}

// ── Metadata ─────────────────────────────────────────────────

func (b *Backend) handleSchema(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	respondJSON(w, http.StatusOK, b.Schema)
}

func (b *Backend) handleListDocs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	files := b.Docs
	if files == nil {
		files = []models.MetadataDocument{}
	}
	respondJSON(w, http.StatusOK, models.MetadataListing{Files: files, Active: b.Active})
}

func (b *Backend) handleUploadDoc(w http.ResponseWriter, r *http.Request) {
	filename, _, err := readUpload(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "파일이 없습니다."})
		return
	}
	if b.UploadMetadataFunc != nil {
		status, body := b.UploadMetadataFunc(filename)
		respondJSON(w, status, body)
		return
	}

	b.mu.Lock()
	b.Docs = append(b.Docs, models.MetadataDocument{
		Filename:   filename,
		UploadDate: time.Now().Format("2006-01-02T15:04:05"),
	})
	// Upload auto-applies, matching the real backend.
	b.Active = filename
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"message": "uploaded", "filename": filename})
}

func (b *Backend) handleApplyDoc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, doc := range b.Docs {
		if doc.Filename == req.Filename {
			b.Active = req.Filename
			respondJSON(w, http.StatusOK, map[string]string{"message": "적용 완료", "filename": req.Filename})
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "파일이 존재하지 않습니다."})
}

func (b *Backend) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	filename := pathParam(r, "filename")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, doc := range b.Docs {
		if doc.Filename == filename {
			b.Docs = append(b.Docs[:i], b.Docs[i+1:]...)
			if b.Active == filename {
				b.Active = ""
			}
			respondJSON(w, http.StatusOK, map[string]string{"message": "삭제 완료"})
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "파일이 존재하지 않습니다."})
}

// ── RAG ──────────────────────────────────────────────────────

func (b *Backend) handleDomains(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.DomainListing{Domains: domainLabels})
}

func (b *Backend) handleListFiles(w http.ResponseWriter, r *http.Request) {
	domain := pathParam(r, "domain")
	if _, ok := domainLabels[domain]; !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "유효하지 않은 도메인입니다."})
		return
	}
	b.mu.Lock()
	files := b.Files[domain]
	if files == nil {
		files = []models.RagFile{}
	}
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, models.RagFileListing{
		Domain:     domain,
		DomainName: domainLabels[domain],
		Files:      files,
	})
}

func (b *Backend) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	domain := pathParam(r, "domain")
	if _, ok := domainLabels[domain]; !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "유효하지 않은 도메인입니다."})
		return
	}
	filename, content, err := readUpload(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "파일이 없습니다."})
		return
	}

	b.mu.Lock()
	b.Files[domain] = append(b.Files[domain], models.RagFile{
		Filename:   filename,
		Size:       int64(len(content)),
		UploadDate: time.Now().Format("2006-01-02T15:04:05"),
	})
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"message": "uploaded"})
}

func (b *Backend) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	domain := pathParam(r, "domain")
	filename := pathParam(r, "filename")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, f := range b.Files[domain] {
		if f.Filename == filename {
			b.Files[domain] = append(b.Files[domain][:i], b.Files[domain][i+1:]...)
			respondJSON(w, http.StatusOK, map[string]string{"message": "삭제 완료"})
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "파일을 찾을 수 없습니다."})
}

func (b *Backend) handleDownload(w http.ResponseWriter, r *http.Request) {
	domain := pathParam(r, "domain")
	filename := pathParam(r, "filename")

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.Files[domain] {
		if f.Filename == filename {
			respondJSON(w, http.StatusOK, models.RagFileContent{
				Filename: filename,
				Content:  fmt.Sprintf("content of %s", filename),
			})
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "파일을 찾을 수 없습니다."})
}

func (b *Backend) handleStats(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")

	b.mu.Lock()
	defer b.mu.Unlock()
	if domain != "" {
		if _, ok := domainLabels[domain]; !ok {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "유효하지 않은 도메인입니다."})
			return
		}
		respondJSON(w, http.StatusOK, models.DomainStats{
			Domain:         domain,
			TotalChunks:    b.Chunks[domain],
			CollectionName: "rag_" + domain,
		})
		return
	}

	total := 0
	breakdown := make(map[string]int, len(domainLabels))
	for d := range domainLabels {
		breakdown[d] = b.Chunks[d]
		total += b.Chunks[d]
	}
	respondJSON(w, http.StatusOK, models.AggregateStats{TotalChunks: total, DomainStats: breakdown})
}

func (b *Backend) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Question == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "검색 질문이 필요합니다."})
		return
	}
	chunks := []models.SearchChunk{
		{Content: "chunk for " + req.Question, Score: 0.91},
	}
	respondJSON(w, http.StatusOK, models.SearchResponse{
		Question:   req.Question,
		Domain:     req.Domain,
		Chunks:     chunks,
		TotalFound: len(chunks),
	})
}

// ── Preprocessing ────────────────────────────────────────────

func (b *Backend) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.PipelineStatus{Available: true, AgentLoaded: true})
}

func (b *Backend) handleTestPreprocess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "테스트 쿼리가 제공되지 않았습니다."})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"hybrid_preprocessing": map[string]any{
			"available":      true,
			"original_query": req.Query,
			"preprocessing_metadata": models.TraceSummary{
				ClausesCount: 1,
			},
		},
	})
}

// ── Helpers ──────────────────────────────────────────────────

// pathParam returns a decoded URL parameter. The client escapes
// filenames, and chi matches on the raw path, so the escaped form is
// what URLParam yields.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, err
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, content, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
