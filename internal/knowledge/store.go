// Package knowledge owns the per-domain RAG reference-document
// listings, the retrieval statistics view and chunk search.
//
// Only the selected domain's file list is held in memory; switching
// domains discards the previous list, to be re-fetched on return.
// Every fetch is tagged with an epoch so a slow response for a stale
// selection can never overwrite a newer selection's data.
package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

var (
	// ErrInvalidDomain is returned for a domain outside the fixed set.
	ErrInvalidDomain = errors.New("invalid RAG domain")
	// ErrNoFile is returned when Upload is called without a file.
	ErrNoFile = errors.New("no file selected")
	// ErrUploadInProgress is returned while another upload is outstanding.
	ErrUploadInProgress = errors.New("a file upload is already in progress")
)

// Stats is the result of a statistics fetch: exactly one of the two
// fields is set, depending on whether a domain was selected.
type Stats struct {
	Domain    *models.DomainStats
	Aggregate *models.AggregateStats
}

// Store mediates RAG file management for the selected domain.
type Store struct {
	service     contracts.KnowledgeService
	downloadDir string

	mu        sync.Mutex
	selected  models.Domain
	files     []models.RagFile
	labels    map[string]string
	loading   bool
	uploading bool
	errMsg    string
	epoch     uint64
}

// NewStore creates a knowledge store. Downloads are materialized under
// downloadDir.
func NewStore(service contracts.KnowledgeService, downloadDir string) *Store {
	return &Store{
		service:     service,
		downloadDir: downloadDir,
		selected:    models.DomainPersonalCredit,
	}
}

// RefreshDomains fetches the domain key→label map used for display.
func (s *Store) RefreshDomains(ctx context.Context) error {
	listing, err := s.service.ListDomains(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = "도메인 정보를 불러오는데 실패했습니다."
		return err
	}
	s.labels = listing.Domains
	return nil
}

// SelectDomain switches the active domain, discards the previous
// domain's list, and fetches the new one.
func (s *Store) SelectDomain(ctx context.Context, domain models.Domain) error {
	if !domain.IsValid() {
		return ErrInvalidDomain
	}

	s.mu.Lock()
	s.selected = domain
	s.files = nil
	s.mu.Unlock()

	return s.RefreshFiles(ctx, domain)
}

// RefreshFiles fetches the file list for domain and replaces state.
// A response that arrives after the selection has moved on (newer
// epoch, or a different selected domain) is discarded.
func (s *Store) RefreshFiles(ctx context.Context, domain models.Domain) error {
	if !domain.IsValid() {
		return ErrInvalidDomain
	}

	s.mu.Lock()
	s.epoch++
	fetchEpoch := s.epoch
	s.loading = true
	s.mu.Unlock()

	listing, err := s.service.ListFiles(ctx, domain)

	s.mu.Lock()
	defer s.mu.Unlock()
	if fetchEpoch != s.epoch || domain != s.selected {
		// Stale response: a newer fetch owns the list and the
		// loading flag now.
		return nil
	}
	s.loading = false
	if err != nil {
		s.files = nil
		s.errMsg = "파일 목록을 불러오는데 실패했습니다."
		return err
	}
	s.files = listing.Files
	s.errMsg = ""
	return nil
}

// Upload sends a reference document to domain. A second upload while
// one is outstanding is rejected without a request. On failure the
// backend's error text is surfaced and the caller may retry the same
// file; on success the listing is re-fetched.
func (s *Store) Upload(ctx context.Context, domain models.Domain, filename string, content []byte) error {
	if !domain.IsValid() {
		return ErrInvalidDomain
	}
	if filename == "" || len(content) == 0 {
		return ErrNoFile
	}

	s.mu.Lock()
	if s.uploading {
		s.mu.Unlock()
		return ErrUploadInProgress
	}
	s.uploading = true
	s.errMsg = ""
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.uploading = false
		s.mu.Unlock()
	}()

	if err := s.service.UploadFile(ctx, domain, filename, content); err != nil {
		s.setError(errorText(err, "파일 업로드에 실패했습니다."))
		return err
	}

	if err := s.RefreshFiles(ctx, domain); err != nil {
		log.Warn().Err(err).Str("domain", string(domain)).Msg("file list refresh after upload failed")
	}
	return nil
}

// Delete removes filename from domain. The local list only changes via
// the post-delete re-fetch, so a failed delete never hides a file that
// is still on the backend. Confirmation of this destructive action is
// the caller's concern.
func (s *Store) Delete(ctx context.Context, domain models.Domain, filename string) error {
	if !domain.IsValid() {
		return ErrInvalidDomain
	}

	if err := s.service.DeleteFile(ctx, domain, filename); err != nil {
		s.setError(errorText(err, "파일 삭제에 실패했습니다."))
		return err
	}

	s.setError("")
	if err := s.RefreshFiles(ctx, domain); err != nil {
		log.Warn().Err(err).Str("domain", string(domain)).Msg("file list refresh after delete failed")
	}
	return nil
}

// Download fetches filename's content and materializes it under the
// download directory. Stateless with respect to the listing.
// Returns the written path.
func (s *Store) Download(ctx context.Context, domain models.Domain, filename string) (string, error) {
	if !domain.IsValid() {
		return "", ErrInvalidDomain
	}

	content, err := s.service.DownloadFile(ctx, domain, filename)
	if err != nil {
		s.setError(errorText(err, "파일 다운로드에 실패했습니다."))
		return "", err
	}

	path := filepath.Join(s.downloadDir, filepath.Base(content.Filename))
	if err := os.WriteFile(path, []byte(content.Content), 0o644); err != nil {
		s.setError("파일 다운로드에 실패했습니다.")
		return "", err
	}
	log.Info().Str("path", path).Str("domain", string(domain)).Msg("RAG file downloaded")
	return path, nil
}

// Stats fetches statistics: a per-domain view when domain names one,
// else the full breakdown plus grand total. Read-only, no store state.
func (s *Store) Stats(ctx context.Context, domain models.Domain) (*Stats, error) {
	if domain == models.DomainAll {
		agg, err := s.service.AggregateStats(ctx)
		if err != nil {
			return nil, err
		}
		return &Stats{Aggregate: agg}, nil
	}
	if !domain.IsValid() {
		return nil, ErrInvalidDomain
	}
	ds, err := s.service.DomainStats(ctx, domain)
	if err != nil {
		return nil, err
	}
	return &Stats{Domain: ds}, nil
}

// Search retrieves the most relevant chunks for a question.
func (s *Store) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	return s.service.Search(ctx, req)
}

// ── Accessors ────────────────────────────────────────────────

// SelectedDomain returns the currently selected domain.
func (s *Store) SelectedDomain() models.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Files returns a copy of the selected domain's file list.
func (s *Store) Files() []models.RagFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RagFile, len(s.files))
	copy(out, s.files)
	return out
}

// Loading reports whether a file-list fetch is outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Uploading reports whether an upload is outstanding.
func (s *Store) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
}

// ErrorMessage returns the inline error text, or "".
func (s *Store) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// DomainLabel returns the display label for a domain, falling back to
// the raw key when the backend listing has not been loaded or does not
// know the domain.
func (s *Store) DomainLabel(domain models.Domain) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label, ok := s.labels[string(domain)]; ok {
		return label
	}
	return string(domain)
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

// errorText prefers the backend's verbatim error text, else fallback.
func errorText(err error, fallback string) string {
	var be *contracts.BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}
