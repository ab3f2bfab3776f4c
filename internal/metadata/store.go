// Package metadata owns the uploaded schema-metadata documents, the
// single active-document pointer, and the displayed schema snapshot.
//
// All mutations are server-authoritative: after every upload, apply or
// delete the store re-fetches the listing instead of patching local
// state, so the active pointer can never diverge from the backend.
package metadata

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

var (
	// ErrNoFile is returned when Upload is called without a file.
	ErrNoFile = errors.New("no file selected")
	// ErrUploadInProgress is returned while another upload is outstanding.
	ErrUploadInProgress = errors.New("a metadata upload is already in progress")
)

// Store mediates schema-metadata document management.
type Store struct {
	service contracts.MetadataService

	mu        sync.Mutex
	documents []models.MetadataDocument
	active    string
	schema    *models.SchemaSnapshot
	status    string
	uploading bool
}

// NewStore creates a metadata store.
func NewStore(service contracts.MetadataService) *Store {
	return &Store{service: service}
}

// RefreshDocumentList fetches the document list plus active pointer and
// replaces local state wholesale. Called on mount and after every
// mutation. On failure the listing is emptied rather than left stale.
func (s *Store) RefreshDocumentList(ctx context.Context) error {
	listing, err := s.service.ListDocuments(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.documents = nil
		s.active = ""
		return err
	}
	s.documents = listing.Files
	s.active = listing.Active
	return nil
}

// RefreshSchema re-fetches the snapshot for the active document. The
// presenter calls this on every closed→open transition of the schema
// panel so the view is never stale relative to the active document.
func (s *Store) RefreshSchema(ctx context.Context) error {
	snap, err := s.service.Schema(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.schema = nil
		return err
	}
	s.schema = snap
	return nil
}

// Upload sends a new metadata document. On success the status message
// reports success and the listing is re-fetched; on failure the status
// carries the backend's error text verbatim and the listing is left
// untouched. The caller decides whether its upload dialog stays open.
func (s *Store) Upload(ctx context.Context, filename string, content []byte) error {
	if filename == "" || len(content) == 0 {
		return ErrNoFile
	}

	s.mu.Lock()
	if s.uploading {
		s.mu.Unlock()
		return ErrUploadInProgress
	}
	s.uploading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.uploading = false
		s.mu.Unlock()
	}()

	if err := s.service.UploadDocument(ctx, filename, content); err != nil {
		s.setStatus("업로드 실패: " + err.Error())
		return err
	}

	s.setStatus("메타데이터 업로드 및 적용 성공!")
	if err := s.RefreshDocumentList(ctx); err != nil {
		log.Warn().Err(err).Msg("document list refresh after upload failed")
	}
	return nil
}

// Apply activates filename. Applying the already-active document is a
// local no-op so no redundant activation call reaches the backend.
// Success is never assumed: the new active pointer comes from the
// post-apply re-fetch.
func (s *Store) Apply(ctx context.Context, filename string) error {
	s.mu.Lock()
	if filename == s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.service.ApplyDocument(ctx, filename); err != nil {
		s.setStatus("적용 실패: " + err.Error())
		return err
	}

	s.setStatus("적용 완료!")
	if err := s.RefreshDocumentList(ctx); err != nil {
		log.Warn().Err(err).Msg("document list refresh after apply failed")
	}
	return nil
}

// Delete removes filename. Which document (if any) becomes active is
// the backend's decision, reflected by the post-delete re-fetch.
// Confirmation of this destructive action is the caller's concern.
func (s *Store) Delete(ctx context.Context, filename string) error {
	if err := s.service.DeleteDocument(ctx, filename); err != nil {
		s.setStatus("삭제 실패: " + err.Error())
		return err
	}

	s.setStatus("삭제 완료!")
	if err := s.RefreshDocumentList(ctx); err != nil {
		log.Warn().Err(err).Msg("document list refresh after delete failed")
	}
	return nil
}

// Documents returns a copy of the current document listing.
func (s *Store) Documents() []models.MetadataDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MetadataDocument, len(s.documents))
	copy(out, s.documents)
	return out
}

// ActiveFilename returns the currently applied document, or "".
func (s *Store) ActiveFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IsActive reports whether filename is the applied document. The apply
// control is disabled for it.
func (s *Store) IsActive(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filename != "" && filename == s.active
}

// Schema returns the last fetched snapshot, or nil.
func (s *Store) Schema() *models.SchemaSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// StatusMessage returns the inline status banner text.
func (s *Store) StatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) setStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = msg
}
