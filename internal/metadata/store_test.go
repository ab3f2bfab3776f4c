package metadata_test

import (
	"context"
	"errors"
	"testing"

	"github.com/querytalk/querytalk/internal/metadata"
	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

// fakeMetadataService scripts per-call results and records mutations.
type fakeMetadataService struct {
	listing   models.MetadataListing
	listErr   error
	schema    *models.SchemaSnapshot
	schemaErr error
	uploadErr error
	applyErr  error
	deleteErr error
	uploads   []string
	applies   []string
	deletes   []string
}

func (f *fakeMetadataService) Schema(ctx context.Context) (*models.SchemaSnapshot, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return f.schema, nil
}

func (f *fakeMetadataService) ListDocuments(ctx context.Context) (*models.MetadataListing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	listing := f.listing
	return &listing, nil
}

func (f *fakeMetadataService) UploadDocument(ctx context.Context, filename string, content []byte) error {
	f.uploads = append(f.uploads, filename)
	return f.uploadErr
}

func (f *fakeMetadataService) ApplyDocument(ctx context.Context, filename string) error {
	f.applies = append(f.applies, filename)
	return f.applyErr
}

func (f *fakeMetadataService) DeleteDocument(ctx context.Context, filename string) error {
	f.deletes = append(f.deletes, filename)
	return f.deleteErr
}

// ─── Document Listing ────────────────────────────────────────

func TestRefreshDocumentListReplacesState(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files: []models.MetadataDocument{
			{Filename: "schema_v1.xlsx", UploadDate: "2026-08-01T09:00:00"},
			{Filename: "schema_v2.xlsx", UploadDate: "2026-08-15T09:00:00"},
		},
		Active: "schema_v2.xlsx",
	}}
	s := metadata.NewStore(svc)

	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	if got := len(s.Documents()); got != 2 {
		t.Errorf("Documents() has %d entries, want 2", got)
	}
	if got := s.ActiveFilename(); got != "schema_v2.xlsx" {
		t.Errorf("ActiveFilename() = %q, want %q", got, "schema_v2.xlsx")
	}
	if !s.IsActive("schema_v2.xlsx") {
		t.Error("IsActive(schema_v2.xlsx) = false")
	}
	if s.IsActive("schema_v1.xlsx") {
		t.Error("IsActive(schema_v1.xlsx) = true")
	}
}

func TestRefreshDocumentListFailureEmptiesListing(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "schema_v1.xlsx"}},
		Active: "schema_v1.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	svc.listErr = errors.New("backend down")
	if err := s.RefreshDocumentList(context.Background()); err == nil {
		t.Fatal("RefreshDocumentList() error = nil, want failure")
	}

	if got := len(s.Documents()); got != 0 {
		t.Errorf("Documents() has %d entries after failed refresh, want 0", got)
	}
	if got := s.ActiveFilename(); got != "" {
		t.Errorf("ActiveFilename() = %q after failed refresh, want empty", got)
	}
}

func TestIsActiveWithNoActiveDocument(t *testing.T) {
	s := metadata.NewStore(&fakeMetadataService{})
	if s.IsActive("") {
		t.Error(`IsActive("") = true with no active document`)
	}
}

// ─── Upload ──────────────────────────────────────────────────

func TestUploadSuccessRefreshesListing(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "new.xlsx"}},
		Active: "new.xlsx",
	}}
	s := metadata.NewStore(svc)

	if err := s.Upload(context.Background(), "new.xlsx", []byte("xlsx-bytes")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if len(svc.uploads) != 1 || svc.uploads[0] != "new.xlsx" {
		t.Errorf("uploads = %v, want [new.xlsx]", svc.uploads)
	}
	if got := s.StatusMessage(); got != "메타데이터 업로드 및 적용 성공!" {
		t.Errorf("StatusMessage() = %q, want success banner", got)
	}
	if got := s.ActiveFilename(); got != "new.xlsx" {
		t.Errorf("ActiveFilename() = %q, want %q (from post-upload re-fetch)", got, "new.xlsx")
	}
}

func TestUploadFailureLeavesListingUntouched(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "old.xlsx"}},
		Active: "old.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	svc.uploadErr = &contracts.BackendError{Status: 400, Message: "엑셀 파일만 업로드 가능합니다."}
	if err := s.Upload(context.Background(), "bad.csv", []byte("not-xlsx")); err == nil {
		t.Fatal("Upload() error = nil, want failure")
	}

	if got := s.StatusMessage(); got != "업로드 실패: 엑셀 파일만 업로드 가능합니다." {
		t.Errorf("StatusMessage() = %q, want the backend text verbatim", got)
	}
	if got := len(s.Documents()); got != 1 {
		t.Errorf("Documents() has %d entries after failed upload, want 1", got)
	}
	if got := s.ActiveFilename(); got != "old.xlsx" {
		t.Errorf("ActiveFilename() = %q after failed upload, want %q", got, "old.xlsx")
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	svc := &fakeMetadataService{}
	s := metadata.NewStore(svc)

	if err := s.Upload(context.Background(), "", []byte("content")); !errors.Is(err, metadata.ErrNoFile) {
		t.Errorf("Upload() with empty filename error = %v, want ErrNoFile", err)
	}
	if err := s.Upload(context.Background(), "a.xlsx", nil); !errors.Is(err, metadata.ErrNoFile) {
		t.Errorf("Upload() with empty content error = %v, want ErrNoFile", err)
	}
	if len(svc.uploads) != 0 {
		t.Errorf("uploads = %v, want none for rejected calls", svc.uploads)
	}
}

// ─── Apply ───────────────────────────────────────────────────

func TestApplyActiveDocumentIsLocalNoOp(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "cur.xlsx"}},
		Active: "cur.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	if err := s.Apply(context.Background(), "cur.xlsx"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(svc.applies) != 0 {
		t.Errorf("applies = %v, want no backend call for the active document", svc.applies)
	}
}

func TestApplySwitchesActivePointer(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files: []models.MetadataDocument{
			{Filename: "a.xlsx"},
			{Filename: "b.xlsx"},
		},
		Active: "a.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	svc.listing.Active = "b.xlsx"
	if err := s.Apply(context.Background(), "b.xlsx"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(svc.applies) != 1 || svc.applies[0] != "b.xlsx" {
		t.Errorf("applies = %v, want [b.xlsx]", svc.applies)
	}
	if got := s.ActiveFilename(); got != "b.xlsx" {
		t.Errorf("ActiveFilename() = %q, want %q", got, "b.xlsx")
	}
	if got := s.StatusMessage(); got != "적용 완료!" {
		t.Errorf("StatusMessage() = %q, want apply banner", got)
	}
}

func TestApplyFailureKeepsOldActive(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "a.xlsx"}, {Filename: "b.xlsx"}},
		Active: "a.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	svc.applyErr = errors.New("activation failed")
	if err := s.Apply(context.Background(), "b.xlsx"); err == nil {
		t.Fatal("Apply() error = nil, want failure")
	}
	if got := s.ActiveFilename(); got != "a.xlsx" {
		t.Errorf("ActiveFilename() = %q after failed apply, want %q", got, "a.xlsx")
	}
}

// ─── Delete ──────────────────────────────────────────────────

func TestDeleteRefreshesListing(t *testing.T) {
	svc := &fakeMetadataService{listing: models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "a.xlsx"}, {Filename: "b.xlsx"}},
		Active: "a.xlsx",
	}}
	s := metadata.NewStore(svc)
	if err := s.RefreshDocumentList(context.Background()); err != nil {
		t.Fatalf("RefreshDocumentList() error = %v", err)
	}

	// Backend decides what stays active after a delete.
	svc.listing = models.MetadataListing{
		Files:  []models.MetadataDocument{{Filename: "b.xlsx"}},
		Active: "",
	}
	if err := s.Delete(context.Background(), "a.xlsx"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if got := len(s.Documents()); got != 1 {
		t.Errorf("Documents() has %d entries, want 1", got)
	}
	if got := s.ActiveFilename(); got != "" {
		t.Errorf("ActiveFilename() = %q after deleting the active document, want empty", got)
	}
}

// ─── Schema ──────────────────────────────────────────────────

func TestRefreshSchema(t *testing.T) {
	svc := &fakeMetadataService{schema: &models.SchemaSnapshot{
		Tables: map[string]models.TableInfo{
			"customers": {Description: "고객 기본 정보"},
		},
	}}
	s := metadata.NewStore(svc)

	if s.Schema() != nil {
		t.Fatal("Schema() non-nil before any fetch")
	}
	if err := s.RefreshSchema(context.Background()); err != nil {
		t.Fatalf("RefreshSchema() error = %v", err)
	}
	snap := s.Schema()
	if snap == nil {
		t.Fatal("Schema() = nil after successful refresh")
	}
	if _, ok := snap.Tables["customers"]; !ok {
		t.Error("Schema() missing customers table")
	}

	svc.schemaErr = errors.New("backend down")
	if err := s.RefreshSchema(context.Background()); err == nil {
		t.Fatal("RefreshSchema() error = nil, want failure")
	}
	if s.Schema() != nil {
		t.Error("Schema() non-nil after failed refresh, stale snapshot kept")
	}
}
