// Package shell composes the conversation controller and the side
// stores into one console screen: panel visibility flags plus the
// routing of user intents to the owning component.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/querytalk/querytalk/internal/conversation"
	"github.com/querytalk/querytalk/internal/knowledge"
	"github.com/querytalk/querytalk/internal/metadata"
	"github.com/querytalk/querytalk/internal/traceview"
	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

// ConfirmFunc asks the user to confirm a destructive action.
type ConfirmFunc func(prompt string) bool

// Presenter owns the panel visibility flags and routes intents to the
// stores and the controller. Each store exclusively owns its slice of
// state; the presenter never mutates store internals directly.
type Presenter struct {
	conv       *conversation.Controller
	meta       *metadata.Store
	know       *knowledge.Store
	translator contracts.TranslatorService
	out        io.Writer
	confirm    ConfirmFunc

	sections traceview.Flags

	showSchema     bool
	showMetaUpload bool
	showRagManager bool
	showRagStats   bool
	showTrace      bool
}

// New creates a presenter writing panels to out.
func New(conv *conversation.Controller, meta *metadata.Store, know *knowledge.Store, translator contracts.TranslatorService, out io.Writer, confirm ConfirmFunc) *Presenter {
	if confirm == nil {
		confirm = func(string) bool { return true }
	}
	return &Presenter{
		conv:       conv,
		meta:       meta,
		know:       know,
		translator: translator,
		out:        out,
		confirm:    confirm,
		sections:   traceview.NewFlags(),
	}
}

// ── Conversation Intents ─────────────────────────────────────

// Ask submits a question. A blank question or one submitted while a
// request is in flight is dropped silently, matching the disabled
// send control.
func (p *Presenter) Ask(ctx context.Context, question string) {
	err := p.conv.Submit(ctx, question)
	if errors.Is(err, conversation.ErrBlankQuestion) || errors.Is(err, conversation.ErrBusy) {
		log.Debug().Err(err).Msg("submission rejected")
		return
	}
	p.renderTranscriptTail()
}

// SetDomainFilter scopes the next question to one RAG domain, or all
// when domain is empty.
func (p *Presenter) SetDomainFilter(domain models.Domain) error {
	if domain != models.DomainAll && !domain.IsValid() {
		return knowledge.ErrInvalidDomain
	}
	p.conv.SetDomainFilter(domain)
	fmt.Fprintf(p.out, "도메인 필터: %s\n", domainOrAll(domain))
	return nil
}

// ── Schema Panel ─────────────────────────────────────────────

// ToggleSchemaPanel flips the schema panel. On every closed→open
// transition the snapshot is re-fetched so it reflects the active
// metadata document; a failed fetch degrades to "no schema" without
// blocking the rest of the console.
func (p *Presenter) ToggleSchemaPanel(ctx context.Context) {
	if !p.showSchema {
		if err := p.meta.RefreshSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("schema fetch failed")
		}
	}
	p.showSchema = !p.showSchema
	if p.showSchema {
		p.renderSchema()
	}
}

// ── Metadata Intents ─────────────────────────────────────────

// OpenMetadataDialog opens the upload dialog and shows the current
// document listing.
func (p *Presenter) OpenMetadataDialog(ctx context.Context) {
	p.showMetaUpload = true
	if err := p.meta.RefreshDocumentList(ctx); err != nil {
		log.Warn().Err(err).Msg("metadata list fetch failed")
	}
	p.renderMetadataList()
}

// CloseMetadataDialog closes the upload dialog.
func (p *Presenter) CloseMetadataDialog() {
	p.showMetaUpload = false
}

// UploadMetadata reads path and uploads it as a metadata document. The
// dialog closes only on success; on failure it stays open with the
// backend's error text in the status banner.
func (p *Presenter) UploadMetadata(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(p.out, "업로드 실패: %s\n", err)
		return
	}
	if err := p.meta.Upload(ctx, filepath.Base(path), content); err == nil {
		p.showMetaUpload = false
	}
	fmt.Fprintln(p.out, p.meta.StatusMessage())
	p.renderMetadataList()
}

// ApplyMetadata activates a document.
func (p *Presenter) ApplyMetadata(ctx context.Context, filename string) {
	if p.meta.IsActive(filename) {
		// Apply control is disabled for the active document.
		return
	}
	if err := p.meta.Apply(ctx, filename); err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("metadata apply failed")
	}
	fmt.Fprintln(p.out, p.meta.StatusMessage())
	p.renderMetadataList()
}

// DeleteMetadata removes a document after confirmation.
func (p *Presenter) DeleteMetadata(ctx context.Context, filename string) {
	if !p.confirm("정말 삭제하시겠습니까?") {
		return
	}
	if err := p.meta.Delete(ctx, filename); err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("metadata delete failed")
	}
	fmt.Fprintln(p.out, p.meta.StatusMessage())
	p.renderMetadataList()
}

// ── RAG Manager Intents ──────────────────────────────────────

// OpenRagManager opens the file manager and loads the selected
// domain's listing.
func (p *Presenter) OpenRagManager(ctx context.Context) {
	p.showRagManager = true
	if err := p.know.RefreshDomains(ctx); err != nil {
		log.Warn().Err(err).Msg("domain listing fetch failed")
	}
	if err := p.know.RefreshFiles(ctx, p.know.SelectedDomain()); err != nil {
		log.Warn().Err(err).Msg("file listing fetch failed")
	}
	p.renderRagFiles()
}

// CloseRagManager closes the file manager.
func (p *Presenter) CloseRagManager() {
	p.showRagManager = false
}

// SelectRagDomain switches the manager to another domain tab.
func (p *Presenter) SelectRagDomain(ctx context.Context, domain models.Domain) error {
	if err := p.know.SelectDomain(ctx, domain); err != nil && !errors.Is(err, knowledge.ErrInvalidDomain) {
		log.Warn().Err(err).Str("domain", string(domain)).Msg("domain switch fetch failed")
	} else if errors.Is(err, knowledge.ErrInvalidDomain) {
		return err
	}
	p.renderRagFiles()
	return nil
}

// UploadRagFile reads path and uploads it into the selected domain.
func (p *Presenter) UploadRagFile(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(p.out, "파일 업로드에 실패했습니다: %s\n", err)
		return
	}
	domain := p.know.SelectedDomain()
	if err := p.know.Upload(ctx, domain, filepath.Base(path), content); err != nil {
		log.Warn().Err(err).Str("domain", string(domain)).Msg("RAG upload failed")
	}
	p.renderRagFiles()
}

// DeleteRagFile removes a file from the selected domain after
// confirmation.
func (p *Presenter) DeleteRagFile(ctx context.Context, filename string) {
	if !p.confirm(fmt.Sprintf("%q 파일을 삭제하시겠습니까?", filename)) {
		return
	}
	domain := p.know.SelectedDomain()
	if err := p.know.Delete(ctx, domain, filename); err != nil {
		log.Warn().Err(err).Str("domain", string(domain)).Str("filename", filename).Msg("RAG delete failed")
	}
	p.renderRagFiles()
}

// DownloadRagFile materializes a file from the selected domain into
// the download directory.
func (p *Presenter) DownloadRagFile(ctx context.Context, filename string) {
	path, err := p.know.Download(ctx, p.know.SelectedDomain(), filename)
	if err != nil {
		fmt.Fprintln(p.out, p.know.ErrorMessage())
		return
	}
	fmt.Fprintf(p.out, "다운로드 완료: %s\n", path)
}

// ShowRagStats renders the statistics panel: per-domain when domain
// names one, else the full breakdown plus grand total.
func (p *Presenter) ShowRagStats(ctx context.Context, domain models.Domain) {
	p.showRagStats = true
	stats, err := p.know.Stats(ctx, domain)
	if err != nil {
		fmt.Fprintln(p.out, "통계 정보를 불러오는데 실패했습니다.")
		return
	}
	p.renderStats(stats)
}

// SearchRag runs a chunk search and renders the hits.
func (p *Presenter) SearchRag(ctx context.Context, question string, domain models.Domain, topK int) {
	resp, err := p.know.Search(ctx, models.SearchRequest{
		Question: question,
		Domain:   string(domain),
		TopK:     topK,
	})
	if err != nil {
		fmt.Fprintln(p.out, "검색에 실패했습니다.")
		return
	}
	fmt.Fprintf(p.out, "검색 결과 %d건\n", resp.TotalFound)
	for i, chunk := range resp.Chunks {
		fmt.Fprintf(p.out, "%2d. (%.3f) %s\n", i+1, chunk.Score, chunk.Content)
	}
}

// ── Trace Viewer Intents ─────────────────────────────────────

// OpenTraceViewer renders the most recent preprocessing trace. The
// control is disabled until a translation has produced one.
func (p *Presenter) OpenTraceViewer() {
	trace := p.conv.LastTrace()
	if trace == nil {
		fmt.Fprintln(p.out, "전처리 결과가 아직 없습니다.")
		return
	}
	p.showTrace = true
	p.renderTrace(traceview.Render(trace))
}

// CloseTraceViewer closes the trace panel.
func (p *Presenter) CloseTraceViewer() {
	p.showTrace = false
}

// ToggleTraceSection flips one collapsible section and re-renders when
// the viewer is open.
func (p *Presenter) ToggleTraceSection(section traceview.Section) {
	p.sections.Toggle(section)
	if p.showTrace {
		if trace := p.conv.LastTrace(); trace != nil {
			p.renderTrace(traceview.Render(trace))
		}
	}
}

// ── Preprocessing Intents ────────────────────────────────────

// ShowPipelineStatus reports whether the backend preprocessing agent
// is up.
func (p *Presenter) ShowPipelineStatus(ctx context.Context) {
	status, err := p.translator.PipelineStatus(ctx)
	if err != nil {
		fmt.Fprintln(p.out, "전처리 상태를 확인할 수 없습니다.")
		return
	}
	fmt.Fprintf(p.out, "전처리 에이전트 — 사용 가능: %t, 로드됨: %t\n", status.Available, status.AgentLoaded)
}

// TestPreprocess dry-runs the preprocessing pipeline on a question and
// feeds the resulting trace through the same viewer a translation uses.
func (p *Presenter) TestPreprocess(ctx context.Context, question string) {
	trace, err := p.translator.TestPreprocess(ctx, question)
	if err != nil {
		fmt.Fprintf(p.out, "전처리 테스트 실패: %s\n", err)
		return
	}
	p.renderTrace(traceview.Render(trace))
}

// ── Panel Flags ──────────────────────────────────────────────

// SchemaPanelOpen reports whether the schema panel is showing.
func (p *Presenter) SchemaPanelOpen() bool { return p.showSchema }

// MetadataDialogOpen reports whether the upload dialog is showing.
func (p *Presenter) MetadataDialogOpen() bool { return p.showMetaUpload }

// RagManagerOpen reports whether the file manager is showing.
func (p *Presenter) RagManagerOpen() bool { return p.showRagManager }

// TraceViewerOpen reports whether the trace viewer is showing.
func (p *Presenter) TraceViewerOpen() bool { return p.showTrace }

// ── Rendering ────────────────────────────────────────────────

func (p *Presenter) renderTranscriptTail() {
	transcript := p.conv.Transcript()
	start := len(transcript) - 2
	if start < 0 {
		start = 0
	}
	for _, msg := range transcript[start:] {
		marker := "봇"
		if msg.Role == models.RoleUser {
			marker = "사용자"
		}
		fmt.Fprintf(p.out, "[%s] %s\n", marker, msg.Text)
		if msg.SQL != "" {
			fmt.Fprintf(p.out, "  SQL> %s\n", msg.SQL)
		}
		if msg.Trace != nil && msg.Trace.Summary != nil {
			s := msg.Trace.Summary
			fmt.Fprintf(p.out, "  전처리 요약 — 도메인 용어: %d개, 절 분석: %d개, 추론 단계: %d단계\n",
				s.DomainTermsFound, s.ClausesCount, s.ReasoningSteps)
		}
	}
}

func (p *Presenter) renderSchema() {
	snap := p.meta.Schema()
	if snap == nil || len(snap.Tables) == 0 {
		fmt.Fprintln(p.out, "스키마 정보가 없습니다.")
		return
	}
	names := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(p.out, "── 데이터베이스 스키마 ──")
	for _, name := range names {
		table := snap.Tables[name]
		fmt.Fprintf(p.out, "%s — %s\n", name, table.Description)
		cols := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			info := table.Columns[col]
			fmt.Fprintf(p.out, "  %-24s %-12s %s\n", col, info.Type, info.Description)
		}
	}
}

func (p *Presenter) renderMetadataList() {
	docs := p.meta.Documents()
	if len(docs) == 0 {
		fmt.Fprintln(p.out, "업로드된 메타데이터 파일이 없습니다.")
		return
	}
	for _, doc := range docs {
		marker := " "
		if p.meta.IsActive(doc.Filename) {
			marker = "*" // apply disabled for the active document
		}
		fmt.Fprintf(p.out, "%s %s (%s)\n", marker, doc.Filename, doc.UploadDate)
	}
}

func (p *Presenter) renderRagFiles() {
	domain := p.know.SelectedDomain()
	fmt.Fprintf(p.out, "── %s ──\n", p.know.DomainLabel(domain))
	if msg := p.know.ErrorMessage(); msg != "" {
		fmt.Fprintln(p.out, msg)
	}
	if p.know.Loading() {
		fmt.Fprintln(p.out, "파일 목록을 불러오는 중...")
		return
	}
	files := p.know.Files()
	if len(files) == 0 {
		fmt.Fprintln(p.out, "업로드된 파일이 없습니다.")
		return
	}
	for _, f := range files {
		fmt.Fprintf(p.out, "%s  %s  %s\n", f.Filename, formatFileSize(f.Size), f.UploadDate)
	}
}

func (p *Presenter) renderStats(stats *knowledge.Stats) {
	if stats.Domain != nil {
		d := stats.Domain
		fmt.Fprintf(p.out, "도메인: %s\n총 청크 수: %d\n컬렉션: %s\n", d.Domain, d.TotalChunks, d.CollectionName)
		return
	}
	agg := stats.Aggregate
	fmt.Fprintf(p.out, "전체 청크 수: %d\n", agg.TotalChunks)
	domains := make([]string, 0, len(agg.DomainStats))
	for d := range agg.DomainStats {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprintf(p.out, "  %-20s %d\n", p.know.DomainLabel(models.Domain(d)), agg.DomainStats[d])
	}
}

func (p *Presenter) renderTrace(m traceview.DisplayModel) {
	fmt.Fprintln(p.out, "── 자연어 전처리 과정 ──")
	fmt.Fprintf(p.out, "원본 질문: %s\n", m.OriginalQuery)

	if p.renderSectionHeader(traceview.SectionNormalization, "텍스트 정규화", -1) {
		fmt.Fprintf(p.out, "  정규화된 질문: %s\n", m.Normalization.NormalizedQuery)
		fmt.Fprintf(p.out, "  도메인 매핑된 질문: %s\n", m.Normalization.MappedQuery)
	}

	if p.renderSectionHeader(traceview.SectionEntities, "엔티티 추출", m.Entities.Count) {
		for _, e := range m.Entities.DomainTerms {
			p.renderEntityLine(e)
		}
		for _, e := range m.Entities.NumericValues {
			p.renderEntityLine(e)
		}
		for _, t := range m.Entities.CustomerTypes {
			fmt.Fprintf(p.out, "  @ %s\n", t)
		}
	}

	if p.renderSectionHeader(traceview.SectionClauses, "절 분석", m.Clauses.Count) {
		for _, cl := range m.Clauses.Items {
			fmt.Fprintf(p.out, "  [%s] %s (%s)\n", cl.Type, cl.Content, cl.Confidence)
			if len(cl.Keywords) > 0 {
				fmt.Fprintf(p.out, "    키워드: %v\n", cl.Keywords)
			}
		}
	}

	if p.renderSectionHeader(traceview.SectionReasoning, "추론 과정", m.Reasoning.Count) {
		for i, step := range m.Reasoning.Steps {
			fmt.Fprintf(p.out, "  %d. %s\n", i+1, step)
		}
	}

	if p.renderSectionHeader(traceview.SectionSQLMappings, "SQL 패턴 매핑", m.SQLMappings.Count) {
		for _, mapping := range m.SQLMappings.Items {
			fmt.Fprintf(p.out, "  패턴: %s → %s\n", mapping.Pattern, mapping.Mapping)
		}
	}

	fmt.Fprintf(p.out, "전처리 통계 — 도메인 용어: %d, 절: %d, 추론 단계: %d, SQL 패턴: %d\n",
		m.Stats.DomainTerms, m.Stats.Clauses, m.Stats.ReasoningSteps, m.Stats.SQLPatterns)
}

// renderSectionHeader prints the header and reports whether the body
// should render. count < 0 means the header carries no count.
func (p *Presenter) renderSectionHeader(section traceview.Section, title string, count int) bool {
	arrow := "▸"
	if p.sections.Expanded(section) {
		arrow = "▾"
	}
	if count >= 0 {
		fmt.Fprintf(p.out, "%s %s (%d개)\n", arrow, title, count)
	} else {
		fmt.Fprintf(p.out, "%s %s\n", arrow, title)
	}
	return p.sections.Expanded(section)
}

func (p *Presenter) renderEntityLine(e traceview.EntityView) {
	fmt.Fprintf(p.out, "  %s %s", e.Symbol, e.Label)
	if e.Category != "" {
		fmt.Fprintf(p.out, " [%s]", e.Category)
	}
	if e.SQLMapping != "" {
		fmt.Fprintf(p.out, " SQL: %s", e.SQLMapping)
	}
	if e.Table != "" {
		fmt.Fprintf(p.out, " 테이블: %s", e.Table)
	}
	fmt.Fprintln(p.out)
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMG"[exp])
}

func domainOrAll(domain models.Domain) string {
	if domain == models.DomainAll {
		return "전체 도메인"
	}
	return string(domain)
}
