// Package traceview turns a preprocessing trace into a display model
// with independently collapsible sections.
//
// The trace payload is produced by an external pipeline and only
// loosely typed, so every leaf goes through SafeDisplay and every
// count comes from the pipeline's own summary. Rendering never fails
// on a missing or foreign-shaped field; it shows "N/A" instead.
package traceview

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/querytalk/querytalk/pkg/models"
)

// NotAvailable is the placeholder shown for missing leaf values.
const NotAvailable = "N/A"

// ── Sections ─────────────────────────────────────────────────

// Section identifies one collapsible part of the trace viewer.
type Section string

const (
	SectionNormalization Section = "normalization"
	SectionEntities      Section = "entities"
	SectionClauses       Section = "clauses"
	SectionReasoning     Section = "reasoning"
	SectionSQLMappings   Section = "sqlMappings"
)

// Sections lists the collapsible sections in display order.
var Sections = []Section{
	SectionNormalization,
	SectionEntities,
	SectionClauses,
	SectionReasoning,
	SectionSQLMappings,
}

// Flags tracks which sections are expanded. All sections default to
// expanded.
type Flags map[Section]bool

// NewFlags returns expand flags with every section expanded.
func NewFlags() Flags {
	f := make(Flags, len(Sections))
	for _, s := range Sections {
		f[s] = true
	}
	return f
}

// Toggle flips one section's expanded state.
func (f Flags) Toggle(s Section) {
	f[s] = !f[s]
}

// Expanded reports whether a section is expanded.
func (f Flags) Expanded(s Section) bool {
	return f[s]
}

// ── Display Model ────────────────────────────────────────────

type DisplayModel struct {
	OriginalQuery string
	Normalization NormalizationView
	Entities      EntitiesView
	Clauses       ClausesView
	Reasoning     ReasoningView
	SQLMappings   MappingsView
	Stats         StatsView
}

type NormalizationView struct {
	NormalizedQuery string
	MappedQuery     string
}

type EntitiesView struct {
	// Count is the pipeline's self-reported domain-term count, not
	// len(DomainTerms); a mismatch stays visible.
	Count         int
	DomainTerms   []EntityView
	NumericValues []EntityView
	CustomerTypes []string
}

type EntityView struct {
	Label      string
	Kind       string
	Symbol     string
	Category   string
	SQLMapping string
	Table      string
}

type ClausesView struct {
	Count int
	Items []ClauseView
}

type ClauseView struct {
	Type       string
	Content    string
	Confidence string
	Keywords   []string
}

type ReasoningView struct {
	Count int
	Steps []string
}

type MappingsView struct {
	Count int
	Items []MappingView
}

type MappingView struct {
	Pattern string
	Mapping string
}

type StatsView struct {
	DomainTerms    int
	Clauses        int
	ReasoningSteps int
	SQLPatterns    int
}

// ── Entity Classification ────────────────────────────────────

type entityKind struct {
	name   string
	symbol string
}

// entityKinds maps known entity types to display markers. The set is
// open: unknown or missing types get the generic marker rather than
// failing.
var entityKinds = map[string]entityKind{
	"credit_score":  {"credit_score", "#"},
	"customer_type": {"customer_type", "@"},
	"risk_level":    {"risk_level", "^"},
	"date_range":    {"date_range", "~"},
}

var genericKind = entityKind{"domain", "*"}

func classify(entityType string) entityKind {
	if k, ok := entityKinds[entityType]; ok {
		return k
	}
	return genericKind
}

// ── Rendering ────────────────────────────────────────────────

// Render transforms a trace into its display model. It is pure and
// total: a nil trace or any combination of missing fields yields a
// model full of placeholders, never a failure.
func Render(trace *models.PreprocessingTrace) DisplayModel {
	if trace == nil {
		return DisplayModel{OriginalQuery: NotAvailable}
	}

	m := DisplayModel{
		OriginalQuery: SafeDisplay(trace.OriginalQuery),
		Normalization: NormalizationView{
			NormalizedQuery: SafeDisplay(trace.NormalizedQuery),
			MappedQuery:     SafeDisplay(trace.MappedQuery),
		},
	}

	if trace.Entities != nil {
		for _, e := range trace.Entities.DomainTerms {
			m.Entities.DomainTerms = append(m.Entities.DomainTerms, renderEntity(e))
		}
		for _, e := range trace.Entities.NumericValues {
			m.Entities.NumericValues = append(m.Entities.NumericValues, renderEntity(e))
		}
		m.Entities.CustomerTypes = append(m.Entities.CustomerTypes, trace.Entities.CustomerTypes...)
	}

	for _, cl := range trace.Clauses {
		m.Clauses.Items = append(m.Clauses.Items, ClauseView{
			Type:       SafeDisplay(cl.Type),
			Content:    SafeDisplay(cl.Content),
			Confidence: FormatConfidence(cl.Confidence),
			Keywords:   cl.Keywords,
		})
	}

	for _, step := range trace.ReasoningChain {
		m.Reasoning.Steps = append(m.Reasoning.Steps, SafeDisplay(step))
	}

	patterns := make([]string, 0, len(trace.SQLMappings))
	for p := range trace.SQLMappings {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		m.SQLMappings.Items = append(m.SQLMappings.Items, MappingView{
			Pattern: p,
			Mapping: SafeDisplay(trace.SQLMappings[p]),
		})
	}

	// Header counts are the pipeline's own statistics, defaulting to
	// 0 when absent. They are not recomputed from the arrays.
	if s := trace.Summary; s != nil {
		m.Entities.Count = s.DomainTermsFound
		m.Clauses.Count = s.ClausesCount
		m.Reasoning.Count = s.ReasoningSteps
		m.SQLMappings.Count = s.SQLPatternsMapped
		m.Stats = StatsView{
			DomainTerms:    s.DomainTermsFound,
			Clauses:        s.ClausesCount,
			ReasoningSteps: s.ReasoningSteps,
			SQLPatterns:    s.SQLPatternsMapped,
		}
	}

	return m
}

func renderEntity(e models.Entity) EntityView {
	kind := classify(e.Type)
	return EntityView{
		// Empty when both term and value are absent; preserved as-is.
		Label:      e.Label(),
		Kind:       kind.name,
		Symbol:     kind.symbol,
		Category:   e.Category,
		SQLMapping: e.SQLMapping,
		Table:      e.Table,
	}
}

// FormatConfidence renders a clause confidence as a rounded percentage
// when it is a finite number, else "N/A". NaN and infinities never
// reach the displayed string.
func FormatConfidence(confidence *float64) string {
	if confidence == nil {
		return NotAvailable
	}
	v := *confidence
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NotAvailable
	}
	return fmt.Sprintf("%d%%", int(math.Round(v*100)))
}

// SafeDisplay renders any leaf value defensively: nil becomes "N/A",
// object- or array-shaped values become an indented structural dump,
// everything else its plain string form.
func SafeDisplay(v any) string {
	switch t := v.(type) {
	case nil:
		return NotAvailable
	case string:
		return t
	case *string:
		if t == nil {
			return NotAvailable
		}
		return *t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NotAvailable
		}
		return SafeDisplay(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		dump, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(dump)
	}
	return fmt.Sprint(v)
}
