// Package orchestrator drives end-to-end document generation: it compiles
// the section index, generates one section at a time through the router,
// runs an optional best-effort cleanup pass, repairs known placeholder
// content, and validates the result (SPEC_FULL.md §4.14), ported from the
// teacher corpus's GeminiService.generate_document_content and the
// resilience pipeline it is wired behind in ai_service.py.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gicagen/resilience-core/internal/completeness"
	"github.com/gicagen/resilience-core/internal/metrics"
	"github.com/gicagen/resilience-core/internal/policy"
	"github.com/gicagen/resilience-core/internal/prompt"
	"github.com/gicagen/resilience-core/internal/providers"
	"github.com/gicagen/resilience-core/internal/retrypolicy"
	"github.com/gicagen/resilience-core/internal/router"
	"github.com/gicagen/resilience-core/internal/sectionindex"
	"github.com/gicagen/resilience-core/internal/selection"
	"github.com/gicagen/resilience-core/internal/trace"
	"github.com/gicagen/resilience-core/internal/validate"
)

// Outcome summarizes the final state of a generation run.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeCompletedWithIncidents Outcome = "completed_with_incidents"
	OutcomeFailed                Outcome = "failed"
)

// ErrCancelled is raised when the cancellation signal fires mid-run. It is
// the same value as router.ErrCancelled, so errors.Is matches either name.
var ErrCancelled = router.ErrCancelled

// Project is the minimal project shape the orchestrator needs.
type Project struct {
	ID        string
	Title     string
	Variables map[string]string
	TenantID  string
}

// Options configures one Generate call.
type Options struct {
	SelectionOverride   *selection.Selection
	ResumeSections      []validate.RawSection
	PromptTemplate      string
	FormatDefinition    any
	EnableCleanup       bool
	CleanupPromptTemplate string
	Model               string
	FallbackModel       string
}

// GenerateResult is what a generation run produces.
type GenerateResult struct {
	Sections []validate.Section
	Outcome  Outcome
	Incidents []router.Incident
}

// Orchestrator wires the router, provider selection store, metrics, and
// trace sink together to drive one generation run at a time (the run state
// itself is NOT process-wide: each Generate call owns its own incidents and
// partial-sections list).
type Orchestrator struct {
	Router            *router.Router
	Providers         map[string]providers.Provider
	Metrics           *metrics.Store
	Selection         *selection.Store
	Trace             trace.Sink
	ProviderOrder     []string
	InterSectionDelay time.Duration
	Now               func() time.Time
}

// New builds an Orchestrator, applying defaults for anything unset.
func New(o Orchestrator) *Orchestrator {
	if o.ProviderOrder == nil {
		o.ProviderOrder = []string{"gemini", "mistral", "openrouter"}
	}
	if o.InterSectionDelay <= 0 {
		o.InterSectionDelay = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Trace == nil {
		o.Trace = trace.NewMemorySink(nil)
	}
	orch := o
	return &orch
}

func (o *Orchestrator) emit(step string, status trace.Status, title, detail string, meta map[string]any) {
	o.Trace.Emit(trace.Event{Step: step, Status: status, Title: title, Detail: detail, Meta: meta, At: o.Now()})
}

// Generate runs the full pipeline for one project: resolve selection,
// render the base prompt, compile the section index, generate sections
// (resuming from opts.ResumeSections when given), run cleanup, repair
// placeholders, and validate.
func (o *Orchestrator) Generate(ctx context.Context, project Project, opts Options) (GenerateResult, error) {
	o.emit("ai.generate.start", trace.StatusRunning, "Starting generation", project.Title, nil)

	preferred, candidates, mode := o.resolveSelection(opts.SelectionOverride)

	basePrompt, missing := o.renderBasePrompt(opts.PromptTemplate, project)
	if len(missing) > 0 {
		o.emit("prompt.render", trace.StatusWarn, "Prompt final armado", "", map[string]any{"missingVariables": missing})
	} else {
		o.emit("prompt.render", trace.StatusDone, "Prompt final armado", "", nil)
	}

	descriptors := sectionindex.Compile(opts.FormatDefinition)
	if len(descriptors) == 0 {
		descriptors = []sectionindex.Descriptor{{
			SectionID: "sec-0001", Path: project.Title, Level: 1, Kind: "heading", Title: project.Title,
		}}
	}
	o.emit("format.section_index", trace.StatusDone, "Indice de secciones compilado", "", map[string]any{"count": len(descriptors)})

	seeded, remaining := seedFromResume(descriptors, opts.ResumeSections)

	var incidents []router.Incident
	sections := append([]validate.RawSection{}, seeded...)

	for i, d := range remaining {
		if err := ctx.Err(); err != nil {
			return GenerateResult{Sections: toValidateSections(sections), Incidents: incidents}, fmt.Errorf("orchestrator: %w", ErrCancelled)
		}

		if i > 0 || len(seeded) > 0 {
			if err := retrypolicy.Sleep(ctx, o.InterSectionDelay); err != nil {
				return GenerateResult{Sections: toValidateSections(sections), Incidents: incidents}, fmt.Errorf("orchestrator: %w", ErrCancelled)
			}
		}

		sectionPrompt, _ := prompt.BuildSectionPrompt(basePrompt, d.Path, d.SectionID, "", project.Variables)

		o.emit("ai.generate.section", trace.StatusRunning, "Generando seccion", d.Path, map[string]any{"sectionId": d.SectionID})

		res, err := o.Router.Call(ctx, router.Request{
			Phase:              policy.PhaseGenerateSection,
			Prompt:             sectionPrompt,
			SectionID:          d.SectionID,
			SectionPath:        d.Path,
			TenantID:           project.TenantID,
			PreferredProvider:  preferred,
			CandidateProviders: candidates,
			SelectionMode:      mode,
			Model:              opts.Model,
		}, map[string]bool{})
		incidents = append(incidents, res.Incidents...)

		if err != nil {
			o.emit("ai.generate.section", trace.StatusWarn, "Fallo generando seccion", err.Error(), map[string]any{"sectionId": d.SectionID})
			return GenerateResult{Sections: toValidateSections(sections), Incidents: incidents}, fmt.Errorf("orchestrator: section %s: %w", d.SectionID, err)
		}

		if res.Status == router.StatusDegraded {
			o.emit("ai.provider.degraded", trace.StatusWarn, "Contenido degradado localmente", "", map[string]any{"sectionId": d.SectionID})
		} else {
			o.emit("ai.generate.section", trace.StatusDone, "Seccion generada", "", map[string]any{"sectionId": d.SectionID, "provider": res.Provider})
		}

		sections = append(sections, validate.RawSection{SectionID: d.SectionID, Path: d.Path, Content: res.Content})
	}

	if opts.EnableCleanup && opts.CleanupPromptTemplate != "" {
		sections, incidents = o.runCleanup(ctx, sections, incidents, opts, preferred, candidates, mode, project)
	}

	var completenessWarnings []string
	for i, sec := range sections {
		issue := completeness.DetectPlaceholders([]completeness.Section{{SectionID: sec.SectionID, Path: sec.Path, Content: sec.Content}})
		if len(issue) == 0 {
			continue
		}
		if fixed := completeness.Autofill(sec.Path); fixed != "" {
			sections[i].Content = fixed
		} else {
			completenessWarnings = append(completenessWarnings, fmt.Sprintf("section %s still incomplete (%s)", sec.SectionID, issue[0].Type))
		}
	}
	if len(completenessWarnings) > 0 {
		o.emit("ai.completeness", trace.StatusWarn, "Secciones incompletas detectadas", strings.Join(completenessWarnings, "; "), nil)
	} else {
		o.emit("ai.completeness", trace.StatusDone, "Verificacion de completitud superada", "", nil)
	}

	result, err := validate.ValidateSections(sections)
	if err != nil {
		o.emit("ai.validation", trace.StatusWarn, "Validacion fallida", err.Error(), nil)
		return GenerateResult{Outcome: OutcomeFailed, Incidents: incidents}, fmt.Errorf("orchestrator: %w", err)
	}
	o.emit("ai.validation", trace.StatusDone, "Resultado validado", "", map[string]any{"sections": len(result.Sections)})

	outcome := OutcomeCompleted
	if hasWarningIncident(incidents) || len(result.Warnings) > 0 {
		outcome = OutcomeCompletedWithIncidents
	}
	o.emit("ai.generate.done", trace.StatusDone, "Generacion finalizada", string(outcome), nil)

	return GenerateResult{Sections: result.Sections, Outcome: outcome, Incidents: incidents}, nil
}

func hasWarningIncident(incidents []router.Incident) bool {
	for _, inc := range incidents {
		if inc.Severity == router.SeverityWarning || inc.Severity == router.SeverityError {
			return true
		}
	}
	return false
}

// resolveSelection applies override > persisted > defaults, and for auto
// mode picks the first usable fallback among the remaining known providers.
func (o *Orchestrator) resolveSelection(override *selection.Selection) (preferred string, candidates []string, mode router.SelectionMode) {
	sel := selection.Selection{Provider: "gemini", Mode: selection.Auto}
	if override != nil {
		sel = *override
	} else if persisted, ok, err := o.Selection.Load(); err == nil && ok {
		sel = persisted
	}

	mode = router.Auto
	if sel.Mode == selection.Fixed {
		mode = router.Fixed
	}
	preferred = sel.Provider

	if mode == router.Fixed {
		if sel.FallbackProvider != "" {
			candidates = []string{sel.FallbackProvider}
		}
		return preferred, candidates, mode
	}

	if sel.FallbackProvider != "" && o.isUsable(sel.FallbackProvider) {
		candidates = []string{sel.FallbackProvider}
		return preferred, candidates, mode
	}

	for _, name := range o.ProviderOrder {
		if name == preferred {
			continue
		}
		if o.isUsable(name) {
			candidates = []string{name}
			break
		}
	}
	return preferred, candidates, mode
}

// isUsable reports whether name is eligible as an auto-mode fallback: it
// must be configured, not currently unhealthy, and its last probe (if any)
// must not have reported EXHAUSTED or AUTH_ERROR.
func (o *Orchestrator) isUsable(name string) bool {
	p, ok := o.Providers[name]
	if !ok || !p.IsConfigured() {
		return false
	}
	snap := o.Metrics.PayloadForProvider(name, true)
	if snap.Health == metrics.Exhausted {
		return false
	}
	if snap.LastProbe != nil {
		switch providers.ProbeStatus(snap.LastProbe.Status) {
		case providers.ProbeExhausted, providers.ProbeAuthError:
			return false
		}
	}
	return true
}

func (o *Orchestrator) renderBasePrompt(template string, project Project) (string, []string) {
	if template == "" {
		return fmt.Sprintf("Documento: %s", project.Title), nil
	}
	result := prompt.Render(template, project.Variables)
	if strings.TrimSpace(result.Text) == "" {
		return fmt.Sprintf("Documento: %s", project.Title), result.Missing
	}
	return result.Text, result.Missing
}

// seedFromResume matches opts.ResumeSections against the compiled index by
// sectionId (falling back to path), accepting leading contiguous matches and
// discarding the first gap and everything after it.
func seedFromResume(descriptors []sectionindex.Descriptor, resume []validate.RawSection) (seeded []validate.RawSection, remaining []sectionindex.Descriptor) {
	if len(resume) == 0 {
		return nil, descriptors
	}

	byID := map[string]validate.RawSection{}
	byPath := map[string]validate.RawSection{}
	for _, r := range resume {
		if r.SectionID != "" {
			byID[r.SectionID] = r
		}
		if r.Path != "" {
			byPath[r.Path] = r
		}
	}

	i := 0
	for ; i < len(descriptors); i++ {
		d := descriptors[i]
		match, ok := byID[d.SectionID]
		if !ok {
			match, ok = byPath[d.Path]
		}
		if !ok {
			break
		}
		seeded = append(seeded, validate.RawSection{SectionID: d.SectionID, Path: d.Path, Content: match.Content})
	}

	return seeded, descriptors[i:]
}

func toValidateSections(raw []validate.RawSection) []validate.Section {
	out := make([]validate.Section, len(raw))
	for i, r := range raw {
		out[i] = validate.Section{SectionID: r.SectionID, Path: r.Path, Content: r.Content}
	}
	return out
}

// correctedSection is the shape returned by the cleanup-phase JSON repair.
type correctedSection struct {
	SectionID string `json:"sectionId"`
	Content   any    `json:"content"`
}

type correctedResult struct {
	Sections []correctedSection `json:"sections"`
}

// runCleanup builds a correction prompt over the drafted sections, calls the
// router with phase cleanup_correction, and merges any structured JSON reply
// back by sectionId. A degraded response or a failed JSON repair means "keep
// the original sections" rather than an error.
func (o *Orchestrator) runCleanup(ctx context.Context, sections []validate.RawSection, incidents []router.Incident, opts Options, preferred string, candidates []string, mode router.SelectionMode, project Project) ([]validate.RawSection, []router.Incident) {
	payload, err := json.Marshal(toValidateSections(sections))
	if err != nil {
		return sections, incidents
	}

	cleanupPrompt := opts.CleanupPromptTemplate + "\n\n" + string(payload)

	res, err := o.Router.Call(ctx, router.Request{
		Phase:             policy.PhaseCleanupCorrection,
		Prompt:            cleanupPrompt,
		Context:           string(payload),
		TenantID:          project.TenantID,
		PreferredProvider: preferred,
		CandidateProviders: candidates,
		SelectionMode:     mode,
		Model:             opts.FallbackModel,
	}, map[string]bool{})
	incidents = append(incidents, res.Incidents...)

	if err != nil {
		o.emit("ai.correction", trace.StatusWarn, "Correccion fallida, se conservan secciones originales", err.Error(), nil)
		return sections, incidents
	}
	if res.Status == router.StatusDegraded {
		o.emit("ai.correction", trace.StatusWarn, "Correccion degradada, se conservan secciones originales", "", nil)
		return sections, incidents
	}

	repaired, ok := repairJSON(res.Content)
	if !ok {
		o.emit("ai.correction", trace.StatusWarn, "No se pudo interpretar la correccion, se conservan secciones originales", "", nil)
		return sections, incidents
	}

	byID := map[string]int{}
	for i, s := range sections {
		byID[s.SectionID] = i
	}
	merged := append([]validate.RawSection{}, sections...)
	applied := 0
	for _, cs := range repaired.Sections {
		content, ok := cs.Content.(string)
		if !ok {
			continue
		}
		idx, ok := byID[cs.SectionID]
		if !ok {
			continue
		}
		merged[idx].Content = content
		applied++
	}

	o.emit("ai.correction", trace.StatusDone, "Correccion aplicada", "", map[string]any{"sectionsUpdated": applied})
	return merged, incidents
}

// repairJSON strips an optional fenced-code wrapper and, failing a direct
// parse, retries between the first "{" and the last "}".
func repairJSON(raw string) (correctedResult, bool) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out correctedResult
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return correctedResult{}, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return correctedResult{}, false
	}
	return out, true
}
